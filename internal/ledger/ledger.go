package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountNotFound is returned when a posting references an unknown account code.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// StatusCompleted represents a settled posting.
	StatusCompleted = "completed"
	// GenesisAccountCode is the only account allowed to run negative; native funds
	// enter the ledger through it.
	GenesisAccountCode = "genesis:native"
	// KindMint tags postings issued from the genesis account.
	KindMint = "mint"
)

// TransactionResult captures the outcome of a ledger posting.
type TransactionResult struct {
	TransactionID string
	FromBalance   decimal.Decimal
	ToBalance     decimal.Decimal
}

// Posting is one side of a settled transaction as seen from a single account.
// Amount is positive when the account was credited.
type Posting struct {
	TransactionID string
	ClientTxID    string
	Kind          string
	Counterparty  string
	Amount        decimal.Decimal
}

// Ledger defines the contract implemented by ledger backends (e.g. Postgres).
// Amounts are native-asset quantities.
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount decimal.Decimal) (TransactionResult, error)
	Mint(ctx context.Context, toCode, clientTxID string, amount decimal.Decimal) (TransactionResult, error)
	// Postings lists the account's postings, oldest first.
	Postings(ctx context.Context, code string) ([]Posting, error)
}

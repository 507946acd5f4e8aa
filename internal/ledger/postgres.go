package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresLedger persists ledger entries in PostgreSQL ensuring double-entry balance.
// Amounts are stored in NUMERIC columns and exchanged as text to keep full precision.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureAccount guarantees an account exists for the provided code.
func (l *PostgresLedger) EnsureAccount(ctx context.Context, code string) error {
	_, err := l.db.Exec(ctx, `INSERT INTO accounts (id, code) VALUES ($1, $2)
        ON CONFLICT (code) DO NOTHING`, uuid.New(), code)
	return err
}

// Balance returns the summed balance for the specified account code.
func (l *PostgresLedger) Balance(ctx context.Context, code string) (decimal.Decimal, error) {
	const query = `
        SELECT a.id
        FROM accounts a
        WHERE a.code = $1`
	var id uuid.UUID
	if err := l.db.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return decimal.Zero, err
	}
	return sumEntries(ctx, l.db, id)
}

// Transfer records a balanced posting between two accounts.
func (l *PostgresLedger) Transfer(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount decimal.Decimal) (TransactionResult, error) {
	return l.post(ctx, fromCode, toCode, kind, clientTxID, amount)
}

// Mint credits the account from the genesis account, which is allowed to go negative.
func (l *PostgresLedger) Mint(ctx context.Context, toCode, clientTxID string, amount decimal.Decimal) (TransactionResult, error) {
	return l.post(ctx, GenesisAccountCode, toCode, KindMint, clientTxID, amount)
}

func (l *PostgresLedger) post(ctx context.Context, fromCode, toCode, kind, clientTxID string, amount decimal.Decimal) (TransactionResult, error) {
	if !amount.IsPositive() {
		return TransactionResult{}, ErrInvalidAmount
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return TransactionResult{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	accountIDs := make(map[string]uuid.UUID, 2)
	for _, code := range lockOrder(fromCode, toCode) {
		id, err := accountIDForCode(ctx, tx, code)
		if err != nil {
			return TransactionResult{}, err
		}
		accountIDs[code] = id
	}
	fromAccountID, toAccountID := accountIDs[fromCode], accountIDs[toCode]

	const existingTxQuery = `SELECT id FROM transactions WHERE client_tx_id = $1 AND kind = $2`
	var existingTxID uuid.UUID
	if err := tx.QueryRow(ctx, existingTxQuery, clientTxID, kind).Scan(&existingTxID); err == nil {
		fromBal, err := sumEntries(ctx, tx, fromAccountID)
		if err != nil {
			return TransactionResult{}, err
		}
		toBal, err := sumEntries(ctx, tx, toAccountID)
		if err != nil {
			return TransactionResult{}, err
		}
		return TransactionResult{TransactionID: existingTxID.String(), FromBalance: fromBal, ToBalance: toBal}, ErrDuplicateTransaction
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return TransactionResult{}, err
	}

	fromBalance, err := sumEntries(ctx, tx, fromAccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	if fromCode != GenesisAccountCode && fromBalance.LessThan(amount) {
		return TransactionResult{}, ErrInsufficientFunds
	}

	txID := uuid.New()
	if _, err := tx.Exec(ctx, `INSERT INTO transactions (id, client_tx_id, kind, status) VALUES ($1, $2, $3, $4)`, txID, clientTxID, kind, StatusCompleted); err != nil {
		return TransactionResult{}, err
	}

	const entryInsert = `INSERT INTO entries (id, transaction_id, account_id, amount) VALUES ($1, $2, $3, $4::numeric)`
	if _, err := tx.Exec(ctx, entryInsert, uuid.New(), txID, fromAccountID, amount.Neg().String()); err != nil {
		return TransactionResult{}, err
	}
	if _, err := tx.Exec(ctx, entryInsert, uuid.New(), txID, toAccountID, amount.String()); err != nil {
		return TransactionResult{}, err
	}

	fromBal, err := sumEntries(ctx, tx, fromAccountID)
	if err != nil {
		return TransactionResult{}, err
	}
	toBal, err := sumEntries(ctx, tx, toAccountID)
	if err != nil {
		return TransactionResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return TransactionResult{}, err
	}

	return TransactionResult{TransactionID: txID.String(), FromBalance: fromBal, ToBalance: toBal}, nil
}

// lockOrder returns the account codes in the order their rows are locked.
// Every posting locks in code order so opposite transfers cannot deadlock.
func lockOrder(fromCode, toCode string) []string {
	if fromCode == toCode {
		return []string{fromCode}
	}
	codes := []string{fromCode, toCode}
	slices.Sort(codes)
	return codes
}

// Postings lists the account's postings in commit order with the opposite leg
// of each transaction as counterparty.
func (l *PostgresLedger) Postings(ctx context.Context, code string) ([]Posting, error) {
	const query = `
        SELECT t.id::text, t.client_tx_id, t.kind, oa.code, e.amount::text
        FROM entries e
        JOIN accounts a ON a.id = e.account_id
        JOIN transactions t ON t.id = e.transaction_id
        JOIN entries o ON o.transaction_id = e.transaction_id AND o.id <> e.id
        JOIN accounts oa ON oa.id = o.account_id
        WHERE a.code = $1
        ORDER BY t.seq`
	rows, err := l.db.Query(ctx, query, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Posting
	for rows.Next() {
		var (
			p   Posting
			raw string
		)
		if err := rows.Scan(&p.TransactionID, &p.ClientTxID, &p.Kind, &p.Counterparty, &raw); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(raw); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func accountIDForCode(ctx context.Context, tx pgx.Tx, code string) (uuid.UUID, error) {
	const query = `SELECT id FROM accounts WHERE code = $1 FOR UPDATE`
	var id uuid.UUID
	if err := tx.QueryRow(ctx, query, code).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return uuid.Nil, err
	}
	return id, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumEntries(ctx context.Context, q queryRower, accountID uuid.UUID) (decimal.Decimal, error) {
	const query = `SELECT COALESCE(SUM(amount), 0)::text FROM entries WHERE account_id = $1`
	var raw string
	if err := q.QueryRow(ctx, query, accountID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

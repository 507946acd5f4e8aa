package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/crowdfund"
	"github.com/congo-pay/crowdfund/internal/ledger"
	"github.com/congo-pay/crowdfund/internal/logging"
	"github.com/congo-pay/crowdfund/internal/notification"
	"github.com/congo-pay/crowdfund/internal/wallet"
)

const (
	// EscrowAccountCode holds collected contributions until the owner withdraws.
	EscrowAccountCode = "escrow:crowdfund"

	kindContribution = "contribution"
	kindWithdrawal   = "withdrawal"
	kindReversal     = "withdrawal_reversal"
)

// ErrEscrowMismatch is returned when the escrow balance cannot be explained
// by its postings.
var ErrEscrowMismatch = errors.New("escrow does not match contribution postings")

// Recipient is code that runs when a disbursement lands in a wallet. Returning
// an error rejects the funds and the disbursement is reversed.
type Recipient interface {
	Receive(ctx context.Context, to crowdfund.Identity, amount decimal.Decimal) error
}

// Treasury moves contribution funds between identity wallets and the escrow
// account. It implements crowdfund.Treasury and crowdfund.Notifier.
type Treasury struct {
	ledger    ledger.Ledger
	wallets   *wallet.Service
	notifier  notification.Notifier
	recipient Recipient
	logger    *slog.Logger
}

// TreasuryOption customises a Treasury.
type TreasuryOption func(*Treasury)

// WithRecipient installs code invoked on every disbursement, the way a
// receiving contract runs when funds reach it.
func WithRecipient(r Recipient) TreasuryOption {
	return func(t *Treasury) { t.recipient = r }
}

// NewTreasury prepares a treasury, ensuring the escrow account exists.
func NewTreasury(ctx context.Context, ledgerBackend ledger.Ledger, wallets *wallet.Service, notifier notification.Notifier, logger *slog.Logger, opts ...TreasuryOption) (*Treasury, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if err := ledgerBackend.EnsureAccount(ctx, EscrowAccountCode); err != nil {
		return nil, err
	}
	t := &Treasury{
		ledger:   ledgerBackend,
		wallets:  wallets,
		notifier: notifier,
		logger:   logging.Component(logger, "treasury"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Escrow returns the current escrow balance.
func (t *Treasury) Escrow(ctx context.Context) (decimal.Decimal, error) {
	return t.ledger.Balance(ctx, EscrowAccountCode)
}

// Collect moves amount from the contributor's wallet into escrow and returns
// the posting's transaction id.
func (t *Treasury) Collect(ctx context.Context, from crowdfund.Identity, amount decimal.Decimal) (string, error) {
	w, err := t.wallets.GetByOwner(ctx, string(from))
	if err != nil {
		return "", fmt.Errorf("contributor wallet: %w", err)
	}
	res, err := t.ledger.Transfer(ctx, w.AccountCode, EscrowAccountCode, kindContribution, uuid.NewString(), amount)
	if err != nil {
		return "", err
	}
	return res.TransactionID, nil
}

// ContributionSettled notifies the contributor once the ledger has recorded
// their contribution.
func (t *Treasury) ContributionSettled(ctx context.Context, from crowdfund.Identity, amount decimal.Decimal, reference string) {
	t.notify(ctx, notification.Message{
		Kind:        notification.KindContributionReceived,
		Destination: string(from),
		Body:        fmt.Sprintf("contribution of %s received (tx %s)", amount, reference),
	})
}

// Disburse moves amount from escrow into the recipient's wallet, then runs the
// recipient hook. A rejected hook reverses the posting.
func (t *Treasury) Disburse(ctx context.Context, to crowdfund.Identity, amount decimal.Decimal) error {
	w, err := t.wallets.GetByOwner(ctx, string(to))
	if err != nil {
		return fmt.Errorf("owner wallet: %w", err)
	}
	clientTxID := uuid.NewString()
	res, err := t.ledger.Transfer(ctx, EscrowAccountCode, w.AccountCode, kindWithdrawal, clientTxID, amount)
	if err != nil {
		return err
	}

	if t.recipient != nil {
		if err := t.recipient.Receive(ctx, to, amount); err != nil {
			if _, revErr := t.ledger.Transfer(ctx, w.AccountCode, EscrowAccountCode, kindReversal, clientTxID, amount); revErr != nil {
				t.logger.Error("disbursement reversal failed",
					slog.String("transaction_id", res.TransactionID),
					slog.Any("error", revErr),
				)
				return fmt.Errorf("recipient rejected funds: %v; reversal failed: %w", err, revErr)
			}
			return fmt.Errorf("recipient rejected funds: %w", err)
		}
	}

	t.notify(ctx, notification.Message{
		Kind:        notification.KindWithdrawalCompleted,
		Destination: string(to),
		Body:        fmt.Sprintf("withdrawal of %s completed (tx %s)", amount, res.TransactionID),
	})
	return nil
}

// Holdings rebuilds the contribution records backing the escrow balance from
// its postings: contributions since the last settled withdrawal, with reversed
// withdrawals merged back the way a failed payout restores them. It fails with
// ErrEscrowMismatch when the records do not add up to the escrow balance.
func (t *Treasury) Holdings(ctx context.Context) ([]crowdfund.Contribution, error) {
	postings, err := t.ledger.Postings(ctx, EscrowAccountCode)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]crowdfund.Identity)
	var (
		open    records
		paidOut = make(map[string]records)
	)
	for _, p := range postings {
		switch p.Kind {
		case kindContribution:
			id, ok := owners[p.Counterparty]
			if !ok {
				w, err := t.wallets.GetByAccountCode(ctx, p.Counterparty)
				if err != nil {
					return nil, fmt.Errorf("contribution %s: %w", p.TransactionID, err)
				}
				id = crowdfund.Identity(w.OwnerID)
				owners[p.Counterparty] = id
			}
			open.add(id, p.Amount)
		case kindWithdrawal:
			paidOut[p.ClientTxID] = open
			open = records{}
		case kindReversal:
			staged, ok := paidOut[p.ClientTxID]
			if !ok {
				return nil, fmt.Errorf("%w: reversal %s has no withdrawal", ErrEscrowMismatch, p.TransactionID)
			}
			delete(paidOut, p.ClientTxID)
			open = staged.merge(open)
		}
	}

	escrow, err := t.Escrow(ctx)
	if err != nil {
		return nil, err
	}
	if total := open.total(); !total.Equal(escrow) {
		return nil, fmt.Errorf("%w: escrow holds %s, postings account for %s", ErrEscrowMismatch, escrow, total)
	}
	return open.list(), nil
}

func (t *Treasury) notify(ctx context.Context, msg notification.Message) {
	if t.notifier == nil {
		return
	}
	if err := t.notifier.Send(ctx, msg); err != nil {
		t.logger.Warn("notification failed", slog.String("kind", msg.Kind), slog.Any("error", err))
	}
}

// Package funding moves native funds between cards and wallets. Card top-ups
// are how contributors put funds in a wallet before contributing.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/ledger"
	"github.com/congo-pay/crowdfund/internal/logging"
	"github.com/congo-pay/crowdfund/internal/wallet"
)

const (
	// CardSettlementAccountCode collects card payouts until the acquirer settles them.
	CardSettlementAccountCode = "card:settlement"

	kindCardOut    = "card_out"
	cardInTxPrefix = "card-in:"
	statusApproved = "approved"
)

// ErrNotWalletOwner is returned when the caller moves funds for someone else's wallet.
var ErrNotWalletOwner = errors.New("wallet belongs to another identity")

// Service coordinates card top-ups and payouts using the ledger and an acquirer.
type Service struct {
	ledger         ledger.Ledger
	wallets        *wallet.Service
	acquirer       Acquirer
	nativeDecimals int32
	logger         *slog.Logger
}

// NewService prepares a funding service, ensuring the card settlement account exists.
func NewService(ctx context.Context, ledgerBackend ledger.Ledger, wallets *wallet.Service, acquirer Acquirer, nativeDecimals int32, logger *slog.Logger) (*Service, error) {
	if wallets == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if acquirer == nil {
		acquirer = StaticAcquirer{}
	}
	if err := ledgerBackend.EnsureAccount(ctx, CardSettlementAccountCode); err != nil {
		return nil, err
	}
	return &Service{
		ledger:         ledgerBackend,
		wallets:        wallets,
		acquirer:       acquirer,
		nativeDecimals: nativeDecimals,
		logger:         logging.Component(logger, "funding"),
	}, nil
}

// CardInInput captures a card top-up request.
type CardInInput struct {
	WalletID   string
	OwnerID    string
	Amount     decimal.Decimal
	ClientTxID string
	CardNumber string
	Expiry     string
	CVV        string
}

// CardOutInput captures a payout to a card.
type CardOutInput struct {
	WalletID   string
	OwnerID    string
	Amount     decimal.Decimal
	ClientTxID string
	CardNumber string
}

// Result is the outcome of a card operation.
type Result struct {
	TransactionID     string
	Status            string
	WalletBalance     decimal.Decimal
	AcquirerReference string
	CompletedAt       time.Time
}

// CardIn authorizes the card and mints the amount into the wallet. Replaying a
// ClientTxID returns the original posting with ledger.ErrDuplicateTransaction.
func (s *Service) CardIn(ctx context.Context, input CardInInput) (Result, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return Result{}, err
	}
	if err := s.validateAmount(input.Amount); err != nil {
		return Result{}, err
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}
	w, err := s.ownedWallet(ctx, input.WalletID, input.OwnerID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.acquirer.AuthorizeCardIn(ctx, CardInAuthorization{
		CardNumber: input.CardNumber,
		Expiry:     input.Expiry,
		CVV:        input.CVV,
		Amount:     input.Amount,
	})
	if err != nil {
		return Result{}, err
	}

	res, err := s.ledger.Mint(ctx, w.AccountCode, cardInTxPrefix+input.ClientTxID, input.Amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Result{}, err
	}
	if err == nil {
		s.logger.Info("card top-up posted",
			slog.String("wallet_id", w.ID),
			slog.String("amount", input.Amount.String()),
			slog.String("acquirer_reference", decision.Reference),
		)
	}
	return s.result(res, decision), err
}

// CardOut authorizes a payout and moves the amount from the wallet to the card
// settlement account.
func (s *Service) CardOut(ctx context.Context, input CardOutInput) (Result, error) {
	if err := validateCardNumber(input.CardNumber); err != nil {
		return Result{}, err
	}
	if err := s.validateAmount(input.Amount); err != nil {
		return Result{}, err
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}
	w, err := s.ownedWallet(ctx, input.WalletID, input.OwnerID)
	if err != nil {
		return Result{}, err
	}

	decision, err := s.acquirer.AuthorizeCardOut(ctx, CardOutAuthorization{
		CardNumber: input.CardNumber,
		Amount:     input.Amount,
	})
	if err != nil {
		return Result{}, err
	}

	res, err := s.ledger.Transfer(ctx, w.AccountCode, CardSettlementAccountCode, kindCardOut, input.ClientTxID, input.Amount)
	if err != nil && !errors.Is(err, ledger.ErrDuplicateTransaction) {
		return Result{}, err
	}
	// the wallet is the debited side of a card payout
	res.ToBalance = res.FromBalance
	return s.result(res, decision), err
}

func (s *Service) ownedWallet(ctx context.Context, walletID, ownerID string) (wallet.Wallet, error) {
	w, err := s.wallets.Get(ctx, walletID)
	if err != nil {
		return wallet.Wallet{}, err
	}
	if ownerID != "" && w.OwnerID != ownerID {
		return wallet.Wallet{}, ErrNotWalletOwner
	}
	return w, nil
}

func (s *Service) validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if s.nativeDecimals > 0 && !amount.Equal(amount.Truncate(s.nativeDecimals)) {
		return fmt.Errorf("amount has more than %d decimals", s.nativeDecimals)
	}
	return nil
}

func (s *Service) result(res ledger.TransactionResult, decision AuthorizationDecision) Result {
	return Result{
		TransactionID:     res.TransactionID,
		Status:            decision.Status,
		WalletBalance:     res.ToBalance,
		AcquirerReference: decision.Reference,
		CompletedAt:       time.Now().UTC(),
	}
}

func validateCardNumber(card string) error {
	digits := strings.ReplaceAll(card, " ", "")
	if len(digits) < 12 || len(digits) > 19 {
		return fmt.Errorf("card number must be between 12 and 19 digits")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return fmt.Errorf("card number must be numeric")
		}
	}
	return nil
}

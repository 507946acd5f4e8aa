package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/ledger"
)

const (
	statusActive      = "active"
	defaultCurrency   = "ETH"
	accountCodePrefix = "wallet:"
)

// Service exposes wallet operations backed by the ledger.
type Service struct {
	repo   Repository
	ledger ledger.Ledger
}

// NewService builds a wallet service instance.
func NewService(repo Repository, ledger ledger.Ledger) *Service {
	return &Service{repo: repo, ledger: ledger}
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	OwnerID  string
	Currency string
}

// Create provisions a wallet and associated ledger account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	walletID := uuid.New().String()
	accountCode := accountCodePrefix + walletID

	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return Wallet{}, err
	}

	if err := s.ledger.EnsureAccount(ctx, accountCode); err != nil {
		return Wallet{}, err
	}

	currency := input.Currency
	if currency == "" {
		currency = defaultCurrency
	}

	wallet := Wallet{
		ID:          walletID,
		OwnerID:     input.OwnerID,
		AccountCode: accountCode,
		Currency:    currency,
		Status:      statusActive,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// Get retrieves wallet metadata.
func (s *Service) Get(ctx context.Context, id string) (Wallet, error) {
	return s.repo.Get(ctx, id)
}

// GetByOwner retrieves the wallet of an identity.
func (s *Service) GetByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return s.repo.GetByOwner(ctx, ownerID)
}

// GetByAccountCode resolves the wallet behind a ledger account code.
func (s *Service) GetByAccountCode(ctx context.Context, code string) (Wallet, error) {
	id, ok := strings.CutPrefix(code, accountCodePrefix)
	if !ok {
		return Wallet{}, fmt.Errorf("%w: %s is not a wallet account", ErrNotFound, code)
	}
	return s.repo.Get(ctx, id)
}

// Balance returns the ledger balance for the wallet.
func (s *Service) Balance(ctx context.Context, id string) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	amount, err := s.ledger.Balance(ctx, wallet.AccountCode)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: wallet.ID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// Faucet mints native funds into a wallet. Only wired in development.
func (s *Service) Faucet(ctx context.Context, id, clientTxID string, amount decimal.Decimal) (Balance, error) {
	wallet, err := s.repo.Get(ctx, id)
	if err != nil {
		return Balance{}, err
	}
	if clientTxID == "" {
		clientTxID = uuid.NewString()
	}
	res, err := s.ledger.Mint(ctx, wallet.AccountCode, clientTxID, amount)
	if err != nil {
		return Balance{WalletID: wallet.ID, Amount: res.ToBalance, AsOf: time.Now().UTC()}, err
	}
	return Balance{WalletID: wallet.ID, Amount: res.ToBalance, AsOf: time.Now().UTC()}, nil
}

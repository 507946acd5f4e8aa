package funding

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/ledger"
	"github.com/congo-pay/crowdfund/internal/logging"
	"github.com/congo-pay/crowdfund/internal/wallet"
)

type decliningAcquirer struct{ StaticAcquirer }

func (decliningAcquirer) AuthorizeCardIn(context.Context, CardInAuthorization) (AuthorizationDecision, error) {
	return AuthorizationDecision{}, ErrDeclined
}

func newTestService(t *testing.T, acquirer Acquirer) (*Service, ledger.Ledger, wallet.Wallet) {
	t.Helper()
	ctx := context.Background()
	ledgerBackend := ledger.NewInMemory()
	walletSvc := wallet.NewService(wallet.NewMemoryRepository(), ledgerBackend)

	walletRec, err := walletSvc.Create(ctx, wallet.CreateInput{OwnerID: uuid.NewString()})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	service, err := NewService(ctx, ledgerBackend, walletSvc, acquirer, 18, logging.Discard())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, ledgerBackend, walletRec
}

func TestServiceCardIn(t *testing.T) {
	ctx := context.Background()
	service, _, walletRec := newTestService(t, StaticAcquirer{})

	input := CardInInput{
		WalletID:   walletRec.ID,
		OwnerID:    walletRec.OwnerID,
		Amount:     decimal.RequireFromString("1.25"),
		CardNumber: "4111 1111 1111 1111",
		Expiry:     "12/29",
		CVV:        "123",
		ClientTxID: "dup",
	}
	res, err := service.CardIn(ctx, input)
	if err != nil {
		t.Fatalf("card in: %v", err)
	}
	if res.Status != statusApproved || res.AcquirerReference == "" {
		t.Fatalf("unexpected decision %+v", res)
	}
	if !res.WalletBalance.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("expected balance 1.25, got %s", res.WalletBalance)
	}

	replay, err := service.CardIn(ctx, input)
	if !errors.Is(err, ledger.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if replay.TransactionID != res.TransactionID || !replay.WalletBalance.Equal(res.WalletBalance) {
		t.Fatalf("replay must return the original posting, got %+v", replay)
	}
}

func TestServiceCardInRejections(t *testing.T) {
	ctx := context.Background()
	service, led, walletRec := newTestService(t, StaticAcquirer{})
	base := CardInInput{WalletID: walletRec.ID, OwnerID: walletRec.OwnerID, Amount: decimal.NewFromInt(1), CardNumber: "4111111111111111"}

	cases := []struct {
		name   string
		mutate func(*CardInInput)
		want   error
	}{
		{"short card", func(in *CardInInput) { in.CardNumber = "4111" }, nil},
		{"letters in card", func(in *CardInInput) { in.CardNumber = "4111abcd11111111" }, nil},
		{"zero amount", func(in *CardInInput) { in.Amount = decimal.Zero }, nil},
		{"below native scale", func(in *CardInInput) { in.Amount = decimal.RequireFromString("0.0000000000000000001") }, nil},
		{"someone else's wallet", func(in *CardInInput) { in.OwnerID = uuid.NewString() }, ErrNotWalletOwner},
		{"unknown wallet", func(in *CardInInput) { in.WalletID = uuid.NewString() }, wallet.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := base
			tc.mutate(&input)
			_, err := service.CardIn(ctx, input)
			if err == nil {
				t.Fatal("expected card in to be rejected")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	bal, err := led.Balance(ctx, walletRec.AccountCode)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !bal.IsZero() {
		t.Fatalf("rejected top-ups credited the wallet: %s", bal)
	}
}

func TestServiceCardInDeclined(t *testing.T) {
	service, _, walletRec := newTestService(t, decliningAcquirer{})
	_, err := service.CardIn(context.Background(), CardInInput{
		WalletID:   walletRec.ID,
		Amount:     decimal.NewFromInt(1),
		CardNumber: "4111111111111111",
	})
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("expected declined, got %v", err)
	}
}

func TestServiceCardOut(t *testing.T) {
	ctx := context.Background()
	service, led, walletRec := newTestService(t, StaticAcquirer{})
	ledger.SeedBalance(led, walletRec.AccountCode, decimal.NewFromInt(5))

	res, err := service.CardOut(ctx, CardOutInput{
		WalletID:   walletRec.ID,
		OwnerID:    walletRec.OwnerID,
		Amount:     decimal.NewFromInt(2),
		CardNumber: "4111111111111111",
	})
	if err != nil {
		t.Fatalf("card out: %v", err)
	}
	if !res.WalletBalance.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected balance 3, got %s", res.WalletBalance)
	}
	settled, _ := led.Balance(ctx, CardSettlementAccountCode)
	if !settled.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected 2 awaiting settlement, got %s", settled)
	}

	_, err = service.CardOut(ctx, CardOutInput{
		WalletID:   walletRec.ID,
		Amount:     decimal.NewFromInt(10),
		CardNumber: "4111111111111111",
		ClientTxID: "excess",
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

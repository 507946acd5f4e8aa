package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet represents a native-asset account backed by the ledger.
type Wallet struct {
	ID          string
	OwnerID     string
	AccountCode string
	Currency    string
	Status      string
	CreatedAt   time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	WalletID string
	Amount   decimal.Decimal
	AsOf     time.Time
}

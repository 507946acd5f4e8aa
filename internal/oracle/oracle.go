// Package oracle provides native/USD price sources for the crowdfund ledger.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned when a feed reports a non-positive answer.
var ErrInvalidPrice = errors.New("invalid price answer")

// Price is a fixed-point exchange rate: Answer / 10^Decimals USD per native unit.
type Price struct {
	Answer    decimal.Decimal `json:"answer"`
	Decimals  uint8           `json:"decimals"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// USD returns the rate as a plain decimal.
func (p Price) USD() decimal.Decimal {
	return p.Answer.Shift(-int32(p.Decimals))
}

// Validate rejects answers the ledger cannot convert with.
func (p Price) Validate() error {
	if !p.Answer.IsPositive() {
		return ErrInvalidPrice
	}
	return nil
}

// Feed is implemented by every price source in this package.
type Feed interface {
	LatestPrice(ctx context.Context) (Price, error)
	Address() string
}

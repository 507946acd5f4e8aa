package crowdfund

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/crowdfund/internal/oracle"
)

// ToUSD converts a native amount with the given price: amount * answer / 10^decimals.
// decimal keeps arbitrary precision so neither overflow nor truncation can occur.
func ToUSD(amount decimal.Decimal, price oracle.Price) decimal.Decimal {
	return amount.Mul(price.Answer).Shift(-int32(price.Decimals))
}

// MinimumNative returns the smallest amount at the given scale whose USD value meets minimumUSD.
func MinimumNative(minimumUSD decimal.Decimal, price oracle.Price, nativeDecimals int32) decimal.Decimal {
	rate := price.USD()
	if !rate.IsPositive() {
		return decimal.Zero
	}
	// DivRound may land just under the threshold; round up at the native scale.
	return minimumUSD.DivRound(rate, nativeDecimals+8).RoundCeil(nativeDecimals)
}

func representable(amount decimal.Decimal, nativeDecimals int32) bool {
	return amount.Equal(amount.Truncate(nativeDecimals))
}

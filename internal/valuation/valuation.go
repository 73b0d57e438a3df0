package valuation

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// FiatAmount is a USD or display-currency figure. Available=false means the
// token has no known USD price; that is data, not an error, and callers must
// render it as "price unavailable" instead of zero.
type FiatAmount struct {
	Value     float64
	Available bool
}

// Unavailable is the sentinel returned whenever a USD price is unknown.
var Unavailable = FiatAmount{}

// Fiat wraps a known fiat value.
func Fiat(v float64) FiatAmount {
	return FiatAmount{Value: v, Available: true}
}

// ToDisplayAmount formats a base-unit amount as a decimal string, truncated
// (never rounded) to maxPlaces decimal places so balances are never overstated.
// A negative maxPlaces keeps full precision.
func ToDisplayAmount(baseAmount *big.Int, decimals uint8, maxPlaces int32) string {
	if baseAmount == nil {
		return "0"
	}
	d := decimal.NewFromBigInt(baseAmount, -int32(decimals))
	if maxPlaces >= 0 {
		d = d.Truncate(maxPlaces)
	}
	return d.String()
}

// BaseAmountToUSD converts a base-unit amount to USD. usdPrice is the price of
// one whole token; nil means the price feed has no quote for the token.
func BaseAmountToUSD(baseAmount *big.Int, usdPrice *decimal.Decimal, decimals uint8) FiatAmount {
	if baseAmount == nil || usdPrice == nil {
		return Unavailable
	}
	// Resolve the integer division through decimal before going to float so
	// large balances do not lose precision.
	amount := decimal.NewFromBigInt(baseAmount, -int32(decimals))
	return Fiat(amount.Mul(*usdPrice).InexactFloat64())
}

// BaseAmountToCurrency converts a base-unit amount to the account's display
// currency via a USD->currency exchange rate.
func BaseAmountToCurrency(baseAmount *big.Int, usdPrice *decimal.Decimal, decimals uint8, usdToCurrencyRate decimal.Decimal) FiatAmount {
	if baseAmount == nil || usdPrice == nil {
		return Unavailable
	}
	amount := decimal.NewFromBigInt(baseAmount, -int32(decimals))
	return Fiat(amount.Mul(*usdPrice).Mul(usdToCurrencyRate).InexactFloat64())
}

// CurrencyToBaseAmount is the inverse of BaseAmountToCurrency: given an amount
// the user typed in their display currency, compute the equivalent token amount
// in base units, truncated toward zero. Returns ok=false when the price is
// unknown or the price/rate is zero.
func CurrencyToBaseAmount(currencyAmount float64, usdPrice *decimal.Decimal, decimals uint8, usdToCurrencyRate decimal.Decimal) (*big.Int, bool) {
	if usdPrice == nil || usdPrice.IsZero() || usdToCurrencyRate.IsZero() {
		return nil, false
	}
	pricePerToken := usdPrice.Mul(usdToCurrencyRate)
	tokens := decimal.NewFromFloat(currencyAmount).Div(pricePerToken)
	base := tokens.Shift(int32(decimals)).Truncate(0)
	return base.BigInt(), true
}

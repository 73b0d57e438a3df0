package valuation

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestToDisplayAmount(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		decimals  uint8
		maxPlaces int32
		want      string
	}{
		{"truncates instead of rounding", "1234567", 6, 2, "1.23"},
		{"truncates away high remainder", "1999999", 6, 2, "1.99"},
		{"full precision when negative", "1234567", 6, -1, "1.234567"},
		{"zero", "0", 18, 2, "0"},
		{"large 18 decimal balance", "123456789012345678901", 18, 4, "123.4567"},
		{"zero places", "1999999", 6, 0, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, ok := new(big.Int).SetString(tt.base, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, ToDisplayAmount(base, tt.decimals, tt.maxPlaces))
		})
	}

	assert.Equal(t, "0", ToDisplayAmount(nil, 18, 2))
}

func TestBaseAmountToUSD(t *testing.T) {
	// 1.5 tokens at $2 = $3
	got := BaseAmountToUSD(big.NewInt(1_500_000), price("2"), 6)
	require.True(t, got.Available)
	assert.InDelta(t, 3.0, got.Value, 1e-9)

	// nil price is unavailable, never zero
	got = BaseAmountToUSD(big.NewInt(1_500_000), nil, 6)
	assert.False(t, got.Available)

	got = BaseAmountToUSD(nil, price("2"), 6)
	assert.False(t, got.Available)
}

func TestBaseAmountToUSDLargeBalance(t *testing.T) {
	// 10^24 base units with 18 decimals = 1,000,000 tokens; float64 handles the
	// final figure but must not be fed the raw base amount.
	base, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)
	got := BaseAmountToUSD(base, price("1.25"), 18)
	require.True(t, got.Available)
	assert.InDelta(t, 1_250_000.0, got.Value, 1e-3)
}

func TestBaseAmountToCurrency(t *testing.T) {
	rate := decimal.RequireFromString("0.9")

	got := BaseAmountToCurrency(big.NewInt(2_000_000), price("3"), 6, rate)
	require.True(t, got.Available)
	assert.InDelta(t, 5.4, got.Value, 1e-9)

	assert.False(t, BaseAmountToCurrency(big.NewInt(1), nil, 6, rate).Available)
}

func TestCurrencyToBaseAmount(t *testing.T) {
	rate := decimal.RequireFromString("0.9")

	base, ok := CurrencyToBaseAmount(5.4, price("3"), 6, rate)
	require.True(t, ok)
	assert.Equal(t, int64(2_000_000), base.Int64())

	_, ok = CurrencyToBaseAmount(5.4, nil, 6, rate)
	assert.False(t, ok)

	_, ok = CurrencyToBaseAmount(5.4, price("0"), 6, rate)
	assert.False(t, ok)

	_, ok = CurrencyToBaseAmount(5.4, price("3"), 6, decimal.Zero)
	assert.False(t, ok)
}

func TestCurrencyRoundTrip(t *testing.T) {
	rate := decimal.RequireFromString("1.1")
	p := price("1.337")

	for _, raw := range []int64{1, 999, 123456, 1_000_000, 987_654_321} {
		x := big.NewInt(raw)
		fiat := BaseAmountToCurrency(x, p, 6, rate)
		require.True(t, fiat.Available)

		back, ok := CurrencyToBaseAmount(fiat.Value, p, 6, rate)
		require.True(t, ok)

		diff := new(big.Int).Sub(x, back)
		diff.Abs(diff)
		// Within one base unit of truncation error.
		assert.LessOrEqual(t, diff.Int64(), int64(1), "round trip of %d drifted by %s", raw, diff)
	}
}

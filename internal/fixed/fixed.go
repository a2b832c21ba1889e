// Package fixed holds the fixed-point conventions shared by the engine.
//
// USD values are integers scaled by 10^30 ("E30"), rates by 10^18 and
// fractions by basis points. Collateral token amounts keep each token's
// native decimals. All values are cosmossdk.io/math Ints: 256-bit signed
// integers that panic on overflow. Division truncates toward zero.
package fixed

import (
	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

const (
	// USDDecimals is the exponent of the E30 scale.
	USDDecimals = 30
	// RateDecimals is the exponent of borrowing and funding rates.
	RateDecimals = 18
	// BPSDenom is 100% in basis points.
	BPSDenom = 10_000
)

var (
	// E30 is 1 USD.
	E30 = sdkmath.NewIntWithDecimal(1, USDDecimals)

	// RatePrecision is a rate of 1.0.
	RatePrecision = sdkmath.NewIntWithDecimal(1, RateDecimals)

	// BPS is 100% in basis points.
	BPS = sdkmath.NewInt(BPSDenom)

	// MaxMagnitude bounds sizes and prices accepted from callers (1e15 USD).
	// Products of two such values stay well below 2^256.
	MaxMagnitude = sdkmath.NewIntWithDecimal(1, 45)
)

// Zero returns a fresh zero Int.
func Zero() sdkmath.Int { return sdkmath.ZeroInt() }

// USD scales a whole dollar amount to E30.
func USD(v int64) sdkmath.Int { return sdkmath.NewInt(v).Mul(E30) }

// MulDiv returns a*b/c truncated toward zero.
func MulDiv(a, b, c sdkmath.Int) sdkmath.Int {
	return a.Mul(b).Quo(c)
}

// ApplyBPS returns v*bps/BPS.
func ApplyBPS(v sdkmath.Int, bps uint32) sdkmath.Int {
	return v.Mul(sdkmath.NewIntFromUint64(uint64(bps))).Quo(BPS)
}

// Abs returns |v|.
func Abs(v sdkmath.Int) sdkmath.Int { return v.Abs() }

// Min returns the smaller of a and b.
func Min(a, b sdkmath.Int) sdkmath.Int { return sdkmath.MinInt(a, b) }

// Max returns the larger of a and b.
func Max(a, b sdkmath.Int) sdkmath.Int { return sdkmath.MaxInt(a, b) }

// InRange reports whether |v| <= MaxMagnitude.
func InRange(v sdkmath.Int) bool {
	return v.Abs().LTE(MaxMagnitude)
}

// Pow10 returns 10^n.
func Pow10(n uint8) sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(n))
}

// TokenToE30 converts a token amount with the given decimals into USD E30
// at priceE30 per whole token.
func TokenToE30(amount sdkmath.Int, decimals uint8, priceE30 sdkmath.Int) sdkmath.Int {
	return amount.Mul(priceE30).Quo(Pow10(decimals))
}

// E30ToToken converts a USD E30 value into token units at priceE30 per whole
// token. A zero price converts to zero.
func E30ToToken(valueE30 sdkmath.Int, decimals uint8, priceE30 sdkmath.Int) sdkmath.Int {
	if priceE30.IsZero() {
		return sdkmath.ZeroInt()
	}
	return valueE30.Mul(Pow10(decimals)).Quo(priceE30)
}

// ToDecimal renders a scaled integer as a decimal with exp fractional digits.
func ToDecimal(v sdkmath.Int, exp int32) decimal.Decimal {
	return decimal.NewFromBigInt(v.BigInt(), -exp)
}

// FromDecimal scales a decimal by 10^exp, truncating any remaining fraction.
func FromDecimal(d decimal.Decimal, exp int32) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(d.Shift(exp).Truncate(0).BigInt())
}

// ParseE30 parses a human USD amount such as "1500.25" into E30.
func ParseE30(s string) (sdkmath.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return FromDecimal(d, USDDecimals), nil
}

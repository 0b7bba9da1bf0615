// internal/money/fixedpoint.go
package money

import (
	"math/big"
	"sync"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int   // Number of decimal places
	Scale            int64 // 10^DecimalPrecision
}

var (
	AmountConfig = DecimalConfig{DecimalPrecision: 2, Scale: 100}         // 0.01 (one cent)
	RateConfig   = DecimalConfig{DecimalPrecision: 8, Scale: 100_000_000} // 0.00000001
)

type RoundingMode int

const (
	RoundDown     RoundingMode = iota // Truncate toward zero (default for money owed to the bank)
	RoundHalfEven                     // Banker's rounding
	RoundUp
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// DivideInt128 performs numerator / denominator with rounding.
// Only non-negative numerators are expected; amounts and rates are never negative.
func DivideInt128(numerator *big.Int, denominator int64, roundingMode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)

	result := quotient.Int64()

	switch roundingMode {
	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)

		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 {
			if result%2 != 0 {
				result++
			}
		}
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}

// ApplyRate computes amount * rate at amount precision.
// amount is in AmountConfig scale, rate in RateConfig scale.
func ApplyRate(amount int64, rate int64, mode RoundingMode) int64 {
	product := MultiplyInt128(amount, rate)
	result := DivideInt128(product, RateConfig.Scale, mode)
	putInt128(product)
	return result
}

// ApplyRatio computes amount * rate / divisor in one step so the
// intermediate never loses precision (e.g. annual rate over 365 days).
func ApplyRatio(amount int64, rate int64, divisor int64, mode RoundingMode) int64 {
	product := MultiplyInt128(amount, rate)
	result := DivideInt128(product, RateConfig.Scale*divisor, mode)
	putInt128(product)
	return result
}

package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNegative       = errors.New("money: negative value")
	ErrTooPrecise     = errors.New("money: too many decimal places")
	ErrInvalidDecimal = errors.New("money: invalid decimal")
	ErrOutOfRange     = errors.New("money: value out of range")
)

var (
	minScaled = decimal.NewFromInt(math.MinInt64)
	maxScaled = decimal.NewFromInt(math.MaxInt64)
)

// scaledInt64 returns d shifted by places as an int64, refusing fractions
// left after the shift and values int64 cannot hold.
func scaledInt64(d decimal.Decimal, places int32) (int64, error) {
	scaled := d.Shift(places)
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrTooPrecise, d.String())
	}
	if scaled.LessThan(minScaled) || scaled.GreaterThan(maxScaled) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return scaled.IntPart(), nil
}

// Amount is a currency amount in minor units (cents).
type Amount int64

// Rate is a non-negative fraction in RateConfig scale (1.0 == 100_000_000).
type Rate int64

const (
	Zero    Amount = 0
	OneCent Amount = 1
)

// FromMajor converts whole currency units, e.g. FromMajor(1000) == 1000.00.
func FromMajor(units int64) Amount {
	return Amount(units * AmountConfig.Scale)
}

// ParseAmount parses a decimal string such as "12.34".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return AmountFromDecimal(d)
}

// AmountFromDecimal converts a decimal with at most two fractional digits.
func AmountFromDecimal(d decimal.Decimal) (Amount, error) {
	v, err := scaledInt64(d, int32(AmountConfig.DecimalPrecision))
	if err != nil {
		return 0, err
	}
	return Amount(v), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -int32(AmountConfig.DecimalPrecision))
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(int32(AmountConfig.DecimalPrecision))
}

func (a Amount) IsPositive() bool { return a > 0 }

// MulRate returns a * r at cent precision.
func (a Amount) MulRate(r Rate, mode RoundingMode) Amount {
	return Amount(ApplyRate(int64(a), int64(r), mode))
}

// MarshalJSON encodes the amount as a bare JSON number in major units.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalText and UnmarshalText let config files carry amounts as decimals.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(text []byte) error {
	v, err := ParseAmount(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// ParseRate parses a decimal fraction such as "0.05".
func ParseRate(s string) (Rate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimal, s)
	}
	return RateFromDecimal(d)
}

func RateFromDecimal(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	v, err := scaledInt64(d, int32(RateConfig.DecimalPrecision))
	if err != nil {
		return 0, err
	}
	return Rate(v), nil
}

// MustRate is for constants and tests.
func MustRate(s string) Rate {
	r, err := ParseRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Rate) Decimal() decimal.Decimal {
	return decimal.New(int64(r), -int32(RateConfig.DecimalPrecision))
}

func (r Rate) String() string {
	return r.Decimal().String()
}

func (r Rate) MarshalJSON() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Rate) UnmarshalText(text []byte) error {
	v, err := ParseRate(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (r *Rate) UnmarshalJSON(data []byte) error {
	v, err := ParseRate(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

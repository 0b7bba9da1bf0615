package money_test

import (
	"encoding/json"
	"math"
	"testing"

	"SimBank/internal/money"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	a, err := money.ParseAmount("12.34")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1234), a)

	a, err = money.ParseAmount("1000")
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(1000), a)

	_, err = money.ParseAmount("0.001")
	assert.ErrorIs(t, err, money.ErrTooPrecise)

	_, err = money.ParseAmount("abc")
	assert.ErrorIs(t, err, money.ErrInvalidDecimal)
}

func TestParseAmount_Int64Bounds(t *testing.T) {
	a, err := money.ParseAmount("92233720368547758.07")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(math.MaxInt64), a)

	a, err = money.ParseAmount("-92233720368547758.08")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(math.MinInt64), a)

	for _, s := range []string{"92233720368547758.08", "-92233720368547758.09", "184467440737095517.16"} {
		_, err := money.ParseAmount(s)
		assert.ErrorIs(t, err, money.ErrOutOfRange, s)
	}

	var body struct {
		Amount money.Amount `json:"amount"`
	}
	err = json.Unmarshal([]byte(`{"amount": 92233720368547758.08}`), &body)
	assert.ErrorIs(t, err, money.ErrOutOfRange)
	assert.Equal(t, money.Zero, body.Amount)
}

func TestAmountJSON(t *testing.T) {
	var body struct {
		Amount money.Amount `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 15.5}`), &body))
	assert.Equal(t, money.Amount(1550), body.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": "7.25"}`), &body))
	assert.Equal(t, money.Amount(725), body.Amount)

	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 7.25}`, string(out))
}

func TestMulRate_RoundsDown(t *testing.T) {
	outstanding := money.FromMajor(2000)

	assert.Equal(t, money.FromMajor(200), outstanding.MulRate(money.MustRate("0.10"), money.RoundDown))
	assert.Equal(t, money.FromMajor(100), outstanding.MulRate(money.MustRate("0.05"), money.RoundDown))

	// 0.07 * 0.10 = 0.007 -> 0.00
	assert.Equal(t, money.Zero, money.Amount(7).MulRate(money.MustRate("0.10"), money.RoundDown))
	assert.Equal(t, money.OneCent, money.Amount(7).MulRate(money.MustRate("0.10"), money.RoundUp))
}

func TestApplyRatio_DailyInterest(t *testing.T) {
	// 10,000.00 at 36.5% a year is exactly 10.00 a day.
	got := money.ApplyRatio(int64(money.FromMajor(10_000)), int64(money.MustRate("0.365")), 365, money.RoundDown)
	assert.Equal(t, int64(money.FromMajor(10)), got)
}

func TestDivideInt128_HalfEven(t *testing.T) {
	n := money.MultiplyInt128(25, 1)
	assert.Equal(t, int64(2), money.DivideInt128(n, 10, money.RoundHalfEven))

	n = money.MultiplyInt128(35, 1)
	assert.Equal(t, int64(4), money.DivideInt128(n, 10, money.RoundHalfEven))
}

func TestParseRate(t *testing.T) {
	r, err := money.ParseRate("0.05")
	require.NoError(t, err)
	assert.Equal(t, money.Rate(5_000_000), r)
	assert.Equal(t, "0.05", r.String())

	_, err = money.ParseRate("-0.1")
	assert.ErrorIs(t, err, money.ErrNegative)

	r, err = money.ParseRate("92233720368.54775807")
	require.NoError(t, err)
	assert.Equal(t, money.Rate(math.MaxInt64), r)

	_, err = money.ParseRate("92233720368.54775808")
	assert.ErrorIs(t, err, money.ErrOutOfRange)
}

package fixed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMulRatioFloors(t *testing.T) {
	got, err := MulRatio(d("10"), d("1"), d("3"))
	require.NoError(t, err)
	assert.True(t, got.Equal(d("3")), got.String())

	half := d("500000000000000000")
	got, err = MulRatio(d("101"), half, One)
	require.NoError(t, err)
	assert.True(t, got.Equal(d("50")), got.String())
}

func TestMulRatioLargeOperands(t *testing.T) {
	got, err := MulRatio(MaxAmount, One, One)
	require.NoError(t, err)
	assert.True(t, got.Equal(MaxAmount))

	_, err = MulRatio(MaxAmount, d("2"), d("1"))
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestMulRatioZeroDenominator(t *testing.T) {
	_, err := MulRatio(d("1"), d("1"), decimal.Zero)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestSubUnderflow(t *testing.T) {
	got, err := Sub(d("5"), d("5"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = Sub(d("5"), d("6"))
	assert.ErrorIs(t, err, ErrUnderflow)
	assert.True(t, SaturatingSub(d("5"), d("6")).IsZero())
}

func TestAddOverflow(t *testing.T) {
	_, err := Add(MaxAmount, d("1"))
	assert.ErrorIs(t, err, ErrOverflow)

	total, err := Sum(d("1"), d("2"), d("3"))
	require.NoError(t, err)
	assert.True(t, total.Equal(d("6")))
}

func TestParse(t *testing.T) {
	v, err := Parse("1000000000000000000")
	require.NoError(t, err)
	assert.True(t, v.Equal(One))

	for _, in := range []string{"-1", "1.5", "abc"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
	_, err = Parse("340282366920938463463374607431768211456")
	assert.ErrorIs(t, err, ErrOverflow)
}

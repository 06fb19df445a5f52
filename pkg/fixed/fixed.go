// Package fixed implements the bounded integer arithmetic used for token amounts.
//
// Amounts are non-negative integers no larger than 2^128-1. Ratios are expressed
// with a 10^18 denominator (see One).
package fixed

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrOverflow is returned when a result exceeds MaxAmount.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("arithmetic underflow")
	// ErrDivisionByZero is returned by MulRatio for a zero denominator.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrInvalidAmount is returned by Parse and Validate for negative or fractional values.
	ErrInvalidAmount = errors.New("invalid amount")
)

// One is the ratio denominator, 10^18.
var One = decimal.New(1, 18)

// MaxAmount is 2^128-1.
var MaxAmount = decimal.RequireFromString("340282366920938463463374607431768211455")

// Validate checks that d is a non-negative integer within MaxAmount.
func Validate(d decimal.Decimal) error {
	if d.IsNegative() || !d.IsInteger() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	if d.GreaterThan(MaxAmount) {
		return ErrOverflow
	}
	return nil
}

// Parse reads a base-10 integer amount.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Add returns a+b, or ErrOverflow.
func Add(a, b decimal.Decimal) (decimal.Decimal, error) {
	sum := a.Add(b)
	if sum.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b, or ErrUnderflow when b > a.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.GreaterThan(a) {
		return decimal.Zero, ErrUnderflow
	}
	return a.Sub(b), nil
}

// SaturatingSub returns max(a-b, 0).
func SaturatingSub(a, b decimal.Decimal) decimal.Decimal {
	if b.GreaterThan(a) {
		return decimal.Zero
	}
	return a.Sub(b)
}

// MulRatio returns floor(a*num/den).
//
// The intermediate product is exact, so only the final quotient is bounded.
func MulRatio(a, num, den decimal.Decimal) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.Mul(num).QuoRem(den, 0)
	if q.GreaterThan(MaxAmount) {
		return decimal.Zero, ErrOverflow
	}
	return q, nil
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Sum adds every value, stopping at the first overflow.
func Sum(values ...decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		var err error
		if total, err = Add(total, v); err != nil {
			return decimal.Zero, err
		}
	}
	return total, nil
}

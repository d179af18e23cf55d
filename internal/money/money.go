package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the canonical zero amount.
var Zero = decimal.Zero

var hundred = decimal.NewFromInt(100)

// Round normalises a monetary value to two decimal places using
// round-half-up. Every computed field is rounded exactly once; callers
// must not round intermediates that feed other computed fields.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns base * pct / 100, rounded to two decimal places.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(pct).Div(hundred))
}

// Parse converts a fixed-point string ("1234.50") into a decimal.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for literals in tests and seeds.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsNegative reports whether the amount is below zero.
func IsNegative(d decimal.Decimal) bool {
	return d.IsNegative()
}

// Equal compares two amounts to the cent.
func Equal(a, b decimal.Decimal) bool {
	return Round(a).Equal(Round(b))
}

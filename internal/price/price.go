// Package price holds the exact decimal helpers shared by the order book
// engine. Prices, sizes and cumulative totals never pass through float64.
package price

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// percentPlaces is the number of fractional digits kept for depth and spread
// percentages.
const percentPlaces = 8

var hundred = decimal.NewFromInt(100)

// Parse reads a feed price or size. Empty strings are rejected so a missing
// field is never mistaken for zero.
func Parse(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("parse decimal: empty value")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) decimal.Decimal {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ValidTick reports whether tick can be used as a grouping size.
func ValidTick(tick decimal.Decimal) bool {
	return tick.IsPositive()
}

// FloorToTick returns the largest multiple of tick that is <= p.
func FloorToTick(p, tick decimal.Decimal) decimal.Decimal {
	q, r := p.QuoRem(tick, 0)
	if r.IsNegative() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.Mul(tick)
}

// CeilToTick returns the smallest multiple of tick that is >= p.
func CeilToTick(p, tick decimal.Decimal) decimal.Decimal {
	q, r := p.QuoRem(tick, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.Mul(tick)
}

// Percent returns part/whole*100. A zero whole yields zero instead of a
// division error.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, percentPlaces)
}

// Key returns a canonical string for d, suitable as a map key. Two decimals
// that compare equal produce the same key regardless of their exponent.
func Key(d decimal.Decimal) string {
	return d.String()
}

package common

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentOf returns part/whole in percent rounded to two places, capped at 100.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	pct := part.Mul(hundred).DivRound(whole, 2)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

// Remaining returns limit-used, never negative.
func Remaining(limit, used decimal.Decimal) decimal.Decimal {
	left := limit.Sub(used)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

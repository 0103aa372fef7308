// Package types provides common type aliases and utilities.
package types

import (
	"github.com/shopspring/decimal"
)

// Money represents a monetary value with full precision.
// Uses decimal.Decimal to avoid floating-point errors.
type Money = decimal.Decimal

// Ledger amounts are persisted with this many fractional digits.
const MoneyPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// Round rounds m to the ledger precision.
func Round(m Money) Money {
	return m.Round(MoneyPlaces)
}

// LineBase is quantity * unitPrice - discount, rounded to ledger precision.
func LineBase(quantity, unitPrice, discount decimal.Decimal) Money {
	return Round(quantity.Mul(unitPrice).Sub(discount))
}

// PercentOf returns base * rate / 100 rounded to ledger precision.
func PercentOf(base Money, rate decimal.Decimal) Money {
	return Round(base.Mul(rate).Div(hundred))
}

// Sum adds all values.
func Sum(values ...Money) Money {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

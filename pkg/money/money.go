// Package money holds the fixed-point helpers used for invoice amounts.
// Amounts are decimal.Decimal at currency precision; minor units (cents)
// exist only at the gateway boundary.
package money

import (
	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept for amounts.
const Precision int32 = 2

// Round rounds d half away from zero to currency precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// ToMinorUnits converts an amount to integer minor units.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(Precision).Round(0).IntPart()
}

// CeilMinorUnits converts an amount to minor units rounding up any fraction.
func CeilMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(Precision).Ceil().IntPart()
}

// FromMinorUnits converts integer minor units back to an amount.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -Precision)
}

// PlatformFee is ceil(amount × rate) expressed in minor units.
func PlatformFee(amount, rate decimal.Decimal) int64 {
	if !amount.IsPositive() || !rate.IsPositive() {
		return 0
	}
	return CeilMinorUnits(amount.Mul(rate))
}

// Sum adds amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

package types

import (
	"github.com/shopspring/decimal"
)

// Weight is a roll or production weight. Decimal arithmetic keeps sums of
// many roll weights exact; the unit is whatever the intake recorded
// (kilograms throughout this module's examples).
type Weight = decimal.Decimal

// ZeroWeight is the zero weight.
var ZeroWeight = decimal.Zero

// Kg builds a Weight from a float, as entered on intake forms.
func Kg(v float64) Weight { return decimal.NewFromFloat(v) }

// KgInt builds a Weight from a whole number.
func KgInt(v int64) Weight { return decimal.NewFromInt(v) }

// ParseWeight parses a decimal string such as "12.750".
func ParseWeight(s string) (Weight, error) { return decimal.NewFromString(s) }

// SumWeights adds weights exactly.
func SumWeights(ws ...Weight) Weight {
	total := decimal.Zero
	for _, w := range ws {
		total = total.Add(w)
	}
	return total
}

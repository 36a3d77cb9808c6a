package utils

import (
	"math"
)

// RoundCurrency rounds a monetary amount to 2 decimal places.
func RoundCurrency(v float64) float64 {
	return math.Round(v*100) / 100
}

// ToCents converts a monetary amount to integer cents for processors that
// bill in minor units.
func ToCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

package payproc

import "math"

// The processor sends every monetary amount as an integer in the smallest
// currency unit. The division by 100 happens here and nowhere else.

// MinorToDecimal converts minor units (cents) to a decimal currency amount.
func MinorToDecimal(minor int64) float64 {
	return float64(minor) / 100
}

// DecimalToMinor converts a decimal currency amount to minor units, rounding
// half away from zero.
func DecimalToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

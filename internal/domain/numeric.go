package domain

import "math"

// Finite returns x, or 0 when x is NaN or infinite.
func Finite(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return x
}

// SafeDiv returns a/b, or 0 when b is zero or the result is not finite.
func SafeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return Finite(a / b)
}

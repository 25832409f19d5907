package stats

import "math"

// PValue carries a p-value together with how it was computed, so
// downstream consumers cannot mistake the closed-form approximation for
// an exact permutation p-value.
type PValue struct {
	Value float64

	// Approximate is true for values derived from the normal-CDF
	// closed form below. Exact permutation p-values would carry false.
	Approximate bool
}

// ApproxPValue converts a bootstrap difference result into a two-sided
// p-value via the z-score |estimate|/stderr and a normal-CDF
// approximation. This is an approximation, not an exact p-value.
//
// By convention a zero standard error yields exactly 1 (estimate zero,
// no comparison possible) or 0 (nonzero estimate with no spread).
func ApproxPValue(r Result) PValue {
	if r.StdError == 0 {
		if r.Estimate == 0 {
			return PValue{Value: 1, Approximate: true}
		}
		return PValue{Value: 0, Approximate: true}
	}
	z := math.Abs(r.Estimate) / r.StdError
	return PValue{Value: 2 * (1 - NormalCDF(z)), Approximate: true}
}

// NormalCDF approximates the standard normal cumulative distribution
// function using Abramowitz and Stegun formula 7.1.26.
func NormalCDF(x float64) float64 {
	a1 := 0.254829592
	a2 := -0.284496736
	a3 := 1.421413741
	a4 := -1.453152027
	a5 := 1.061405429
	p := 0.3275911

	sign := 1.0
	if x < 0 {
		sign = -1.0
	}
	x = math.Abs(x) / math.Sqrt2

	t := 1.0 / (1.0 + p*x)
	y := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x)

	return 0.5 * (1.0 + sign*y)
}

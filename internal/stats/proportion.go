package stats

import "math"

// WilsonInterval is the Wilson score confidence interval for a binomial
// proportion. More accurate than the normal approximation at the small
// counts a freshly launched variant has.
func WilsonInterval(successes, trials int, confidence float64) (lower, upper float64) {
	if trials == 0 {
		return 0, 0
	}

	z := zScore(confidence)
	p := float64(successes) / float64(trials)
	n := float64(trials)

	denominator := 1 + z*z/n
	center := (p + z*z/(2*n)) / denominator
	spread := (z / denominator) * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))

	lower = math.Max(center-spread, 0)
	upper = math.Min(center+spread, 1)
	return lower, upper
}

// ProportionTest compares an observed success count against an expected
// proportion with a one-sample z-test and returns the two-sided
// approximate p-value. Guardrail sample-ratio checks run this per
// variant against the configured split.
func ProportionTest(observed, trials int, expected float64) PValue {
	if trials == 0 {
		return PValue{Value: 1, Approximate: true}
	}
	se := math.Sqrt(expected * (1 - expected) / float64(trials))
	if se == 0 {
		p := float64(observed) / float64(trials)
		if p == expected {
			return PValue{Value: 1, Approximate: true}
		}
		return PValue{Value: 0, Approximate: true}
	}
	z := (float64(observed)/float64(trials) - expected) / se
	return PValue{Value: 2 * (1 - NormalCDF(math.Abs(z))), Approximate: true}
}

func zScore(confidence float64) float64 {
	switch {
	case confidence >= 0.99:
		return 2.576
	case confidence >= 0.95:
		return 1.96
	case confidence >= 0.90:
		return 1.645
	case confidence >= 0.85:
		return 1.44
	default:
		return 1.28
	}
}

package scheduler

import "math"

// RateMode selects the inter-arrival interval generator for rate mode
// (spec.md §4.3).
type RateMode string

const (
	RateModeConstant RateMode = "constant"
	RateModePoisson  RateMode = "poisson"
)

// nextInterval returns the next inter-arrival interval in seconds.
// constant = 1/rate; poisson = -ln(U)/rate with U uniform in (0,1].
func nextInterval(mode RateMode, rate float64, rng interface{ Float64() float64 }) float64 {
	if rate <= 0 {
		return 0
	}
	switch mode {
	case RateModePoisson:
		u := rng.Float64()
		if u <= 0 {
			u = math.SmallestNonzeroFloat64
		}
		return -math.Log(u) / rate
	default:
		return 1.0 / rate
	}
}

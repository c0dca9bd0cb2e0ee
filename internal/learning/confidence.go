package learning

import "math"

// Confidence maps success, failure and confirmation counts to [0, 0.99].
//
// base is the success ratio; each confirmed success adds 0.1 and each success
// beyond the first adds 0.05, capped at 0.2.
func Confidence(successes, failures, confirmed int) float64 {
	if successes <= 0 {
		return 0
	}
	if failures < 0 {
		failures = 0
	}
	if confirmed < 0 {
		confirmed = 0
	}
	base := float64(successes) / float64(successes+failures)
	confirmation := 0.1 * float64(confirmed)
	repetition := math.Min(0.2, 0.05*float64(successes-1))
	return math.Min(0.99, base+confirmation+repetition)
}

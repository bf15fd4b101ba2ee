package engine

import (
	"math"
	"math/rand/v2"
)

// Jitter returns an interval drawn uniformly from
// [intervalMs*(1-p), intervalMs*(1+p)] with p = percent/100, floored.
// percent is clamped to 0..100.
func Jitter(intervalMs, percent int, rng *rand.Rand) int {
	if percent <= 0 || intervalMs <= 0 {
		return intervalMs
	}
	if percent > 100 {
		percent = 100
	}

	p := float64(percent) / 100
	lo := float64(intervalMs) * (1 - p)
	hi := float64(intervalMs) * (1 + p)

	return int(math.Floor(lo + rng.Float64()*(hi-lo)))
}

package queue

import (
	"math"
	"time"
)

// backoffDelay computes the delay before retry number retryCount (0-based):
// base * multiplier^retryCount, capped at max. The cap keeps sustained
// failure from growing the wait without bound.
func backoffDelay(base time.Duration, multiplier float64, retryCount int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(base) * math.Pow(multiplier, float64(retryCount))
	if max > 0 && delay > float64(max) {
		return max
	}
	if delay > float64(math.MaxInt64) {
		return max
	}
	return time.Duration(delay)
}

package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackOff builds the exponential schedule of p, bounded by ctx
// cancellation and p.MaxAttempts. A zero MaxElapsedTime never expires.
func newBackOff(p Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
}

// NextDelay is the un-jittered delay after the given attempt.
func NextDelay(p Policy, attempt int) time.Duration {
	d := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxInterval > 0 && d > float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(d)
}

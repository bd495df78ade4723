package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectBackoff waits exactly initial before the first retry, then
// doubles up to max. There is no jitter: a broker reconnect never happens
// sooner than the configured delay.
func ReconnectBackoff(initial, max time.Duration) backoff.BackOff {
	if max < initial {
		max = initial
	}
	return exponential(initial, max, 2.0, 0, 0)
}

// exponential sets every field before Reset so the first NextBackOff
// already uses initial.
func exponential(initial, max time.Duration, multiplier, jitter float64, maxElapsed time.Duration) *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = max
	exp.Multiplier = multiplier
	exp.RandomizationFactor = jitter
	exp.MaxElapsedTime = maxElapsed
	exp.Reset()
	return exp
}

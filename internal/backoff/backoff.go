// Package backoff provides delay strategies for pacing session reconnect
// attempts.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before a given reconnect attempt.
type Strategy interface {
	// Delay returns the pause before attempt (1-based), bounded by max.
	Delay(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitter grows the delay geometrically and adds uniform
// jitter. This is the default strategy.
type ExponentialJitter struct{}

// Delay implements Strategy.
func (ExponentialJitter) Delay(attempt int, initial, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Cap the exponent so the float math cannot overflow.
	if attempt > 30 {
		attempt = 30
	}

	d := time.Duration(float64(initial) * pow(multiplier, attempt-1))
	if d < 0 || d > max {
		d = max
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		extra := time.Duration(float64(d) * jitter * rand.Float64())
		if d+extra > max {
			d = max
		} else {
			d += extra
		}
	}
	return d
}

// DecorrelatedJitter spreads delays uniformly between the initial delay
// and three times the previous ceiling, per the AWS decorrelated-jitter
// scheme. Smoother tail latencies than plain exponential jitter.
type DecorrelatedJitter struct{}

// Delay implements Strategy. The jitter and multiplier parameters are
// ignored; the scheme fixes both.
func (DecorrelatedJitter) Delay(attempt int, initial, max time.Duration, _, _ float64) time.Duration {
	if attempt <= 1 {
		return initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(initial)
	upper := base * pow(3.0, attempt-1)
	if upper > float64(max) || upper < base {
		upper = float64(max)
	}
	if upper < base {
		upper = base
	}

	d := time.Duration(base + rand.Float64()*(upper-base))
	if d < 0 || d > max {
		d = max
	}
	return d
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

package catfleet

import (
	"net/http"
	"time"
)

type limiterState int

const (
	limiterReady limiterState = iota
	limiterLimited
)

// RateLimiter gates calls to the inner layer against two independently
// refilling token buckets: a sustained default rate and a larger burst
// allowance on a slower cadence. Both buckets credit one shared pool
// capped at defaultRate.Count + burstRate.Count, so the burst reserve can
// be spent ahead of the sustained schedule but never stacked beyond the
// combined ceiling.
//
// State is instance-scoped and exclusively owned: one RateLimiter per
// composed stack, mutated only through its own Ready/Call pair under the
// composition root's single-caller discipline.
type RateLimiter struct {
	inner Service

	rateDefault Rate
	rateBurst   Rate

	state        limiterState
	untilDefault time.Time
	untilBurst   time.Time
	remaining    int
	wake         *time.Timer
	wakeAt       time.Time
}

// NewRateLimiter wraps inner with a dual-bucket limiter. Rates must be
// valid; New validates them before building the stack.
func NewRateLimiter(inner Service, rateDefault, rateBurst Rate) *RateLimiter {
	now := time.Now()
	wake := time.NewTimer(time.Hour)
	if !wake.Stop() {
		<-wake.C
	}
	return &RateLimiter{
		inner:        inner,
		rateDefault:  rateDefault,
		rateBurst:    rateBurst,
		state:        limiterReady,
		untilDefault: now,
		untilBurst:   now,
		// The full budget is the default bucket plus the burst bucket.
		remaining: rateDefault.Count + rateBurst.Count,
		wake:      wake,
		wakeAt:    now,
	}
}

// Ready implements Service. In the ready state it defers to the inner
// layer. In the limited state it reports not-ready until the armed wake
// time has passed, then refills whichever buckets are due and defers
// inward again.
func (rl *RateLimiter) Ready() (bool, <-chan time.Time) {
	if rl.state == limiterReady {
		return rl.inner.Ready()
	}

	now := time.Now()
	if now.Before(rl.wakeAt) {
		return false, rl.wake.C
	}

	rl.refill(now)
	rl.state = limiterReady
	return rl.inner.Ready()
}

// Call implements Service. It spends one token and dispatches inward
// unconditionally; spending the last token arms the wake timer for the
// earlier of the two refill deadlines and transitions to the limited
// state.
//
// Call panics when invoked without an immediately preceding Ready
// observation: that is a composition bug, not a retryable error.
func (rl *RateLimiter) Call(req *http.Request) (*http.Response, error) {
	if rl.state != limiterReady {
		panic("catfleet: RateLimiter.Call invoked without observing Ready")
	}

	// Time may have advanced since the readiness check; re-apply both
	// refill checks before spending.
	rl.refill(time.Now())

	rl.remaining--
	if rl.remaining <= 0 {
		until := rl.untilDefault
		if rl.untilBurst.Before(until) {
			until = rl.untilBurst
		}
		rl.armWake(until)
		rl.state = limiterLimited
	}

	return rl.inner.Call(req)
}

// refill credits each bucket whose period has elapsed and advances its
// deadline. Credits land in the one shared pool, capped at the combined
// ceiling even when both buckets come due in the same instant.
func (rl *RateLimiter) refill(now time.Time) {
	ceiling := rl.rateDefault.Count + rl.rateBurst.Count

	if !now.Before(rl.untilDefault) {
		rl.untilDefault = now.Add(rl.rateDefault.Period)
		rl.remaining += rl.rateDefault.Count
		if rl.remaining > ceiling {
			rl.remaining = ceiling
		}
	}

	if !now.Before(rl.untilBurst) {
		rl.untilBurst = now.Add(rl.rateBurst.Period)
		rl.remaining += rl.rateBurst.Count
		if rl.remaining > ceiling {
			rl.remaining = ceiling
		}
	}
}

func (rl *RateLimiter) armWake(until time.Time) {
	if !rl.wake.Stop() {
		select {
		case <-rl.wake.C:
		default:
		}
	}
	rl.wake.Reset(time.Until(until))
	rl.wakeAt = until
}

// Package backoff computes retry delays using exponential backoff with full
// jitter, for scheduling webhook retry tickets.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// minDelay avoids busy-looping when the jitter lands near zero.
const minDelay = 100 * time.Millisecond

// Policy describes an exponential backoff schedule.
type Policy struct {
	Base time.Duration
	Max  time.Duration

	// Rand returns a float in [0,1). Nil uses math/rand.
	Rand func() float64
}

// DefaultPolicy starts at 30s and caps at one hour.
func DefaultPolicy() Policy {
	return Policy{Base: 30 * time.Second, Max: time.Hour}
}

// Ceiling returns the un-jittered delay for the given attempt (1-based):
// min(Max, Base * 2^(attempt-1)).
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base, limit := p.Base, p.Max
	if base <= 0 {
		base = time.Second
	}
	if limit <= 0 || limit < base {
		limit = base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp > float64(limit) {
		exp = float64(limit)
	}
	return time.Duration(exp)
}

// Delay returns a full-jitter delay: random(0, Ceiling(attempt)), never
// below 100ms.
func (p Policy) Delay(attempt int) time.Duration {
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	jittered := time.Duration(r() * float64(p.Ceiling(attempt)))
	if jittered < minDelay {
		jittered = minDelay
	}
	return jittered
}

// Package resilience provides the resiliency primitives used around the
// token proxy and the credential retry loop.
package resilience

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes jittered delays between credential retry attempts.
// delay = rand(0, min(max, base * 2^attempt)), never below 1ms.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the delay policy used between call attempts.
// Attempts are few (the ceiling is small) so the cap stays low.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 250 * time.Millisecond,
		Max:  2 * time.Second,
	}
}

// Delay returns the full-jitter delay before retry number attempt
// (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	expDelay := float64(b.Base) * math.Pow(2, float64(attempt))
	if expDelay > float64(b.Max) {
		expDelay = float64(b.Max)
	}

	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < time.Millisecond {
		jittered = time.Millisecond
	}
	return jittered
}

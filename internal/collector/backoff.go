package collector

import (
	"math/rand"
	"time"
)

// Backoff is the shared reconnect delay policy for every collector.
// Delays grow geometrically from Base to Cap; Jitter randomizes the
// final delay by ±Jitter as a fraction.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Factor float64
	Jitter float64
}

// DefaultBackoff returns the streaming reconnect policy: 1s base, 60s
// cap, ±20% jitter, unlimited attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   time.Second,
		Cap:    60 * time.Second,
		Factor: 2.0,
		Jitter: 0.2,
	}
}

// Next returns the delay before the given attempt (1-based). Excluding
// jitter, Next is non-decreasing in the attempt number and capped.
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	cap := b.Cap
	if cap <= 0 {
		cap = 60 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := base
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > cap {
			wait = cap
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

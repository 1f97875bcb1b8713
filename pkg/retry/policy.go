// Package retry provides the reliability primitives around provider calls:
// an exponential-backoff policy with jitter and a circuit breaker.
package retry

import (
	"math/rand"
	"time"
)

// Policy describes exponential backoff between attempts. The delay math is
// a pure function of (attempt, policy) plus one PRNG sample, so tests can
// inject a deterministic source.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// Rand returns a uniform sample in [0, 1). Nil uses math/rand.
	Rand func() float64
}

// DefaultPolicy matches the production defaults: 3 attempts, 1s base,
// 30s cap, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// DelayForAttempt returns the sleep before attempt n. Attempt 0 is
// immediate; attempt n>=1 sleeps min(base*multiplier^(n-1), max) plus a
// uniform jitter in [0, 10% of the clamped delay].
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
	}
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}

	sample := p.Rand
	if sample == nil {
		sample = rand.Float64
	}
	jitter := delay * 0.1 * sample()

	return time.Duration(delay + jitter)
}

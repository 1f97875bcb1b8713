package retry

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker lifecycle state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker is a closed/open/half-open circuit breaker guarding one
// provider. One loop owns it at a time; a coarse mutex serializes updates
// when it is shared.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	failureThreshold    int
	cooldownSecs        int
	retryAfterSecs      int
}

// NewBreaker creates a closed breaker that opens after threshold
// consecutive failures and stays open for cooldownSecs ticks.
func NewBreaker(threshold, cooldownSecs int) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldownSecs <= 0 {
		cooldownSecs = 30
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: threshold,
		cooldownSecs:     cooldownSecs,
	}
}

// Allow reports whether a request may proceed: true in Closed and
// HalfOpen, false in Open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != BreakerOpen
}

// State returns the current lifecycle state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns the remaining open cooldown in seconds (0 unless
// Open).
func (b *Breaker) RetryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return 0
	}
	return b.retryAfterSecs
}

// RecordSuccess zeros the consecutive-failure counter and closes the
// circuit from HalfOpen.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.state == BreakerHalfOpen {
		b.state = BreakerClosed
	}
}

// RecordFailure increments the counter. At threshold a Closed circuit
// opens with the configured cooldown; any failure in HalfOpen reopens. An
// already-Open circuit keeps counting without re-arming the cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	switch b.state {
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.retryAfterSecs = b.cooldownSecs
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.retryAfterSecs = b.cooldownSecs
	}
}

// Tick decrements the open cooldown by one second, floored at zero. When
// the cooldown reaches zero the breaker becomes HalfOpen: the next request
// is admitted as a recovery probe.
func (b *Breaker) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return
	}
	if b.retryAfterSecs > 0 {
		b.retryAfterSecs--
	}
	if b.retryAfterSecs == 0 {
		b.state = BreakerHalfOpen
	}
}

// Ticker drives Tick once per second until Stop is called. Harmless to run
// while the breaker is closed.
type Ticker struct {
	breaker *Breaker
	stop    chan struct{}
	done    chan struct{}
}

// NewTicker starts a one-second ticker over b.
func NewTicker(b *Breaker) *Ticker {
	t := &Ticker{
		breaker: b,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Ticker) run() {
	defer close(t.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.breaker.Tick()
		case <-t.stop:
			return
		}
	}
}

// Stop halts the ticker and waits for its goroutine to exit.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}

// Package breaker implements the circuit breaker that guards the inbound
// bridge against hammering a stuck engine: consecutive failures trip it
// open, once the cooldown elapses it reads half-open and lets requests
// through until the next recorded outcome re-opens or closes it, and a
// success from any state closes it again. The number of requests let
// through while half-open is not limited.
package breaker

import (
	"sync"
	"time"
)

// State is the derived circuit state.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Breaker is safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time
	now       func() time.Time
}

// Option configures a Breaker at construction time.
type Option func(*Breaker)

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// New creates a Breaker with the given threshold and cooldown. A
// non-positive threshold or cooldown falls back to the documented
// defaults (5 failures, 15s cooldown).
func New(threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Second
	}
	b := &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}

// RecordFailure increments the failure count. Once the count reaches the
// threshold, every further failure re-stamps openedAt, restarting the
// cooldown - a failure while half-open re-opens with a fresh window.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openedAt = b.now()
	}
}

// State returns the derived breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.failures < b.threshold {
		return Closed
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return Open
}

// IsOpen reports whether the breaker is currently open.
func (b *Breaker) IsOpen() bool {
	return b.State() == Open
}

// IsHalfOpen reports whether the breaker is currently half-open.
func (b *Breaker) IsHalfOpen() bool {
	return b.State() == HalfOpen
}

// Failures returns the current consecutive-failure count, for tests and
// diagnostics.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

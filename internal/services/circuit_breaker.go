package services

import (
	"sync"
	"time"
)

// BreakerState circuit breaker state
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreaker trips after threshold consecutive oracle failures.
// While open, submissions use the fallback ratio. After cooldown one trial is let through.
type CircuitBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
	onChange      func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker. A threshold of 0 disables tripping.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		state:     BreakerClosed,
	}
}

// SetClock overrides the breaker clock
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// OnStateChange registers a hook called under the breaker lock on every transition
func (b *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a submission may dispatch to the oracle
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(BreakerHalfOpen)
		b.trialInFlight = true
		return true
	default:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
}

// RecordSuccess closes the breaker
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// RecordFailure counts a bad callback or a timeout
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.trialInFlight = false
	switch b.state {
	case BreakerHalfOpen:
		b.open()
	case BreakerClosed:
		if b.threshold > 0 && b.failures >= b.threshold {
			b.open()
		}
	}
}

// CancelTrial gives back a half-open trial slot whose submission never reached the oracle
func (b *CircuitBreaker) CancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.trialInFlight = false
	}
}

// Reset forces the breaker closed
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.trialInFlight = false
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// State returns the current state and consecutive failure count
func (b *CircuitBreaker) State() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}

func (b *CircuitBreaker) open() {
	b.openedAt = b.now()
	b.transition(BreakerOpen)
}

func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}

package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerTransitions(t *testing.T) {
	clock := &testClock{now: testStart}
	b := NewCircuitBreaker(2, time.Minute)
	b.SetClock(clock.Now)

	var transitions []BreakerState
	b.OnStateChange(func(from, to BreakerState) {
		transitions = append(transitions, to)
	})

	assert.True(t, b.Allow())
	b.RecordFailure()
	state, failures := b.State()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 1, failures)

	b.RecordFailure()
	state, _ = b.State()
	assert.Equal(t, BreakerOpen, state)
	assert.False(t, b.Allow())

	clock.Advance(time.Minute)
	assert.True(t, b.Allow(), "first call after cooldown is the trial")
	assert.False(t, b.Allow(), "only one trial at a time")

	b.RecordFailure()
	state, _ = b.State()
	assert.Equal(t, BreakerOpen, state)
	assert.False(t, b.Allow())

	clock.Advance(time.Minute)
	assert.True(t, b.Allow())
	b.RecordSuccess()
	state, failures = b.State()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 0, failures)

	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerOpen, BreakerHalfOpen, BreakerClosed}, transitions)
}

func TestCircuitBreakerCancelTrial(t *testing.T) {
	clock := &testClock{now: testStart}
	b := NewCircuitBreaker(1, time.Minute)
	b.SetClock(clock.Now)

	b.RecordFailure()
	clock.Advance(time.Minute)
	assert.True(t, b.Allow())
	b.CancelTrial()
	assert.True(t, b.Allow())
}

func TestCircuitBreakerZeroThresholdNeverTrips(t *testing.T) {
	b := NewCircuitBreaker(0, time.Minute)
	for i := 0; i < 10; i++ {
		b.RecordFailure()
	}
	state, failures := b.State()
	assert.Equal(t, BreakerClosed, state)
	assert.Equal(t, 10, failures)
	assert.True(t, b.Allow())

	b.Reset()
	_, failures = b.State()
	assert.Equal(t, 0, failures)
}

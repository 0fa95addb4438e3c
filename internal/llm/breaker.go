package llm

import (
	"fmt"
	"sync"
	"time"

	"bookforge/internal/logging"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	// BreakerClosed - normal operation, requests pass through.
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen - too many consecutive failures, requests fail fast.
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen - timeout elapsed, next request probes recovery.
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// CircuitBreaker stops calls to a remote service that is failing
// systematically, protecting both the caller's budget and the provider.
//
// Transitions: CLOSED -> OPEN when consecutive failures reach the
// threshold; OPEN -> HALF_OPEN lazily on the first Allow check after the
// timeout elapses; HALF_OPEN -> CLOSED on the next success; a failure
// while HALF_OPEN re-opens the breaker and restarts the timeout window.
// Each resilient client owns its own breaker; state is never shared
// across instances.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	timeout          time.Duration

	state        BreakerState
	failureCount int
	openedAt     time.Time
}

// NewCircuitBreaker creates a breaker with the given consecutive-failure
// threshold and open timeout.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		timeout:          timeout,
		state:            BreakerClosed,
	}
}

// Allow reports whether a call may proceed. While OPEN it returns false
// until the timeout has elapsed, at which point the breaker transitions
// to HALF_OPEN and lets a single probe call through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return true
	}

	if time.Since(cb.openedAt) > cb.timeout {
		cb.state = BreakerHalfOpen
		cb.openedAt = time.Time{}
		logging.LLM("circuit breaker HALF_OPEN: probing service recovery")
		return true
	}
	return false
}

// RecordSuccess resets the breaker to CLOSED.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerHalfOpen {
		logging.LLM("circuit breaker CLOSED: service recovered")
	}
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.openedAt = time.Time{}
}

// RecordFailure counts a failed call. Reaching the threshold while
// CLOSED opens the breaker; any failure while HALF_OPEN re-opens it
// immediately and restarts the timeout window.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++

	switch cb.state {
	case BreakerClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.state = BreakerOpen
			cb.openedAt = time.Now()
			logging.Get(logging.CategoryLLM).Warn(
				"circuit breaker OPEN: %d consecutive failures (threshold %d), retry after %v",
				cb.failureCount, cb.failureThreshold, cb.timeout)
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.openedAt = time.Now()
		logging.Get(logging.CategoryLLM).Warn("circuit breaker re-OPEN: probe failed")
	}
}

// State returns the current state, applying the lazy OPEN -> HALF_OPEN
// transition check first.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && time.Since(cb.openedAt) > cb.timeout {
		return BreakerHalfOpen
	}
	return cb.state
}

// FailureCount returns the consecutive-failure counter.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker(state=%s, failures=%d/%d)",
		cb.state, cb.failureCount, cb.failureThreshold)
}

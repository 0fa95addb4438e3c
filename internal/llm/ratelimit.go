package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter enforces a minimum interval between successive calls.
// Callers block until the interval has elapsed; calls are never dropped.
// One limiter guards one provider client instance.
type RateLimiter struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastCall    time.Time
}

// NewRateLimiter creates a limiter with the given minimum inter-call
// interval. A non-positive interval disables waiting.
func NewRateLimiter(minInterval time.Duration) *RateLimiter {
	return &RateLimiter{minInterval: minInterval}
}

// Acquire blocks until at least the minimum interval has passed since
// the previous call started, or until the context is cancelled. The
// reservation is taken before sleeping so concurrent callers queue up
// behind each other instead of stampeding when the wait expires.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	r.mu.Lock()
	now := time.Now()
	target := r.lastCall.Add(r.minInterval)
	if target.Before(now) {
		target = now
	}
	r.lastCall = target
	r.mu.Unlock()

	wait := time.Until(target)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

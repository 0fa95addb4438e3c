package llm

import (
	"context"
	"fmt"
	"math"
	"time"

	"bookforge/internal/logging"
)

// ResilientConfig tunes the resilience layer around a transport.
type ResilientConfig struct {
	// MaxRetries is the total number of attempts per call (minimum 1).
	MaxRetries int
	// RetryBaseDelay is the base for exponential backoff between attempts.
	RetryBaseDelay time.Duration
	// RateLimitInterval is the minimum gap between calls through this client.
	RateLimitInterval time.Duration
	// BreakerThreshold is the consecutive-failure count that opens the breaker.
	BreakerThreshold int
	// BreakerTimeout is how long the breaker stays open before a probe.
	BreakerTimeout time.Duration
	// CallTimeout is applied per attempt when the context has no deadline.
	CallTimeout time.Duration
}

// DefaultResilientConfig returns the production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxRetries:        3,
		RetryBaseDelay:    15 * time.Second,
		RateLimitInterval: time.Second,
		BreakerThreshold:  5,
		BreakerTimeout:    60 * time.Second,
		CallTimeout:       120 * time.Second,
	}
}

// ResilientClient wraps a transport Client with rate limiting, retries
// with exponential backoff, and a circuit breaker. The rate limiter
// prevents self-inflicted throttling; the breaker stops hammering a
// provider that is already failing broadly; retries absorb isolated
// transient failures without caller-visible impact.
//
// Each instance owns its own limiter and breaker.
type ResilientClient struct {
	transport Client
	config    ResilientConfig
	limiter   *RateLimiter
	breaker   *CircuitBreaker
}

var _ Client = (*ResilientClient)(nil)

// NewResilientClient wraps transport with the resilience layer.
func NewResilientClient(transport Client, config ResilientConfig) *ResilientClient {
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	return &ResilientClient{
		transport: transport,
		config:    config,
		limiter:   NewRateLimiter(config.RateLimitInterval),
		breaker:   NewCircuitBreaker(config.BreakerThreshold, config.BreakerTimeout),
	}
}

// Breaker exposes the circuit breaker for diagnostics.
func (c *ResilientClient) Breaker() *CircuitBreaker {
	return c.breaker
}

// Complete sends a prompt through the resilience layer.
func (c *ResilientClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.call(ctx, func(ctx context.Context) (string, error) {
		return c.transport.Complete(ctx, prompt)
	})
}

// CompleteWithSystem sends a prompt with a system message through the
// resilience layer.
func (c *ResilientClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.call(ctx, func(ctx context.Context) (string, error) {
		return c.transport.CompleteWithSystem(ctx, systemPrompt, userPrompt)
	})
}

// call runs one logical request: breaker check, rate limit, then the
// attempt loop. Failures recorded while the breaker is open never reach
// the transport.
func (c *ResilientClient) call(ctx context.Context, attempt func(context.Context) (string, error)) (string, error) {
	if !c.breaker.Allow() {
		return "", fmt.Errorf("%w (retry after %v)", ErrCircuitOpen, c.config.BreakerTimeout)
	}

	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for i := 0; i < c.config.MaxRetries; i++ {
		result, err := c.doAttempt(ctx, attempt)
		if err == nil {
			c.breaker.RecordSuccess()
			return result, nil
		}

		c.breaker.RecordFailure()
		lastErr = err

		if i == c.config.MaxRetries-1 {
			break
		}

		delay := c.backoff(err, i)
		logging.LLM("attempt %d/%d failed (%v), backing off %v",
			i+1, c.config.MaxRetries, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	return "", fmt.Errorf("llm call failed after %d attempts: %w", c.config.MaxRetries, lastErr)
}

// doAttempt runs a single transport attempt, applying the per-call
// timeout when the caller's context carries no deadline.
func (c *ResilientClient) doAttempt(ctx context.Context, attempt func(context.Context) (string, error)) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CallTimeout)
		defer cancel()
	}
	return attempt(ctx)
}

// backoff computes the delay before the next attempt. Throttling errors
// back off steeper (base x 3^attempt) than ordinary transient failures
// (base x 2^attempt) so we stop feeding a quota we have already blown.
func (c *ResilientClient) backoff(err error, attemptIdx int) time.Duration {
	factor := 2.0
	if IsRateLimitError(err) {
		factor = 3.0
	}
	return time.Duration(float64(c.config.RetryBaseDelay) * math.Pow(factor, float64(attemptIdx)))
}

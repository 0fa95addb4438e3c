package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport implements Client with a scripted response sequence.
type fakeTransport struct {
	calls     atomic.Int64
	responses []fakeResponse
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeTransport) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteWithSystem(ctx, "", prompt)
}

func (f *fakeTransport) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.responses) {
		n = len(f.responses) - 1
	}
	r := f.responses[n]
	return r.text, r.err
}

func fastConfig() ResilientConfig {
	return ResilientConfig{
		MaxRetries:        3,
		RetryBaseDelay:    time.Millisecond,
		RateLimitInterval: 0,
		BreakerThreshold:  5,
		BreakerTimeout:    50 * time.Millisecond,
	}
}

func TestResilientSuccessPassesThrough(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{text: "chapter draft"}}}
	c := NewResilientClient(ft, fastConfig())

	out, err := c.Complete(context.Background(), "write chapter 1")
	require.NoError(t, err)
	assert.Equal(t, "chapter draft", out)
	assert.EqualValues(t, 1, ft.calls.Load())
	assert.Equal(t, BreakerClosed, c.Breaker().State())
}

func TestResilientRetriesTransientFailure(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{
		{err: errors.New("503 service unavailable")},
		{err: errors.New("timeout")},
		{text: "recovered"},
	}}
	c := NewResilientClient(ft, fastConfig())

	out, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.EqualValues(t, 3, ft.calls.Load())
	// Success resets the consecutive-failure counter.
	assert.Equal(t, 0, c.Breaker().FailureCount())
}

func TestResilientExhaustsRetries(t *testing.T) {
	ft := &fakeTransport{responses: []fakeResponse{{err: errors.New("boom")}}}
	c := NewResilientClient(ft, fastConfig())

	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.ErrorContains(t, err, "boom")
	assert.EqualValues(t, 3, ft.calls.Load())
}

func TestResilientFailsFastWhenBreakerOpen(t *testing.T) {
	cfg := fastConfig()
	cfg.BreakerThreshold = 2
	cfg.MaxRetries = 1
	cfg.BreakerTimeout = 60 * time.Millisecond
	ft := &fakeTransport{responses: []fakeResponse{{err: errors.New("outage")}}}
	c := NewResilientClient(ft, cfg)

	// Two consecutive failures open the breaker.
	_, err := c.Complete(context.Background(), "p")
	require.Error(t, err)
	_, err = c.Complete(context.Background(), "p")
	require.Error(t, err)
	require.Equal(t, BreakerOpen, c.Breaker().State())
	callsBefore := ft.calls.Load()

	// Third call must be rejected without touching the transport.
	_, err = c.Complete(context.Background(), "p")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, callsBefore, ft.calls.Load())

	// After the timeout one probe call is let through.
	time.Sleep(80 * time.Millisecond)
	ft.responses = []fakeResponse{{text: "back online"}}
	ft.calls.Store(0)

	out, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "back online", out)
	assert.Equal(t, BreakerClosed, c.Breaker().State())
	assert.Equal(t, 0, c.Breaker().FailureCount())
}

func TestBackoffFactors(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBaseDelay = 100 * time.Millisecond
	c := NewResilientClient(&fakeTransport{responses: []fakeResponse{{}}}, cfg)

	transient := errors.New("500 internal error")
	throttle := errors.New("429 too many requests")

	assert.Equal(t, 100*time.Millisecond, c.backoff(transient, 0))
	assert.Equal(t, 200*time.Millisecond, c.backoff(transient, 1))
	assert.Equal(t, 400*time.Millisecond, c.backoff(transient, 2))

	assert.Equal(t, 100*time.Millisecond, c.backoff(throttle, 0))
	assert.Equal(t, 300*time.Millisecond, c.backoff(throttle, 1))
	assert.Equal(t, 900*time.Millisecond, c.backoff(throttle, 2))
}

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("HTTP 429 Too Many Requests")))
	assert.True(t, IsRateLimitError(errors.New("RESOURCE_EXHAUSTED: quota exceeded")))
	assert.True(t, IsRateLimitError(errors.New("rate limit hit, slow down")))
	assert.False(t, IsRateLimitError(errors.New("connection refused")))
	assert.False(t, IsRateLimitError(nil))
}

func TestResilientContextCancelDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryBaseDelay = time.Hour
	ft := &fakeTransport{responses: []fakeResponse{{err: errors.New("boom")}}}
	c := NewResilientClient(ft, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, "p")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, ft.calls.Load())
}

// Package llm provides the resilient remote caller for the content
// pipeline: provider transports (Gemini, OpenRouter) wrapped with rate
// limiting, retry with exponential backoff, and a circuit breaker.
package llm

import (
	"context"
	"errors"
	"strings"
)

// Client defines the interface for LLM providers. Agents depend on this
// interface only; the concrete transport is chosen at construction time.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ErrCircuitOpen is returned without attempting a network call while the
// circuit breaker is open.
var ErrCircuitOpen = errors.New("llm: circuit breaker open, service unavailable")

// rateLimitIndicators are substrings that identify provider throttling.
// Matched case-insensitively against the error text.
var rateLimitIndicators = []string{
	"429",
	"rate limit",
	"rate_limit",
	"quota",
	"too many requests",
	"resource exhausted",
	"resource_exhausted",
}

// IsRateLimitError reports whether err looks like a provider throttling
// signal. Throttling errors get a steeper retry backoff than ordinary
// transient failures.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range rateLimitIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}

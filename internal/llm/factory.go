package llm

import (
	"context"
	"fmt"

	"bookforge/internal/config"
	"bookforge/internal/logging"
)

// NewFromConfig constructs the resilient client for the configured
// provider. Provider selection happens once here, not per call: with
// provider "auto" Gemini is preferred and OpenRouter is the fallback
// when no Gemini key is configured.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*ResilientClient, error) {
	transport, err := newTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rc := ResilientConfig{
		MaxRetries:        cfg.LLM.MaxRetries,
		RetryBaseDelay:    cfg.GetRetryBaseDelay(),
		RateLimitInterval: cfg.GetRateLimitInterval(),
		BreakerThreshold:  cfg.LLM.BreakerThreshold,
		BreakerTimeout:    cfg.GetBreakerTimeout(),
		CallTimeout:       cfg.GetTimeout(),
	}
	return NewResilientClient(transport, rc), nil
}

func newTransport(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return newGeminiTransport(ctx, cfg)
	case "openrouter":
		return newOpenRouterTransport(cfg)
	case "auto":
		if cfg.LLM.GeminiAPIKey != "" {
			return newGeminiTransport(ctx, cfg)
		}
		if cfg.LLM.OpenRouterAPIKey != "" {
			return newOpenRouterTransport(cfg)
		}
		return nil, fmt.Errorf("no LLM provider configured: set GEMINI_API_KEY or OPENROUTER_API_KEY")
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.LLM.Provider)
	}
}

func newGeminiTransport(ctx context.Context, cfg *config.Config) (Client, error) {
	gc := DefaultGeminiConfig(cfg.LLM.GeminiAPIKey)
	if cfg.LLM.Model != "" {
		gc.Model = cfg.LLM.Model
	}
	gc.Temperature = cfg.LLM.Temperature
	gc.MaxTokens = cfg.LLM.MaxTokens

	client, err := NewGeminiClient(ctx, gc)
	if err != nil {
		return nil, err
	}
	logging.LLM("provider selected: gemini (model=%s)", client.Model())
	return client, nil
}

func newOpenRouterTransport(cfg *config.Config) (Client, error) {
	if cfg.LLM.OpenRouterAPIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	oc := DefaultOpenRouterConfig(cfg.LLM.OpenRouterAPIKey)
	if cfg.LLM.Model != "" {
		oc.Model = cfg.LLM.Model
	}
	oc.Temperature = cfg.LLM.Temperature
	oc.MaxTokens = cfg.LLM.MaxTokens
	oc.Timeout = cfg.GetTimeout()

	client := NewOpenRouterClient(oc)
	logging.LLM("provider selected: openrouter (model=%s)", client.Model())
	return client, nil
}

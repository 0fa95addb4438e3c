// Package config holds the configuration surface for the bookforge
// pipeline: provider selection, resilience tuning, and orchestration
// limits. Configuration is loaded from a YAML file with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`

	// OpsDir is the root directory for artifacts, versions, and logs.
	OpsDir string `yaml:"ops_dir"`
}

// LLMConfig configures the remote generation provider and the
// resilience layer wrapped around it.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openrouter, auto

	GeminiAPIKey     string `yaml:"gemini_api_key"`
	OpenRouterAPIKey string `yaml:"openrouter_api_key"`

	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     string  `yaml:"timeout"`

	// Resilience tuning.
	RateLimitInterval string `yaml:"rate_limit_interval"` // min gap between calls
	MaxRetries        int    `yaml:"max_retries"`
	RetryBaseDelay    string `yaml:"retry_base_delay"`
	BreakerThreshold  int    `yaml:"breaker_threshold"`
	BreakerTimeout    string `yaml:"breaker_timeout"`
}

// PipelineConfig configures stage orchestration.
type PipelineConfig struct {
	MaxParallelTasks int `yaml:"max_parallel_tasks"`
}

// LoggingConfig configures the category file loggers.
type LoggingConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// DefaultConfig returns sensible defaults. Resilience defaults mirror
// provider guidance: 5 consecutive failures open the breaker, which
// stays open for 60s before a probe is allowed.
func DefaultConfig() *Config {
	return &Config{
		OpsDir: "ops",
		LLM: LLMConfig{
			Provider:          "auto",
			Model:             "",
			Temperature:       0.7,
			MaxTokens:         8192,
			Timeout:           "120s",
			RateLimitInterval: "1s",
			MaxRetries:        3,
			RetryBaseDelay:    "15s",
			BreakerThreshold:  5,
			BreakerTimeout:    "60s",
		},
		Pipeline: PipelineConfig{
			MaxParallelTasks: 4,
		},
		Logging: LoggingConfig{
			DebugMode: false,
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.GeminiAPIKey = key
	}
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.LLM.OpenRouterAPIKey = key
	}
	if p := os.Getenv("BOOKFORGE_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
	if m := os.Getenv("BOOKFORGE_MODEL"); m != "" {
		c.LLM.Model = m
	}
	if dir := os.Getenv("BOOKFORGE_OPS_DIR"); dir != "" {
		c.OpsDir = dir
	}
	if v := os.Getenv("BOOKFORGE_RATE_LIMIT"); v != "" {
		c.LLM.RateLimitInterval = v
	}
	if v := os.Getenv("BOOKFORGE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLM.MaxRetries = n
		}
	}
	if v := os.Getenv("BOOKFORGE_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxParallelTasks = n
		}
	}
	if v := os.Getenv("BOOKFORGE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openrouter", "auto":
	default:
		return fmt.Errorf("unknown provider %q (want gemini, openrouter, or auto)", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.BreakerThreshold < 1 {
		return fmt.Errorf("breaker_threshold must be >= 1, got %d", c.LLM.BreakerThreshold)
	}
	if c.Pipeline.MaxParallelTasks < 1 {
		return fmt.Errorf("max_parallel_tasks must be >= 1, got %d", c.Pipeline.MaxParallelTasks)
	}
	for _, d := range []struct {
		name, val string
	}{
		{"timeout", c.LLM.Timeout},
		{"rate_limit_interval", c.LLM.RateLimitInterval},
		{"retry_base_delay", c.LLM.RetryBaseDelay},
		{"breaker_timeout", c.LLM.BreakerTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.val, err)
		}
	}
	return nil
}

// duration parses a config duration string, returning fallback on error.
// Validate catches malformed values at load time; the fallback keeps
// zero-value configs usable in tests.
func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetTimeout returns the per-call LLM timeout.
func (c *Config) GetTimeout() time.Duration {
	return duration(c.LLM.Timeout, 120*time.Second)
}

// GetRateLimitInterval returns the minimum gap between LLM calls.
func (c *Config) GetRateLimitInterval() time.Duration {
	return duration(c.LLM.RateLimitInterval, time.Second)
}

// GetRetryBaseDelay returns the base delay for retry backoff.
func (c *Config) GetRetryBaseDelay() time.Duration {
	return duration(c.LLM.RetryBaseDelay, 15*time.Second)
}

// GetBreakerTimeout returns how long the circuit breaker stays open.
func (c *Config) GetBreakerTimeout() time.Duration {
	return duration(c.LLM.BreakerTimeout, 60*time.Second)
}

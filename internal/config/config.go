package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the callguard configuration file.
type Config struct {
	Logging         LoggingConfig              `json:"logging" yaml:"logging" mapstructure:"logging"`
	Hooks           HooksConfig                `json:"hooks" yaml:"hooks" mapstructure:"hooks"`
	RateLimits      map[string]RateLimitConfig `json:"rate_limits" yaml:"rate_limits" mapstructure:"rate_limits"`
	CircuitBreakers CircuitBreakersConfig      `json:"circuit_breakers" yaml:"circuit_breakers" mapstructure:"circuit_breakers"`
	Backoff         BackoffConfig              `json:"backoff" yaml:"backoff" mapstructure:"backoff"`
	Idempotency     IdempotencyConfig          `json:"idempotency" yaml:"idempotency" mapstructure:"idempotency"`
	Pipeline        PipelineConfig             `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Metrics         MetricsConfig              `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Tracing         TracingConfig              `json:"tracing" yaml:"tracing" mapstructure:"tracing"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level          string   `json:"level" yaml:"level" mapstructure:"level"`
	Console        bool     `json:"console" yaml:"console" mapstructure:"console"`
	Pretty         bool     `json:"pretty" yaml:"pretty" mapstructure:"pretty"`
	File           string   `json:"file" yaml:"file" mapstructure:"file"`
	MaxSize        int      `json:"max_size" yaml:"max_size" mapstructure:"max_size"` // MB
	MaxAge         int      `json:"max_age" yaml:"max_age" mapstructure:"max_age"`    // days
	Compress       bool     `json:"compress" yaml:"compress" mapstructure:"compress"`
	Redaction      bool     `json:"redaction" yaml:"redaction" mapstructure:"redaction"`
	RedactPatterns []string `json:"redact_patterns" yaml:"redact_patterns" mapstructure:"redact_patterns"`
}

// HooksConfig holds lifecycle hook configuration
type HooksConfig struct {
	TimeoutMs            int         `json:"timeout_ms" yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Parallel             bool        `json:"parallel" yaml:"parallel" mapstructure:"parallel"`
	MaxConsecutiveErrors int         `json:"max_consecutive_errors" yaml:"max_consecutive_errors" mapstructure:"max_consecutive_errors"`
	MaxHooksPerName      int         `json:"max_hooks_per_name" yaml:"max_hooks_per_name" mapstructure:"max_hooks_per_name"`
	Entries              []HookEntry `json:"entries" yaml:"entries" mapstructure:"entries"`
}

// HookEntry declares a shell script hook.
type HookEntry struct {
	ID        string `json:"id" yaml:"id" mapstructure:"id"`
	Event     string `json:"event" yaml:"event" mapstructure:"event"`
	Script    string `json:"script" yaml:"script" mapstructure:"script"`
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Enabled   bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// RateLimitConfig is the token bucket for one dependency.
type RateLimitConfig struct {
	MaxRequests int    `json:"max_requests" yaml:"max_requests" mapstructure:"max_requests"`
	WindowMs    int    `json:"window_ms" yaml:"window_ms" mapstructure:"window_ms"`
	OnLimit     string `json:"on_limit" yaml:"on_limit" mapstructure:"on_limit"` // wait, throw
	MaxWaitMs   int    `json:"max_wait_ms" yaml:"max_wait_ms" mapstructure:"max_wait_ms"`
}

// CircuitBreakersConfig holds breaker defaults and per-dependency overrides.
type CircuitBreakersConfig struct {
	Defaults  BreakerConfig            `json:"defaults" yaml:"defaults" mapstructure:"defaults"`
	Overrides map[string]BreakerConfig `json:"overrides" yaml:"overrides" mapstructure:"overrides"`
	// FailureErrors lists error substrings that count as failures. Empty counts all.
	FailureErrors []string `json:"failure_errors" yaml:"failure_errors" mapstructure:"failure_errors"`
}

// BreakerConfig configures one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int  `json:"failure_threshold" yaml:"failure_threshold" mapstructure:"failure_threshold"`
	SuccessThreshold int  `json:"success_threshold" yaml:"success_threshold" mapstructure:"success_threshold"`
	ResetTimeoutMs   int  `json:"reset_timeout_ms" yaml:"reset_timeout_ms" mapstructure:"reset_timeout_ms"`
	HalfOpenMaxCalls int  `json:"half_open_max_calls" yaml:"half_open_max_calls" mapstructure:"half_open_max_calls"`
	Disabled         bool `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// BackoffConfig configures retry delays for the retry plugin.
type BackoffConfig struct {
	Strategy       string  `json:"strategy" yaml:"strategy" mapstructure:"strategy"` // exponential, linear, constant
	InitialDelayMs int     `json:"initial_delay_ms" yaml:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	IncrementMs    int     `json:"increment_ms" yaml:"increment_ms" mapstructure:"increment_ms"`
	Jitter         bool    `json:"jitter" yaml:"jitter" mapstructure:"jitter"`
	JitterFactor   float64 `json:"jitter_factor" yaml:"jitter_factor" mapstructure:"jitter_factor"`
	// MaxAttempts includes the first call. 1 disables retries.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`
}

// IdempotencyConfig configures the idempotency cache.
type IdempotencyConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	DefaultTTLMs    int    `json:"default_ttl_ms" yaml:"default_ttl_ms" mapstructure:"default_ttl_ms"`
	MaxEntries      int    `json:"max_entries" yaml:"max_entries" mapstructure:"max_entries"`
	CleanupSchedule string `json:"cleanup_schedule" yaml:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// PipelineConfig configures tool execution.
type PipelineConfig struct {
	DefaultTimeoutMs int              `json:"default_timeout_ms" yaml:"default_timeout_ms" mapstructure:"default_timeout_ms"`
	StrictArgsCopy   bool             `json:"strict_args_copy" yaml:"strict_args_copy" mapstructure:"strict_args_copy"`
	MaxOutputBytes   int              `json:"max_output_bytes" yaml:"max_output_bytes" mapstructure:"max_output_bytes"`
	Policy           ToolPolicyConfig `json:"policy" yaml:"policy" mapstructure:"policy"`
}

// ToolPolicyConfig defines tool access policies. An empty allow list disables the policy.
type ToolPolicyConfig struct {
	Allow []string `json:"allow" yaml:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" yaml:"deny" mapstructure:"deny"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" yaml:"addr" mapstructure:"addr"`
	Path    string `json:"path" yaml:"path" mapstructure:"path"`
}

// TracingConfig configures OpenTelemetry.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" mapstructure:"sample_ratio"`
	// Endpoint is an OTLP/gRPC collector address. Empty keeps spans in process.
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `json:"insecure" yaml:"insecure" mapstructure:"insecure"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Hooks: HooksConfig{
			TimeoutMs:            5000,
			MaxConsecutiveErrors: 3,
			MaxHooksPerName:      10,
		},
		RateLimits: map[string]RateLimitConfig{},
		CircuitBreakers: CircuitBreakersConfig{
			Defaults: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				ResetTimeoutMs:   30000,
			},
			Overrides: map[string]BreakerConfig{},
		},
		Backoff: BackoffConfig{
			Strategy:       "exponential",
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2,
			IncrementMs:    1000,
			Jitter:         true,
			JitterFactor:   0.1,
			MaxAttempts:    3,
		},
		Idempotency: IdempotencyConfig{
			Enabled:         true,
			DefaultTTLMs:    300000,
			MaxEntries:      1000,
			CleanupSchedule: "@every 1m",
		},
		Pipeline: PipelineConfig{
			DefaultTimeoutMs: 30000,
			MaxOutputBytes:   10 * 1024,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
			Path: "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName: "callguard",
			SampleRatio: 1,
		},
	}
}

// Validate returns every problem found in the configuration, joined.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// ToJSON renders the configuration as indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// ToYAML renders the configuration as YAML.
func (c *Config) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

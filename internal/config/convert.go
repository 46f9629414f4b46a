package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/callguard/internal/logger"
	"github.com/harun/callguard/internal/tracing"
	"github.com/harun/callguard/pkg/backoff"
	"github.com/harun/callguard/pkg/circuitbreaker"
	"github.com/harun/callguard/pkg/eventbus"
	"github.com/harun/callguard/pkg/hooks"
	"github.com/harun/callguard/pkg/idempotency"
	"github.com/harun/callguard/pkg/ratelimit"
	"github.com/harun/callguard/pkg/toolexecutor"
)

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// LoggerConfig converts the logging section.
func (c LoggingConfig) LoggerConfig() logger.Config {
	return logger.Config{
		Level:          c.Level,
		Console:        c.Console,
		Pretty:         c.Pretty,
		File:           c.File,
		Redaction:      c.Redaction,
		RedactPatterns: c.RedactPatterns,
		MaxSizeMB:      c.MaxSize,
		MaxAgeDays:     c.MaxAge,
		Compress:       c.Compress,
	}
}

// ManagerConfig converts the hooks section. Disabled entries are dropped.
func (c HooksConfig) ManagerConfig(bus *eventbus.Bus, log zerolog.Logger) hooks.Config {
	cfg := hooks.Config{
		Timeout:              ms(c.TimeoutMs),
		Parallel:             c.Parallel,
		MaxConsecutiveErrors: c.MaxConsecutiveErrors,
		MaxHooksPerName:      c.MaxHooksPerName,
		Bus:                  bus,
		Logger:               log,
	}
	for _, entry := range c.Entries {
		if !entry.Enabled {
			continue
		}
		cfg.Scripts = append(cfg.Scripts, hooks.ScriptConfig{
			ID:      entry.ID,
			Event:   entry.Event,
			Script:  entry.Script,
			Timeout: ms(entry.TimeoutMs),
			Enabled: true,
		})
	}
	return cfg
}

// LimiterConfig converts one rate limit entry.
func (c RateLimitConfig) LimiterConfig(name string, log zerolog.Logger) ratelimit.Config {
	return ratelimit.Config{
		Name:        name,
		MaxRequests: c.MaxRequests,
		Window:      ms(c.WindowMs),
		OnLimit:     ratelimit.OnLimit(c.OnLimit),
		MaxWait:     ms(c.MaxWaitMs),
		Logger:      log,
	}
}

// LimiterConfigs converts every rate limit entry, keyed by dependency.
func (c *Config) LimiterConfigs(log zerolog.Logger) map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(c.RateLimits))
	for name, rl := range c.RateLimits {
		out[name] = rl.LimiterConfig(name, log)
	}
	return out
}

func (c BreakerConfig) breaker() circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold: c.FailureThreshold,
		SuccessThreshold: c.SuccessThreshold,
		ResetTimeout:     ms(c.ResetTimeoutMs),
		HalfOpenMaxCalls: c.HalfOpenMaxCalls,
		Disabled:         c.Disabled,
	}
}

// inherit fills zero fields of an override from the configured defaults.
func (c BreakerConfig) inherit(defaults BreakerConfig) BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = defaults.SuccessThreshold
	}
	if c.ResetTimeoutMs == 0 {
		c.ResetTimeoutMs = defaults.ResetTimeoutMs
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = defaults.HalfOpenMaxCalls
	}
	return c
}

// RegistryConfigs converts the circuit breaker section into registry defaults and
// per-dependency overrides. Override fields left at zero inherit the defaults.
func (c CircuitBreakersConfig) RegistryConfigs(bus *eventbus.Bus, log zerolog.Logger) (circuitbreaker.Config, map[string]circuitbreaker.Config) {
	defaults := c.Defaults.breaker()
	defaults.Bus = bus
	defaults.Logger = log

	overrides := make(map[string]circuitbreaker.Config, len(c.Overrides))
	for name, o := range c.Overrides {
		cfg := o.inherit(c.Defaults).breaker()
		cfg.Bus = bus
		cfg.Logger = log
		overrides[name] = cfg
	}
	return defaults, overrides
}

// IsFailure returns a predicate matching FailureErrors, or nil when every error counts.
func (c CircuitBreakersConfig) IsFailure() func(error) bool {
	if len(c.FailureErrors) == 0 {
		return nil
	}
	patterns := append([]string(nil), c.FailureErrors...)
	return func(err error) bool {
		msg := err.Error()
		for _, p := range patterns {
			if strings.Contains(msg, p) {
				return true
			}
		}
		return false
	}
}

// BackoffConfig converts the backoff section.
func (c BackoffConfig) BackoffConfig() backoff.Config {
	return backoff.Config{
		Strategy:     backoff.Strategy(c.Strategy),
		InitialDelay: ms(c.InitialDelayMs),
		MaxDelay:     ms(c.MaxDelayMs),
		Multiplier:   c.Multiplier,
		Increment:    ms(c.IncrementMs),
		Jitter:       c.Jitter,
		JitterFactor: c.JitterFactor,
	}
}

// CacheConfig converts the idempotency section.
func (c IdempotencyConfig) CacheConfig(log zerolog.Logger) idempotency.Config {
	return idempotency.Config{
		DefaultTTL: ms(c.DefaultTTLMs),
		MaxEntries: c.MaxEntries,
		Logger:     log,
	}
}

// ExecutorConfig converts the pipeline section.
func (c PipelineConfig) ExecutorConfig(log zerolog.Logger) toolexecutor.PipelineConfig {
	return toolexecutor.PipelineConfig{
		DefaultTimeout: ms(c.DefaultTimeoutMs),
		StrictArgsCopy: c.StrictArgsCopy,
		Logger:         log,
	}
}

// ToolPolicy returns the pipeline-wide policy, or nil when none is configured.
func (c PipelineConfig) ToolPolicy() *toolexecutor.ToolPolicy {
	if len(c.Policy.Allow) == 0 && len(c.Policy.Deny) == 0 {
		return nil
	}
	allow := c.Policy.Allow
	if len(allow) == 0 {
		allow = []string{"*"}
	}
	return &toolexecutor.ToolPolicy{Allow: allow, Deny: c.Policy.Deny}
}

// TracerConfig converts the tracing section.
func (c TracingConfig) TracerConfig() tracing.Config {
	return tracing.Config{
		Enabled:     c.Enabled,
		ServiceName: c.ServiceName,
		SampleRatio: c.SampleRatio,
		Endpoint:    c.Endpoint,
		Insecure:    c.Insecure,
	}
}

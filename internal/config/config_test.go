package config

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/harun/callguard/pkg/backoff"
	"github.com/harun/callguard/pkg/eventbus"
	"github.com/harun/callguard/pkg/ratelimit"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 5000, cfg.Hooks.TimeoutMs)
	assert.Equal(t, 3, cfg.Hooks.MaxConsecutiveErrors)
	assert.Equal(t, 5, cfg.CircuitBreakers.Defaults.FailureThreshold)
	assert.Equal(t, 2, cfg.CircuitBreakers.Defaults.SuccessThreshold)
	assert.Equal(t, 30000, cfg.CircuitBreakers.Defaults.ResetTimeoutMs)
	assert.Equal(t, 30000, cfg.Pipeline.DefaultTimeoutMs)
	assert.NoError(t, cfg.Validate())
}

func TestConfigRendering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimits["search"] = RateLimitConfig{MaxRequests: 10, WindowMs: 1000}

	data, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_requests": 10`)

	data, err = cfg.ToYAML()
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, 10, decoded.RateLimits["search"].MaxRequests)
	assert.Equal(t, cfg.Backoff, decoded.Backoff)
}

func TestConverters(t *testing.T) {
	bus := eventbus.New()
	cfg := DefaultConfig()
	cfg.Hooks.Entries = []HookEntry{
		{ID: "audit", Event: "before:tool", Script: "true", TimeoutMs: 250, Enabled: true},
		{ID: "off", Event: "after:tool", Script: "true"},
	}
	cfg.RateLimits["search"] = RateLimitConfig{MaxRequests: 10, WindowMs: 1000, OnLimit: "throw", MaxWaitMs: 50}
	cfg.CircuitBreakers.Overrides = map[string]BreakerConfig{"payments": {FailureThreshold: 2}}

	t.Run("hooks", func(t *testing.T) {
		hc := cfg.Hooks.ManagerConfig(bus, zerolog.Nop())
		assert.Equal(t, 5*time.Second, hc.Timeout)
		assert.Same(t, bus, hc.Bus)
		require.Len(t, hc.Scripts, 1)
		assert.Equal(t, 250*time.Millisecond, hc.Scripts[0].Timeout)
	})

	t.Run("rate limits", func(t *testing.T) {
		limiters := cfg.LimiterConfigs(zerolog.Nop())
		require.Contains(t, limiters, "search")
		assert.Equal(t, "search", limiters["search"].Name)
		assert.Equal(t, time.Second, limiters["search"].Window)
		assert.Equal(t, ratelimit.Throw, limiters["search"].OnLimit)
	})

	t.Run("circuit breakers", func(t *testing.T) {
		defaults, overrides := cfg.CircuitBreakers.RegistryConfigs(bus, zerolog.Nop())
		assert.Equal(t, 30*time.Second, defaults.ResetTimeout)
		require.Contains(t, overrides, "payments")
		assert.Equal(t, 2, overrides["payments"].FailureThreshold)
		assert.Equal(t, 2, overrides["payments"].SuccessThreshold, "zero fields inherit the configured defaults")
		assert.Equal(t, 30*time.Second, overrides["payments"].ResetTimeout)
	})

	t.Run("circuit breaker overrides share the logger", func(t *testing.T) {
		var buf bytes.Buffer
		_, overrides := cfg.CircuitBreakers.RegistryConfigs(bus, zerolog.New(&buf))
		require.Contains(t, overrides, "payments")

		logger := overrides["payments"].Logger
		logger.Info().Msg("transition")
		assert.Contains(t, buf.String(), "transition")
	})

	t.Run("failure predicate", func(t *testing.T) {
		assert.Nil(t, cfg.CircuitBreakers.IsFailure())

		cb := CircuitBreakersConfig{FailureErrors: []string{"503", "timeout"}}
		isFailure := cb.IsFailure()
		assert.True(t, isFailure(errors.New("upstream returned 503")))
		assert.False(t, isFailure(errors.New("404 not found")))
	})

	t.Run("backoff", func(t *testing.T) {
		bc := cfg.Backoff.BackoffConfig()
		assert.Equal(t, backoff.Exponential, bc.Strategy)
		assert.Equal(t, time.Second, bc.InitialDelay)
		assert.Equal(t, 30*time.Second, bc.MaxDelay)
	})

	t.Run("pipeline", func(t *testing.T) {
		pc := cfg.Pipeline.ExecutorConfig(zerolog.Nop())
		assert.Equal(t, 30*time.Second, pc.DefaultTimeout)
		assert.Nil(t, cfg.Pipeline.ToolPolicy())

		p := PipelineConfig{Policy: ToolPolicyConfig{Deny: []string{"exec"}}}
		policy := p.ToolPolicy()
		require.NotNil(t, policy)
		assert.True(t, policy.IsToolAllowed("read"))
		assert.False(t, policy.IsToolAllowed("exec"))
	})

	t.Run("idempotency and logging", func(t *testing.T) {
		assert.Equal(t, 5*time.Minute, cfg.Idempotency.CacheConfig(zerolog.Nop()).DefaultTTL)
		lc := cfg.Logging.LoggerConfig()
		assert.Equal(t, 100, lc.MaxSizeMB)
		assert.True(t, lc.Redaction)
	})
}

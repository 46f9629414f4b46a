package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "nonexistent.json"), zerolog.Nop())
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("json file over defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "callguard.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{
			"logging": {"level": "debug"},
			"rate_limits": {"search": {"max_requests": 5, "window_ms": 1000, "on_limit": "throw"}},
			"circuit_breakers": {"overrides": {"payments": {"failure_threshold": 2}}}
		}`), 0644))

		cfg, err := NewLoader(configPath, zerolog.Nop()).Load()
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Logging.Console, "unset fields keep their defaults")
		assert.Equal(t, 5, cfg.RateLimits["search"].MaxRequests)
		assert.Equal(t, "throw", cfg.RateLimits["search"].OnLimit)
		assert.Equal(t, 2, cfg.CircuitBreakers.Overrides["payments"].FailureThreshold)
		assert.Equal(t, 5, cfg.CircuitBreakers.Defaults.FailureThreshold)
	})

	t.Run("yaml file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "callguard.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("hooks:\n  parallel: true\n  timeout_ms: 100\n"), 0644))

		cfg, err := NewLoader(configPath, zerolog.Nop()).Load()
		require.NoError(t, err)
		assert.True(t, cfg.Hooks.Parallel)
		assert.Equal(t, 100, cfg.Hooks.TimeoutMs)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("CALLGUARD_LOGGING_LEVEL", "warn")
		t.Setenv("CALLGUARD_PIPELINE_STRICT_ARGS_COPY", "true")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json"), zerolog.Nop()).Load()
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.True(t, cfg.Pipeline.StrictArgsCopy)
	})

	t.Run("malformed file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "callguard.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0644))

		_, err := NewLoader(configPath, zerolog.Nop()).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSaveRoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "callguard.json")
	loader := NewLoader(configPath, zerolog.Nop())

	cfg := DefaultConfig()
	cfg.Idempotency.MaxEntries = 42
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.Idempotency.MaxEntries)
}

func TestLoaderWatch(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "callguard.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging": {"level": "info"}}`), 0644))

	loader := NewLoader(configPath, zerolog.Nop())
	assert.Error(t, loader.Watch(func(*Config) {}), "watch requires a prior load")

	_, err := loader.Load()
	require.NoError(t, err)

	changes := make(chan *Config, 16)
	require.NoError(t, loader.Watch(func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	}))

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging": {"level": "debug"}}`), 0644))

	// A write may surface as several events, some seeing a partial file.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.Logging.Level == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}

func TestGetConfigPath(t *testing.T) {
	assert.Equal(t, "/etc/callguard.json", NewLoader("/etc/callguard.json", zerolog.Nop()).GetConfigPath())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".callguard", "callguard.json"), NewLoader("", zerolog.Nop()).GetConfigPath())
}

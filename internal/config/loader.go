package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CALLGUARD_LOGGING_LEVEL=debug.
const EnvPrefix = "CALLGUARD"

// Loader handles configuration loading
type Loader struct {
	configPath string
	logger     zerolog.Logger

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a new config loader. An empty path uses ~/.callguard/callguard.json.
func NewLoader(configPath string, logger zerolog.Logger) *Loader {
	return &Loader{
		configPath: configPath,
		logger:     logger.With().Str("component", "config").Logger(),
	}
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".callguard", "callguard.json")
}

func (l *Loader) newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	default:
		v.SetConfigType("json")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only consults keys viper already knows about.
	seedDefaults(v, DefaultConfig())
	return v
}

// Load reads the config file over the defaults. A missing file yields the defaults
// with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	path := l.GetConfigPath()
	v := l.newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		l.logger.Debug().Str("path", path).Msg("No config file, using defaults")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.v = v
	l.mu.Unlock()
	return cfg, nil
}

// Watch reloads the configuration whenever the file changes and passes every valid
// result to onChange. Invalid edits are logged and skipped. Load must be called first.
func (l *Loader) Watch(onChange func(*Config)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()
	if v == nil {
		return fmt.Errorf("config not loaded")
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err != nil {
		return fmt.Errorf("cannot watch config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		cfg, err := decode(v)
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			l.logger.Error().Str("path", e.Name).Err(err).Msg("Ignoring invalid config change")
			return
		}

		l.logger.Info().Str("path", e.Name).Msg("Config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// Save writes cfg to the config file, creating its directory.
func (l *Loader) Save(cfg *Config) error {
	path := l.GetConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	default:
		data, err = cfg.ToJSON()
	}
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// seedDefaults registers the scalar defaults that AutomaticEnv may override.
func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("hooks.timeout_ms", cfg.Hooks.TimeoutMs)
	v.SetDefault("hooks.parallel", cfg.Hooks.Parallel)
	v.SetDefault("hooks.max_consecutive_errors", cfg.Hooks.MaxConsecutiveErrors)

	v.SetDefault("backoff.strategy", cfg.Backoff.Strategy)
	v.SetDefault("backoff.max_attempts", cfg.Backoff.MaxAttempts)

	v.SetDefault("idempotency.enabled", cfg.Idempotency.Enabled)
	v.SetDefault("idempotency.default_ttl_ms", cfg.Idempotency.DefaultTTLMs)

	v.SetDefault("pipeline.default_timeout_ms", cfg.Pipeline.DefaultTimeoutMs)
	v.SetDefault("pipeline.strict_args_copy", cfg.Pipeline.StrictArgsCopy)
	v.SetDefault("pipeline.max_output_bytes", cfg.Pipeline.MaxOutputBytes)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.addr", cfg.Metrics.Addr)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
	v.SetDefault("tracing.insecure", cfg.Tracing.Insecure)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath, zerolog.Nop()).Load()
}

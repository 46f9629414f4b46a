package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/callguard/pkg/hooks"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateOnLimit validates a rate limiter's behavior when no permit is available.
func (v *Validator) ValidateOnLimit(mode string) error {
	switch mode {
	case "", "wait", "throw":
		return nil
	}
	return fmt.Errorf("invalid on_limit: %s (must be one of: wait, throw)", mode)
}

// ValidateStrategy validates a backoff strategy name.
func (v *Validator) ValidateStrategy(strategy string) error {
	switch strategy {
	case "", "exponential", "linear", "constant":
		return nil
	}
	return fmt.Errorf("invalid backoff strategy: %s (must be one of: exponential, linear, constant)", strategy)
}

// ValidateSchedule validates a cron schedule (standard five fields or a descriptor).
func (v *Validator) ValidateSchedule(schedule string) error {
	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

func nonNegative(errs []error, field string, value int) []error {
	if value < 0 {
		return append(errs, fmt.Errorf("%s must be >= 0", field))
	}
	return errs
}

// ValidateConfig returns every problem in cfg.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	errs = nonNegative(errs, "logging.max_size", cfg.Logging.MaxSize)
	errs = nonNegative(errs, "logging.max_age", cfg.Logging.MaxAge)

	errs = nonNegative(errs, "hooks.timeout_ms", cfg.Hooks.TimeoutMs)
	errs = nonNegative(errs, "hooks.max_consecutive_errors", cfg.Hooks.MaxConsecutiveErrors)
	errs = nonNegative(errs, "hooks.max_hooks_per_name", cfg.Hooks.MaxHooksPerName)
	for i, hook := range cfg.Hooks.Entries {
		if !hook.Enabled {
			continue
		}
		if !hooks.Name(hook.Event).Valid() {
			errs = append(errs, fmt.Errorf("hook %d: unknown event %q", i, hook.Event))
		}
		if strings.TrimSpace(hook.Script) == "" {
			errs = append(errs, fmt.Errorf("hook %d: script is required", i))
		}
		errs = nonNegative(errs, fmt.Sprintf("hook %d: timeout_ms", i), hook.TimeoutMs)
	}

	for _, name := range sortedNames(cfg.RateLimits) {
		rl := cfg.RateLimits[name]
		prefix := "rate_limits." + name
		if rl.MaxRequests <= 0 {
			errs = append(errs, fmt.Errorf("%s.max_requests must be > 0", prefix))
		}
		errs = nonNegative(errs, prefix+".window_ms", rl.WindowMs)
		errs = nonNegative(errs, prefix+".max_wait_ms", rl.MaxWaitMs)
		if err := v.ValidateOnLimit(rl.OnLimit); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	errs = v.validateBreaker(errs, "circuit_breakers.defaults", cfg.CircuitBreakers.Defaults)
	for _, name := range sortedNames(cfg.CircuitBreakers.Overrides) {
		errs = v.validateBreaker(errs, "circuit_breakers.overrides."+name, cfg.CircuitBreakers.Overrides[name])
	}

	if err := v.ValidateStrategy(cfg.Backoff.Strategy); err != nil {
		errs = append(errs, err)
	}
	errs = nonNegative(errs, "backoff.initial_delay_ms", cfg.Backoff.InitialDelayMs)
	errs = nonNegative(errs, "backoff.max_delay_ms", cfg.Backoff.MaxDelayMs)
	errs = nonNegative(errs, "backoff.increment_ms", cfg.Backoff.IncrementMs)
	errs = nonNegative(errs, "backoff.max_attempts", cfg.Backoff.MaxAttempts)
	if cfg.Backoff.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("backoff.multiplier must be >= 0"))
	}
	if cfg.Backoff.JitterFactor < 0 || cfg.Backoff.JitterFactor > 1 {
		errs = append(errs, fmt.Errorf("backoff.jitter_factor must be between 0 and 1"))
	}
	if cfg.Backoff.MaxDelayMs > 0 && cfg.Backoff.InitialDelayMs > cfg.Backoff.MaxDelayMs {
		errs = append(errs, fmt.Errorf("backoff.initial_delay_ms exceeds max_delay_ms"))
	}

	errs = nonNegative(errs, "idempotency.default_ttl_ms", cfg.Idempotency.DefaultTTLMs)
	errs = nonNegative(errs, "idempotency.max_entries", cfg.Idempotency.MaxEntries)
	if err := v.ValidateSchedule(cfg.Idempotency.CleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("idempotency.cleanup_schedule: %w", err))
	}

	errs = nonNegative(errs, "pipeline.default_timeout_ms", cfg.Pipeline.DefaultTimeoutMs)
	errs = nonNegative(errs, "pipeline.max_output_bytes", cfg.Pipeline.MaxOutputBytes)
	if policy := cfg.Pipeline.ToolPolicy(); policy != nil {
		if err := policy.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("pipeline.policy: %w", err))
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}
	if cfg.Metrics.Path != "" && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /"))
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errs
}

func (v *Validator) validateBreaker(errs []error, prefix string, b BreakerConfig) []error {
	errs = nonNegative(errs, prefix+".failure_threshold", b.FailureThreshold)
	errs = nonNegative(errs, prefix+".success_threshold", b.SuccessThreshold)
	errs = nonNegative(errs, prefix+".reset_timeout_ms", b.ResetTimeoutMs)
	errs = nonNegative(errs, prefix+".half_open_max_calls", b.HalfOpenMaxCalls)
	return errs
}

// Validate joins every problem in cfg into one error, or returns nil.
func (v *Validator) Validate(cfg *Config) error {
	return errors.Join(v.ValidateConfig(cfg)...)
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

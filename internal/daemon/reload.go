package daemon

import (
	"reflect"

	"github.com/harun/callguard/internal/config"
)

// ApplyConfig applies a reloaded configuration. Rate limits are replaced in place;
// changes to other sections take effect on restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	if err := cfg.Validate(); err != nil {
		d.log.Warn().Err(err).Msg("Ignoring invalid configuration")
		return
	}

	d.mu.Lock()
	previous := d.config
	d.config = cfg
	d.mu.Unlock()

	limiterConfigs := cfg.LimiterConfigs(d.logger.Component("ratelimit"))
	updated := 0
	for name, rl := range cfg.RateLimits {
		if old, ok := previous.RateLimits[name]; ok && old == rl {
			continue
		}
		d.limiters.Set(name, limiterConfigs[name])
		updated++
	}
	for name := range previous.RateLimits {
		if _, ok := cfg.RateLimits[name]; !ok {
			d.log.Warn().Str("dependency", name).Msg("Removed rate limit stays active until restart")
		}
	}

	restart := restartRequired(previous, cfg)
	d.log.Info().
		Int("rate_limits_updated", updated).
		Strs("restart_required", restart).
		Msg("Configuration reloaded")
}

// restartRequired lists the sections that differ but are only read at startup.
func restartRequired(prev, next *config.Config) []string {
	var sections []string
	check := func(name string, a, b interface{}) {
		if !reflect.DeepEqual(a, b) {
			sections = append(sections, name)
		}
	}
	check("logging", prev.Logging, next.Logging)
	check("hooks", prev.Hooks, next.Hooks)
	check("circuit_breakers", prev.CircuitBreakers, next.CircuitBreakers)
	check("backoff", prev.Backoff, next.Backoff)
	check("idempotency", prev.Idempotency, next.Idempotency)
	check("pipeline", prev.Pipeline, next.Pipeline)
	check("metrics", prev.Metrics, next.Metrics)
	check("tracing", prev.Tracing, next.Tracing)
	return sections
}

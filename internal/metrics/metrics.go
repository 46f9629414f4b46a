// Package metrics exports callguard's resilience state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/callguard/pkg/circuitbreaker"
	"github.com/harun/callguard/pkg/eventbus"
	"github.com/harun/callguard/pkg/hooks"
	"github.com/harun/callguard/pkg/idempotency"
	"github.com/harun/callguard/pkg/ratelimit"
)

// Metrics holds the Prometheus registry and the event-driven metrics.
type Metrics struct {
	registry *prometheus.Registry

	HookDuration            *prometheus.HistogramVec
	HookErrorsTotal         *prometheus.CounterVec
	HooksDisabledTotal      *prometheus.CounterVec
	CircuitTransitionsTotal *prometheus.CounterVec
}

// NewMetrics creates a registry with Go and process collectors and the event metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		HookDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callguard_hook_duration_seconds",
				Help:    "Run time of successful hook invocations in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"hook_name", "hook"},
		),
		HookErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_hook_errors_total",
				Help: "Failed or timed-out hook invocations",
			},
			[]string{"hook_name", "hook"},
		),
		HooksDisabledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_hooks_disabled_total",
				Help: "Hooks disabled after consecutive failures",
			},
			[]string{"hook_name", "hook"},
		),
		CircuitTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callguard_circuit_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HookDuration,
		m.HookErrorsTotal,
		m.HooksDisabledTotal,
		m.CircuitTransitionsTotal,
	)

	return m
}

// ObserveHook implements hooks.MetricsSink.
func (m *Metrics) ObserveHook(name hooks.Name, hook string, elapsed time.Duration) {
	m.HookDuration.WithLabelValues(string(name), hook).Observe(elapsed.Seconds())
}

// Subscribe counts hook failures and circuit transitions published on bus.
func (m *Metrics) Subscribe(bus *eventbus.Bus) eventbus.Unsubscribe {
	unsubHooks := bus.Subscribe(eventbus.KindHookError, func(evt eventbus.Event) {
		e, ok := evt.(eventbus.HookErrorEvent)
		if !ok {
			return
		}
		m.HookErrorsTotal.WithLabelValues(e.Event, e.HookName).Inc()
		if e.Disabled {
			m.HooksDisabledTotal.WithLabelValues(e.Event, e.HookName).Inc()
		}
	})
	unsubCircuits := bus.Subscribe(eventbus.KindCircuitStateChanged, func(evt eventbus.Event) {
		e, ok := evt.(eventbus.CircuitStateChangedEvent)
		if !ok {
			return
		}
		m.CircuitTransitionsTotal.WithLabelValues(e.Name, e.From, e.To).Inc()
	})

	return func() {
		unsubHooks()
		unsubCircuits()
	}
}

// WatchBreakers exports the state and counters of every breaker in r at scrape time.
func (m *Metrics) WatchBreakers(r *circuitbreaker.Registry) error {
	return m.registry.Register(&breakerCollector{registry: r})
}

// WatchLimiters exports the state and counters of every limiter in r at scrape time.
func (m *Metrics) WatchLimiters(r *ratelimit.Registry) error {
	return m.registry.Register(&limiterCollector{registry: r})
}

// WatchCache exports the idempotency cache counters at scrape time.
func (m *Metrics) WatchCache(c *idempotency.Cache) error {
	return m.registry.Register(&cacheCollector{cache: c})
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

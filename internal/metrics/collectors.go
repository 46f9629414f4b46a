package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/harun/callguard/pkg/circuitbreaker"
	"github.com/harun/callguard/pkg/idempotency"
	"github.com/harun/callguard/pkg/ratelimit"
)

var (
	circuitStateDesc = prometheus.NewDesc(
		"callguard_circuit_state",
		"1 for the current state of each circuit breaker, 0 otherwise",
		[]string{"dependency", "state"}, nil,
	)
	circuitCallsDesc = prometheus.NewDesc(
		"callguard_circuit_calls_total",
		"Calls seen by each circuit breaker by result (success, failure, rejected)",
		[]string{"dependency", "result"}, nil,
	)
	circuitConsecutiveFailuresDesc = prometheus.NewDesc(
		"callguard_circuit_consecutive_failures",
		"Current run of consecutive failures per circuit breaker",
		[]string{"dependency"}, nil,
	)

	limiterTokensDesc = prometheus.NewDesc(
		"callguard_ratelimit_available_tokens",
		"Permits left in the current window",
		[]string{"dependency"}, nil,
	)
	limiterQueueDesc = prometheus.NewDesc(
		"callguard_ratelimit_queue_length",
		"Callers waiting for a permit",
		[]string{"dependency"}, nil,
	)
	limiterRequestsDesc = prometheus.NewDesc(
		"callguard_ratelimit_requests_total",
		"Permit requests by result (acquired, rejected, waited)",
		[]string{"dependency", "result"}, nil,
	)
	limiterWaitDesc = prometheus.NewDesc(
		"callguard_ratelimit_average_wait_seconds",
		"Average time queued callers waited for a permit",
		[]string{"dependency"}, nil,
	)

	cacheEntriesDesc = prometheus.NewDesc(
		"callguard_idempotency_entries",
		"Entries held by the idempotency cache",
		nil, nil,
	)
	cacheLookupsDesc = prometheus.NewDesc(
		"callguard_idempotency_lookups_total",
		"Idempotency cache lookups by result (hit, miss)",
		[]string{"result"}, nil,
	)
	cacheEvictionsDesc = prometheus.NewDesc(
		"callguard_idempotency_evictions_total",
		"Entries evicted to stay within the size bound",
		nil, nil,
	)
)

var circuitStates = []circuitbreaker.State{circuitbreaker.Closed, circuitbreaker.Open, circuitbreaker.HalfOpen}

type breakerCollector struct {
	registry *circuitbreaker.Registry
}

func (c *breakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- circuitStateDesc
	ch <- circuitCallsDesc
	ch <- circuitConsecutiveFailuresDesc
}

func (c *breakerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.Stats() {
		for _, state := range circuitStates {
			value := 0.0
			if s.State == state {
				value = 1
			}
			ch <- prometheus.MustNewConstMetric(circuitStateDesc, prometheus.GaugeValue, value, s.Name, string(state))
		}
		ch <- prometheus.MustNewConstMetric(circuitCallsDesc, prometheus.CounterValue, float64(s.TotalSuccesses), s.Name, "success")
		ch <- prometheus.MustNewConstMetric(circuitCallsDesc, prometheus.CounterValue, float64(s.TotalFailures), s.Name, "failure")
		ch <- prometheus.MustNewConstMetric(circuitCallsDesc, prometheus.CounterValue, float64(s.TotalRejected), s.Name, "rejected")
		ch <- prometheus.MustNewConstMetric(circuitConsecutiveFailuresDesc, prometheus.GaugeValue, float64(s.ConsecutiveFailures), s.Name)
	}
}

type limiterCollector struct {
	registry *ratelimit.Registry
}

func (c *limiterCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- limiterTokensDesc
	ch <- limiterQueueDesc
	ch <- limiterRequestsDesc
	ch <- limiterWaitDesc
}

func (c *limiterCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.registry.Stats() {
		ch <- prometheus.MustNewConstMetric(limiterTokensDesc, prometheus.GaugeValue, float64(s.AvailableTokens), s.Name)
		ch <- prometheus.MustNewConstMetric(limiterQueueDesc, prometheus.GaugeValue, float64(s.QueueLength), s.Name)
		ch <- prometheus.MustNewConstMetric(limiterRequestsDesc, prometheus.CounterValue, float64(s.TotalAcquired), s.Name, "acquired")
		ch <- prometheus.MustNewConstMetric(limiterRequestsDesc, prometheus.CounterValue, float64(s.TotalRejected), s.Name, "rejected")
		ch <- prometheus.MustNewConstMetric(limiterRequestsDesc, prometheus.CounterValue, float64(s.TotalWaited), s.Name, "waited")
		ch <- prometheus.MustNewConstMetric(limiterWaitDesc, prometheus.GaugeValue, s.AverageWait.Seconds(), s.Name)
	}
}

type cacheCollector struct {
	cache *idempotency.Cache
}

func (c *cacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheEntriesDesc
	ch <- cacheLookupsDesc
	ch <- cacheEvictionsDesc
}

func (c *cacheCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(cacheEntriesDesc, prometheus.GaugeValue, float64(s.Entries))
	ch <- prometheus.MustNewConstMetric(cacheLookupsDesc, prometheus.CounterValue, float64(s.Hits), "hit")
	ch <- prometheus.MustNewConstMetric(cacheLookupsDesc, prometheus.CounterValue, float64(s.Misses), "miss")
	ch <- prometheus.MustNewConstMetric(cacheEvictionsDesc, prometheus.CounterValue, float64(s.Evictions))
}

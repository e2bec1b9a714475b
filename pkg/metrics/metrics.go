// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes.
const (
	OutcomeCache            = "cache"
	OutcomeLive             = "api"
	OutcomeQuotaExceeded    = "quota_exceeded"
	OutcomeStoreUnavailable = "store_unavailable"
	OutcomeBadRequest       = "bad_request"
	OutcomeError            = "error"
)

// Metrics groups the collectors. A nil *Metrics discards observations.
type Metrics struct {
	requests          *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	aggregateDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agorai",
			Name:      "query_requests_total",
			Help:      "Queries handled, by outcome.",
		}, []string{"outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agorai",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups, by result.",
		}, []string{"result"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agorai",
			Name:      "provider_calls_total",
			Help:      "Provider calls, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agorai",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of a single provider call.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"provider"}),
		aggregateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agorai",
			Name:      "aggregate_duration_seconds",
			Help:      "Time until every provider answered for one query.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
	}
	reg.MustRegister(m.requests, m.cacheLookups, m.providerCalls, m.providerDuration, m.aggregateDuration)
	return m
}

// Request counts one handled query.
func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

// CacheLookup counts one cache lookup.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ProviderCall records one provider call.
func (m *Metrics) ProviderCall(provider string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	m.providerCalls.WithLabelValues(provider, outcome).Inc()
	m.providerDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// Aggregate records the duration of one fan-out.
func (m *Metrics) Aggregate(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregateDuration.Observe(d.Seconds())
}

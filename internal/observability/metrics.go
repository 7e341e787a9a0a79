// Package observability provides Prometheus metrics for the aggregation pipeline.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "defi_scout"

// Provider call outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeCached  = "cached"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	Aggregations     *prometheus.CounterVec
	FetchRetries     *prometheus.CounterVec
	ChatRequests     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Provider calls by outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Provider call latency, cache hits excluded",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Response cache lookups by result",
		}, []string{"cache", "result"}),
		Aggregations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "aggregations_total",
			Help:      "Aggregations by outcome (profile, featured, failure, unresolved)",
		}, []string{"outcome"}),
		FetchRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "retries_total",
			Help:      "HTTP retries by provider and reason",
		}, []string{"provider", "reason"}),
		ChatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "advisor",
			Name:      "chat_requests_total",
			Help:      "Chat requests by front-end",
		}, []string{"channel"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordProvider(provider, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomeFailure {
		m.ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
	}
}

func (m *Metrics) RecordCache(cache, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) RecordAggregation(outcome string) {
	if m == nil {
		return
	}
	m.Aggregations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordRetry(provider, reason string) {
	if m == nil {
		return
	}
	m.FetchRetries.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) RecordChat(channel string) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(channel).Inc()
}

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported by the orchestration
// layer. A nil *Metrics is valid and records nothing, so tests and
// embedders that do not scrape can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	invocations    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	breakerState   *prometheus.GaugeVec
	quotaUsed      *prometheus.GaugeVec
}

// NewMetrics registers the orchestration collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestration",
			Name:      "provider_attempts_total",
			Help:      "Provider attempts by category, provider and outcome.",
		}, []string{"category", "provider", "outcome"}),
		attemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestration",
			Name:      "provider_attempt_duration_seconds",
			Help:      "Latency of provider attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category", "provider"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestration",
			Name:      "invocations_total",
			Help:      "Invoke calls by category and result.",
		}, []string{"category", "result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestration",
			Name:      "cache_hits_total",
			Help:      "Response cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestration",
			Name:      "cache_misses_total",
			Help:      "Response cache misses.",
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestration",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open).",
		}, []string{"provider"}),
		quotaUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestration",
			Name:      "quota_used",
			Help:      "Consumed units of the current quota window.",
		}, []string{"provider", "scope"}),
	}

	reg.MustRegister(m.attempts, m.attemptLatency, m.invocations,
		m.cacheHits, m.cacheMisses, m.breakerState, m.quotaUsed)
	return m
}

// Handler returns the scrape endpoint for the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAttempt records one provider attempt and its latency.
func (m *Metrics) ObserveAttempt(category, provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(category, provider, outcome).Inc()
	if seconds > 0 {
		m.attemptLatency.WithLabelValues(category, provider).Observe(seconds)
	}
}

// ObserveInvocation records the terminal result of one Invoke call.
// Result is "success", "cached" or the failure error type.
func (m *Metrics) ObserveInvocation(category, result string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(category, result).Inc()
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// SetBreakerState publishes the breaker state gauge for a provider.
func (m *Metrics) SetBreakerState(provider string, state float64) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(state)
}

// SetQuotaUsed publishes consumed units for a provider quota scope.
func (m *Metrics) SetQuotaUsed(provider, scope string, used float64) {
	if m == nil {
		return
	}
	m.quotaUsed.WithLabelValues(provider, scope).Set(used)
}

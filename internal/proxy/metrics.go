package proxy

import "github.com/prometheus/client_golang/prometheus"

// metricsSet is the additive /metrics surface: it observes the same request
// lifecycle the ledger records, but carries no state of its own and is safe
// to omit or restart independently of the ledger.
type metricsSet struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	m := &metricsSet{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cruise_requests_total",
			Help: "Total proxied requests by provider, model and outcome.",
		}, []string{"provider", "model", "success"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cruise_tokens_total",
			Help: "Total tokens accounted by provider, model and token kind.",
		}, []string{"provider", "model", "kind"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cruise_request_duration_seconds",
			Help:    "Upstream request latency by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	reg.MustRegister(m.requestsTotal, m.tokensTotal, m.requestDuration)
	return m
}

func (m *metricsSet) observe(provider, model string, success bool, latencySeconds float64, u extractedUsage) {
	if m == nil {
		return
	}
	successLabel := "true"
	if !success {
		successLabel = "false"
	}
	m.requestsTotal.WithLabelValues(provider, model, successLabel).Inc()
	m.requestDuration.WithLabelValues(provider).Observe(latencySeconds)
	m.tokensTotal.WithLabelValues(provider, model, "input").Add(float64(u.InputTokens))
	m.tokensTotal.WithLabelValues(provider, model, "output").Add(float64(u.OutputTokens))
	m.tokensTotal.WithLabelValues(provider, model, "cache_read").Add(float64(u.CacheReadTokens))
	m.tokensTotal.WithLabelValues(provider, model, "cache_write").Add(float64(u.CacheWriteTokens))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registry and historian collectors.
type Metrics struct {
	registry *prometheus.Registry

	registryQueries  *prometheus.CounterVec
	registryLatency  prometheus.Histogram
	historyRequests  *prometheus.CounterVec
	historyLatency   *prometheus.HistogramVec
	liveSubscribers  prometheus.Gauge
	endpointsByState *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registryQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "endpoint_registry_queries_total",
			Help: "Registry queries by outcome.",
		}, []string{"outcome"}),
		registryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "endpoint_registry_query_seconds",
			Help:    "Latency of registry queries.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		historyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "historian_requests_total",
			Help: "Dispatched history requests by variant and outcome.",
		}, []string{"variant", "outcome"}),
		historyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "historian_request_seconds",
			Help:    "End-to-end latency of dispatched history requests.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"variant"}),
		liveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "historian_live_subscribers",
			Help: "Connected WebSocket clients receiving dispatch events.",
		}),
		endpointsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "endpoint_registry_endpoints",
			Help: "Live registered endpoints by state.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.registryQueries,
		m.registryLatency,
		m.historyRequests,
		m.historyLatency,
		m.liveSubscribers,
		m.endpointsByState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveRegistryQuery(outcome string, elapsed time.Duration) {
	m.registryQueries.WithLabelValues(outcome).Inc()
	m.registryLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveExecution(variant, outcome string, elapsed time.Duration) {
	m.historyRequests.WithLabelValues(variant, outcome).Inc()
	m.historyLatency.WithLabelValues(variant).Observe(elapsed.Seconds())
}

func (m *Metrics) SetLiveSubscribers(n int) {
	m.liveSubscribers.Set(float64(n))
}

// SetEndpointCounts replaces the per-state gauge with counts.
func (m *Metrics) SetEndpointCounts(counts map[string]int) {
	m.endpointsByState.Reset()
	for state, n := range counts {
		m.endpointsByState.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

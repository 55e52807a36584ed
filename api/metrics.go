package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
)

const metricsNamespace = "userdirectory"

// Metrics records router and registry activity. It implements
// session.Observer so the registry can report creations and evictions.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsCreated prometheus.Counter
	sessionsEvicted *prometheus.CounterVec
	sessionLifetime prometheus.Histogram
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a dedicated prometheus registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held by the registry.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed from the registry, by close reason.",
		}, []string{"reason"}),
		sessionLifetime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "session_lifetime_seconds",
			Help:      "Time between session creation and eviction.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 4 * 3600},
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rpc_requests_total",
			Help:      "HTTP calls on the RPC endpoint, by verb and status.",
		}, []string{"verb", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Duration of HTTP calls on the RPC endpoint.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.sessionsCreated,
		m.sessionsEvicted,
		m.sessionLifetime,
		m.requests,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SessionCreated implements session.Observer
func (m *Metrics) SessionCreated(id string) {
	m.sessionsCreated.Inc()
	m.sessionsActive.Inc()
}

// SessionEvicted implements session.Observer
func (m *Metrics) SessionEvicted(id string, reason engine.CloseReason, lifetime time.Duration) {
	m.sessionsActive.Dec()
	m.sessionsEvicted.WithLabelValues(string(reason)).Inc()
	m.sessionLifetime.Observe(lifetime.Seconds())
}

// ObserveRequest records one call on the RPC endpoint
func (m *Metrics) ObserveRequest(verb string, status int, took time.Duration) {
	m.requests.WithLabelValues(verb, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(verb).Observe(took.Seconds())
}

// Handler serves the collected metrics in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gatherer exposes the underlying registry, for tests
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

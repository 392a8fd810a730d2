// Package metrics provides Prometheus metrics for the edge server.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "tierroute"

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge

	decisionsTotal  *prometheus.CounterVec
	queryLatency    *prometheus.HistogramVec
	outcomesTotal   *prometheus.CounterVec
	dispatchErrors  *prometheus.CounterVec
	tierLoad        *prometheus.GaugeVec
	cacheLookups    *prometheus.CounterVec
	cacheEvictions  prometheus.Counter
	cacheEntries    prometheus.Gauge
	heartbeatsTotal *prometheus.CounterVec
	devicesKnown    prometheus.Gauge
	devicesAlive    prometheus.Gauge
	recordsDropped  prometheus.Counter
	sinkErrors      *prometheus.CounterVec
	healthStatus    prometheus.Gauge
}

// NewMetrics creates metrics registered on reg. A nil reg gets a fresh registry
// carrying the Go and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   latencyBuckets,
			},
			[]string{"method", "path"},
		),
		requestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
		decisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "routing_decisions_total",
				Help:      "Routing decisions by chosen tier and reason",
			},
			[]string{"tier", "reason", "cache_hit"},
		),
		queryLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "Round-trip latency of routed queries",
				Buckets:   latencyBuckets,
			},
			[]string{"tier", "reason"},
		),
		outcomesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_outcomes_total",
				Help:      "Query outcomes",
			},
			[]string{"outcome"},
		),
		dispatchErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_errors_total",
				Help:      "Failed dispatches by tier and error code",
			},
			[]string{"tier", "code"},
		),
		tierLoad: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tier_load_score",
				Help:      "Most recent load score per tier",
			},
			[]string{"tier"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Query cache lookups by result",
			},
			[]string{"result"},
		),
		cacheEvictions: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Query cache capacity evictions",
			},
		),
		cacheEntries: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Entries currently held by the query cache",
			},
		),
		heartbeatsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Heartbeats received by status and source",
			},
			[]string{"status", "source"},
		),
		devicesKnown: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_known",
				Help:      "Devices with a liveness record",
			},
		),
		devicesAlive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "devices_reachable",
				Help:      "Devices currently eligible for device-tier routing",
			},
		),
		recordsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recorder_dropped_total",
				Help:      "Query records dropped because the recorder queue was full",
			},
		),
		sinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recorder_sink_errors_total",
				Help:      "Metrics sink write failures",
			},
			[]string{"sink"},
		),
		healthStatus: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_status",
				Help:      "Health status of the edge server (1 = healthy, 0 = unhealthy)",
			},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncRequestsInFlight increments the in-flight requests gauge.
func (m *Metrics) IncRequestsInFlight() {
	m.requestsInFlight.Inc()
}

// DecRequestsInFlight decrements the in-flight requests gauge.
func (m *Metrics) DecRequestsInFlight() {
	m.requestsInFlight.Dec()
}

// RecordQuery records the decision, outcome and latency of one query.
func (m *Metrics) RecordQuery(tier, reason, outcome string, cacheHit bool, latency time.Duration) {
	m.decisionsTotal.WithLabelValues(tier, reason, strconv.FormatBool(cacheHit)).Inc()
	m.queryLatency.WithLabelValues(tier, reason).Observe(latency.Seconds())
	m.outcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatchError records a failed dispatch.
func (m *Metrics) RecordDispatchError(tier, code string) {
	m.dispatchErrors.WithLabelValues(tier, code).Inc()
}

// SetTierLoad sets the latest load score of a tier.
func (m *Metrics) SetTierLoad(tier string, load float64) {
	m.tierLoad.WithLabelValues(tier).Set(load)
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

// IncCacheEvictions counts one capacity eviction.
func (m *Metrics) IncCacheEvictions() {
	m.cacheEvictions.Inc()
}

// SetCacheEntries sets the number of cached entries.
func (m *Metrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}

// RecordHeartbeat counts a heartbeat; source is "local" or "gossip".
func (m *Metrics) RecordHeartbeat(status, source string) {
	m.heartbeatsTotal.WithLabelValues(status, source).Inc()
}

// SetDevices sets the known and reachable device gauges.
func (m *Metrics) SetDevices(known, reachable int) {
	m.devicesKnown.Set(float64(known))
	m.devicesAlive.Set(float64(reachable))
}

// IncRecordsDropped counts a dropped query record.
func (m *Metrics) IncRecordsDropped() {
	m.recordsDropped.Inc()
}

// RecordSinkError counts a sink failure.
func (m *Metrics) RecordSinkError(sink string) {
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// SetHealthStatus sets the health status.
func (m *Metrics) SetHealthStatus(healthy bool) {
	if healthy {
		m.healthStatus.Set(1)
	} else {
		m.healthStatus.Set(0)
	}
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// MetricsServer provides a separate HTTP server for Prometheus metrics.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a new metrics server.
func NewMetricsServer(port int, path string, m *Metrics, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("Starting metrics server", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the metrics server.
func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}

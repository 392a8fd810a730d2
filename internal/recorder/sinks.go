package recorder

import (
	"context"
	"time"

	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
)

// LogSink writes one structured log line per query
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name implements Sink
func (s *LogSink) Name() string { return "log" }

// Write implements Sink
func (s *LogSink) Write(_ context.Context, rec model.QueryRecord) error {
	s.logger.Info("Query routed",
		zap.String("query_id", rec.QueryID),
		zap.String("device_id", rec.DeviceID),
		zap.Float64("cpu_load", rec.Metrics.CPULoad),
		zap.Float64("ram_usage", rec.Metrics.RAMUsage),
		zap.Float64("bandwidth", rec.Metrics.Bandwidth),
		zap.Int("query_size", int(rec.Metrics.QuerySize)),
		zap.String("route", rec.Route.String()),
		zap.String("reason", string(rec.Reason)),
		zap.String("outcome", string(rec.Outcome)),
		zap.Bool("cache_hit", rec.CacheHit),
		zap.Float64("latency_seconds", rec.LatencySeconds))
	return nil
}

// Close implements Sink
func (s *LogSink) Close() error { return nil }

// PrometheusSink turns records into routing counters and latency histograms
type PrometheusSink struct {
	metrics *metrics.Metrics
}

// NewPrometheusSink creates a Prometheus sink
func NewPrometheusSink(m *metrics.Metrics) *PrometheusSink {
	return &PrometheusSink{metrics: m}
}

// Name implements Sink
func (s *PrometheusSink) Name() string { return "prometheus" }

// Write implements Sink
func (s *PrometheusSink) Write(_ context.Context, rec model.QueryRecord) error {
	s.metrics.RecordQuery(rec.Route.String(), string(rec.Reason), string(rec.Outcome), rec.CacheHit,
		secondsToDuration(rec.LatencySeconds))
	return nil
}

// Close implements Sink
func (s *PrometheusSink) Close() error { return nil }

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

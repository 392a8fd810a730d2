package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
)

// StatsReporter periodically publishes cache, liveness and tier load gauges
type StatsReporter struct {
	cache    *QueryCache
	tracker  *LivenessTracker
	pipeline *QueryPipeline
	metrics  *metrics.Metrics
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
}

// NewStatsReporter creates a stats reporter. clk may be nil.
func NewStatsReporter(cache *QueryCache, tracker *LivenessTracker, pipeline *QueryPipeline, m *metrics.Metrics, interval time.Duration, clk clock.Clock, logger *zap.Logger) *StatsReporter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	return &StatsReporter{
		cache:    cache,
		tracker:  tracker,
		pipeline: pipeline,
		metrics:  m,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Report publishes the current values once
func (r *StatsReporter) Report(ctx context.Context) {
	r.metrics.SetCacheEntries(r.cache.Len())

	stats := r.tracker.Stats()
	r.metrics.SetDevices(stats.Known, stats.Reachable)

	edge := r.pipeline.EdgeLoad(ctx)
	cloud := r.pipeline.CloudLoad(ctx)
	r.metrics.SetTierLoad(model.TierEdge.String(), edge)
	r.metrics.SetTierLoad(model.TierCloud.String(), cloud)

	r.logger.Debug("Published stats",
		zap.Int("cache_entries", r.cache.Len()),
		zap.Int("devices_known", stats.Known),
		zap.Int("devices_reachable", stats.Reachable),
		zap.Float64("edge_load", edge),
		zap.Float64("cloud_load", cloud))
}

// Run reports every interval until ctx is done
func (r *StatsReporter) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	for {
		r.Report(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

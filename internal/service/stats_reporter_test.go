package service_test

import (
	"context"
	"testing"

	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func gauge(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("gauge %s%v not found", name, labels)
	return 0
}

func TestStatsReporter_Report(t *testing.T) {
	f := setupPipeline(t, nil)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	f.tracker.ReportHeartbeat("D1", true)
	f.tracker.ReportHeartbeat("D2", false)
	f.cache.Put("fp", model.CacheEntry{Route: model.TierEdge, Reason: model.ReasonLoadHeuristic})

	service.NewStatsReporter(f.cache, f.tracker, f.pipeline, m, 0, nil, zap.NewNop()).Report(context.Background())

	assert.Equal(t, 1.0, gauge(t, reg, "tierroute_cache_entries", nil))
	assert.Equal(t, 2.0, gauge(t, reg, "tierroute_devices_known", nil))
	assert.Equal(t, 1.0, gauge(t, reg, "tierroute_devices_reachable", nil))
	assert.InDelta(t, 0.9, gauge(t, reg, "tierroute_tier_load_score", map[string]string{"tier": "Edge"}), 1e-9)
	assert.InDelta(t, 1.2, gauge(t, reg, "tierroute_tier_load_score", map[string]string{"tier": "Cloud"}), 1e-9)
	n, err := testutil.GatherAndCount(reg, "tierroute_tier_load_score")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

package service_test

import (
	"testing"

	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/service"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type reachability map[string]bool

func (r reachability) IsReachable(deviceID string) bool { return r[deviceID] }

func tierPtr(t model.Tier) *model.Tier { return &t }

func TestRoutingEngine_Decide(t *testing.T) {
	engine := service.NewRoutingEngine(reachability{"alive": true}, zap.NewNop())
	m := model.Metrics{CPULoad: 20, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeSmall}

	tests := []struct {
		name     string
		deviceID string
		loads    model.TierLoads
		hint     *model.Tier
		want     model.RoutingDecision
	}{
		{
			name:     "unknown device fails over to edge",
			deviceID: "D1",
			loads:    model.TierLoads{Device: 0.46, Edge: 0.9, Cloud: 1.2},
			want:     model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover},
		},
		{
			name:     "failover prefers edge on tie",
			deviceID: "D1",
			loads:    model.TierLoads{Device: 0.1, Edge: 1.0, Cloud: 1.0},
			want:     model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover},
		},
		{
			name:     "failover to lighter cloud",
			deviceID: "D1",
			loads:    model.TierLoads{Device: 0.1, Edge: 1.3, Cloud: 1.2},
			want:     model.RoutingDecision{Tier: model.TierCloud, Reason: model.ReasonFailover},
		},
		{
			name:     "failover ignores device hint",
			deviceID: "D1",
			loads:    model.TierLoads{Device: 0.1, Edge: 0.9, Cloud: 1.2},
			hint:     tierPtr(model.TierDevice),
			want:     model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover},
		},
		{
			name:     "classifier overrides heuristic",
			deviceID: "alive",
			loads:    model.TierLoads{Device: 2.0, Edge: 1.5, Cloud: 0.5},
			hint:     tierPtr(model.TierEdge),
			want:     model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonClassifierOverride},
		},
		{
			name:     "heuristic picks lightest",
			deviceID: "alive",
			loads:    model.TierLoads{Device: 2.0, Edge: 1.5, Cloud: 0.5},
			want:     model.RoutingDecision{Tier: model.TierCloud, Reason: model.ReasonLoadHeuristic},
		},
		{
			name:     "heuristic tie prefers device",
			deviceID: "alive",
			loads:    model.TierLoads{Device: 0.8, Edge: 0.8, Cloud: 1.1},
			want:     model.RoutingDecision{Tier: model.TierDevice, Reason: model.ReasonLoadHeuristic},
		},
		{
			name:     "heuristic tie prefers edge over cloud",
			deviceID: "alive",
			loads:    model.TierLoads{Device: 1.4, Edge: 0.7, Cloud: 0.7},
			want:     model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonLoadHeuristic},
		},
		{
			name:     "invalid hint is ignored",
			deviceID: "alive",
			loads:    model.TierLoads{Device: 0.2, Edge: 0.7, Cloud: 0.9},
			hint:     tierPtr(model.Tier(7)),
			want:     model.RoutingDecision{Tier: model.TierDevice, Reason: model.ReasonLoadHeuristic},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Decide(tt.deviceID, m, tt.loads, tt.hint))
		})
	}
}

func TestRoutingEngine_FailoverNeverPicksDevice(t *testing.T) {
	engine := service.NewRoutingEngine(reachability{}, zap.NewNop())
	values := []float64{0, 0.25, 0.5, 1, 2}

	for _, d := range values {
		for _, e := range values {
			for _, c := range values {
				for _, hint := range append([]*model.Tier{nil}, tierPtr(model.TierDevice), tierPtr(model.TierEdge), tierPtr(model.TierCloud)) {
					decision := engine.Decide("gone", model.Metrics{}, model.TierLoads{Device: d, Edge: e, Cloud: c}, hint)
					assert.NotEqual(t, model.TierDevice, decision.Tier)
					assert.Equal(t, model.ReasonFailover, decision.Reason)
				}
			}
		}
	}
}

func TestRoutingEngine_WithLivenessTracker(t *testing.T) {
	tracker, _ := setupTracker(0)
	engine := service.NewRoutingEngine(tracker, zap.NewNop())
	loads := model.TierLoads{Device: 0.46, Edge: 0.9, Cloud: 1.2}

	assert.Equal(t, model.TierEdge, engine.Decide("D1", model.Metrics{}, loads, nil).Tier)

	tracker.ReportHeartbeat("D1", true)
	assert.Equal(t,
		model.RoutingDecision{Tier: model.TierDevice, Reason: model.ReasonLoadHeuristic},
		engine.Decide("D1", model.Metrics{}, loads, nil))

	tracker.ReportHeartbeat("D1", false)
	assert.Equal(t,
		model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover},
		engine.Decide("D1", model.Metrics{}, loads, nil))
}

package service

import (
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
)

// ReachabilityChecker answers whether a device can currently process its own queries
type ReachabilityChecker interface {
	IsReachable(deviceID string) bool
}

// RoutingEngine reconciles liveness, tier loads and an optional classifier hint into one decision.
// It holds no mutable state.
type RoutingEngine struct {
	liveness ReachabilityChecker
	logger   *zap.Logger
}

// NewRoutingEngine creates a new routing engine
func NewRoutingEngine(liveness ReachabilityChecker, logger *zap.Logger) *RoutingEngine {
	return &RoutingEngine{
		liveness: liveness,
		logger:   logger,
	}
}

// Decide picks the tier for a query.
//
// An unreachable (or unknown) device always fails over to the lighter of Edge and Cloud,
// preferring Edge on a tie. Otherwise a classifier hint wins unconditionally, and without one
// the least-loaded tier is chosen with ties broken Device, Edge, Cloud.
func (e *RoutingEngine) Decide(deviceID string, m model.Metrics, loads model.TierLoads, hint *model.Tier) model.RoutingDecision {
	var decision model.RoutingDecision

	switch {
	case !e.liveness.IsReachable(deviceID):
		decision = model.RoutingDecision{Tier: model.TierCloud, Reason: model.ReasonFailover}
		if loads.Edge <= loads.Cloud {
			decision.Tier = model.TierEdge
		}
	case hint != nil && hint.Valid():
		decision = model.RoutingDecision{Tier: *hint, Reason: model.ReasonClassifierOverride}
	default:
		decision = model.RoutingDecision{Tier: lightestTier(loads), Reason: model.ReasonLoadHeuristic}
	}

	e.logger.Debug("Routing decision",
		zap.String("device_id", deviceID),
		zap.String("tier", decision.Tier.String()),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("cpu_load", m.CPULoad),
		zap.Float64("device_load", loads.Device),
		zap.Float64("edge_load", loads.Edge),
		zap.Float64("cloud_load", loads.Cloud))

	return decision
}

// Reachable reports whether the device may currently be routed to the Device tier
func (e *RoutingEngine) Reachable(deviceID string) bool {
	return e.liveness.IsReachable(deviceID)
}

// lightestTier scans in preference order so earlier tiers win ties
func lightestTier(loads model.TierLoads) model.Tier {
	best := model.AllTiers[0]
	for _, t := range model.AllTiers[1:] {
		if loads.Of(t) < loads.Of(best) {
			best = t
		}
	}
	return best
}

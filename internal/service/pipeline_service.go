package service

import (
	"context"

	"github.com/benbjohnson/clock"
	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher delivers a routed query to the handler of its tier
type Dispatcher interface {
	Dispatch(ctx context.Context, tier model.Tier, query model.Query) (model.Outcome, error)
}

// Recorder accepts query records without blocking the caller
type Recorder interface {
	Record(record model.QueryRecord)
}

// PipelineDeps holds the collaborators of a query pipeline. Classifier and Recorder may be nil.
type PipelineDeps struct {
	Cache      *QueryCache
	Estimator  *LoadEstimator
	Engine     *RoutingEngine
	Classifier TierClassifier
	Edge       TierMetricsProvider
	Cloud      TierMetricsProvider
	Dispatcher Dispatcher
	Recorder   Recorder
	Clock      clock.Clock
}

// QueryPipeline runs one query from cache lookup to dispatch and recording
type QueryPipeline struct {
	deps   PipelineDeps
	clock  clock.Clock
	logger *zap.Logger
}

// NewQueryPipeline creates a new query pipeline
func NewQueryPipeline(deps PipelineDeps, logger *zap.Logger) *QueryPipeline {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	if deps.Estimator == nil {
		deps.Estimator = NewLoadEstimator()
	}
	return &QueryPipeline{
		deps:   deps,
		clock:  clk,
		logger: logger,
	}
}

// Process routes and dispatches a query.
// A cache hit reuses the cached route and payload and skips the decision and dispatch,
// unless the cached route is Device and the device is no longer reachable.
// A dispatch failure is returned together with a rejected result.
func (p *QueryPipeline) Process(ctx context.Context, query model.Query) (model.QueryResult, error) {
	if query.DeviceID == "" {
		return model.QueryResult{Outcome: model.OutcomeRejected}, apperrors.MalformedInput("device_id", "is required")
	}
	if query.ID == "" {
		query.ID = uuid.NewString()
	}

	start := p.clock.Now()
	fingerprint := p.deps.Cache.Fingerprint(query.DeviceID, query.Metrics)

	entry, found := p.deps.Cache.Get(fingerprint)
	if found && entry.Route == model.TierDevice && !p.deps.Engine.Reachable(query.DeviceID) {
		p.logger.Debug("Cached Device route no longer eligible",
			zap.String("query_id", query.ID),
			zap.String("device_id", query.DeviceID),
			zap.String("fingerprint", fingerprint))
		found = false
	}

	if found {
		result := model.QueryResult{
			QueryID:  query.ID,
			Decision: model.RoutingDecision{Tier: entry.Route, Reason: entry.Reason},
			Outcome:  outcomeOf(entry.Route),
			CacheHit: true,
			Latency:  p.clock.Since(start),
		}
		p.logger.Debug("Cache hit",
			zap.String("query_id", query.ID),
			zap.String("device_id", query.DeviceID),
			zap.String("fingerprint", fingerprint))
		p.record(query, result)
		return result, nil
	}

	loads := p.loads(ctx, query.Metrics)
	hint := p.hint(ctx, query.Metrics)
	decision := p.deps.Engine.Decide(query.DeviceID, query.Metrics, loads, hint)

	route := decision.Tier
	query.Route = &route
	p.deps.Cache.Put(fingerprint, model.CacheEntry{
		QueryID: query.ID,
		Payload: query.Payload,
		Route:   decision.Tier,
		Reason:  decision.Reason,
	})

	outcome, err := p.deps.Dispatcher.Dispatch(ctx, decision.Tier, query)
	result := model.QueryResult{
		QueryID:  query.ID,
		Decision: decision,
		Outcome:  outcome,
		Latency:  p.clock.Since(start),
	}

	if err != nil {
		// a failed dispatch must not be served from cache later; a newer entry is left alone
		p.deps.Cache.RemoveIfOwned(fingerprint, query.ID)
		result.Outcome = model.OutcomeRejected
		p.logger.Warn("Dispatch failed",
			zap.String("query_id", query.ID),
			zap.String("device_id", query.DeviceID),
			zap.String("tier", decision.Tier.String()),
			zap.Error(err))
		p.record(query, result)
		return result, err
	}

	p.record(query, result)
	return result, nil
}

// loads scores the device's own metrics and the current edge and cloud snapshots
func (p *QueryPipeline) loads(ctx context.Context, m model.Metrics) model.TierLoads {
	return p.deps.Estimator.Loads(m.Resources(), p.snapshot(ctx, model.TierEdge, p.deps.Edge), p.snapshot(ctx, model.TierCloud, p.deps.Cloud))
}

// EdgeLoad returns the current load score of the edge tier
func (p *QueryPipeline) EdgeLoad(ctx context.Context) float64 {
	return p.deps.Estimator.Score(p.snapshot(ctx, model.TierEdge, p.deps.Edge))
}

// CloudLoad returns the current load score of the cloud tier
func (p *QueryPipeline) CloudLoad(ctx context.Context) float64 {
	return p.deps.Estimator.Score(p.snapshot(ctx, model.TierCloud, p.deps.Cloud))
}

func (p *QueryPipeline) snapshot(ctx context.Context, tier model.Tier, provider TierMetricsProvider) model.ResourceMetrics {
	if provider == nil {
		return model.ResourceMetrics{}
	}
	m, err := provider.Snapshot(ctx)
	if err != nil {
		p.logger.Warn("Failed to read tier metrics",
			zap.String("tier", tier.String()),
			zap.Error(err))
		return model.ResourceMetrics{}
	}
	return m
}

// hint treats a missing or failing classifier as no recommendation
func (p *QueryPipeline) hint(ctx context.Context, m model.Metrics) *model.Tier {
	if p.deps.Classifier == nil {
		return nil
	}
	tier, err := p.deps.Classifier.Predict(ctx, m)
	if err != nil {
		p.logger.Debug("Classifier unavailable, using load heuristic", zap.Error(err))
		return nil
	}
	if !tier.Valid() {
		p.logger.Debug("Classifier returned invalid tier", zap.Int("tier", int(tier)))
		return nil
	}
	return &tier
}

func (p *QueryPipeline) record(query model.Query, result model.QueryResult) {
	if p.deps.Recorder == nil {
		return
	}
	p.deps.Recorder.Record(model.QueryRecord{
		QueryID:        query.ID,
		DeviceID:       query.DeviceID,
		Metrics:        query.Metrics,
		Route:          result.Decision.Tier,
		Reason:         result.Decision.Reason,
		Outcome:        result.Outcome,
		CacheHit:       result.CacheHit,
		LatencySeconds: result.Latency.Seconds(),
		RecordedAt:     p.clock.Now(),
	})
}

// outcomeOf is the outcome a successful dispatch to tier reports
func outcomeOf(tier model.Tier) model.Outcome {
	if tier == model.TierCloud {
		return model.OutcomeForwarded
	}
	return model.OutcomeProcessed
}

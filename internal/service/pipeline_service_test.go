package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/benbjohnson/clock"
	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/mocks"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// edge scores 0.9, cloud scores 1.2
var (
	edgeSnapshot  = model.ResourceMetrics{CPULoad: 50, RAMUsage: 3, Bandwidth: 5}
	cloudSnapshot = model.ResourceMetrics{CPULoad: 0, RAMUsage: 10, Bandwidth: 10}
	lightMetrics  = model.Metrics{CPULoad: 20, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeSmall}
)

type pipelineFixture struct {
	pipeline   *service.QueryPipeline
	cache      *service.QueryCache
	tracker    *service.LivenessTracker
	dispatcher *mocks.MockDispatcher
	recorder   *mocks.RecordingRecorder
}

func setupPipeline(t *testing.T, classifier service.TierClassifier) *pipelineFixture {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewMock()

	cache, err := service.NewQueryCache(&service.CacheConfig{Capacity: 8}, clk, logger)
	require.NoError(t, err)
	tracker := service.NewLivenessTracker(nil, clk, logger)

	f := &pipelineFixture{
		cache:      cache,
		tracker:    tracker,
		dispatcher: &mocks.MockDispatcher{},
		recorder:   &mocks.RecordingRecorder{},
	}
	f.pipeline = service.NewQueryPipeline(service.PipelineDeps{
		Cache:      cache,
		Engine:     service.NewRoutingEngine(tracker, logger),
		Classifier: classifier,
		Edge:       service.NewStaticProvider(edgeSnapshot),
		Cloud:      service.NewStaticProvider(cloudSnapshot),
		Dispatcher: f.dispatcher,
		Recorder:   f.recorder,
		Clock:      clk,
	}, logger)
	return f
}

func routedTo(tier model.Tier) interface{} {
	return mock.MatchedBy(func(q model.Query) bool {
		return q.Route != nil && *q.Route == tier
	})
}

func TestQueryPipeline_FailoverScenario(t *testing.T) {
	f := setupPipeline(t, nil)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierEdge, routedTo(model.TierEdge)).
		Return(model.OutcomeProcessed, nil).Once()

	result, err := f.pipeline.Process(context.Background(), model.Query{
		ID:       "q-1",
		DeviceID: "D1",
		Metrics:  lightMetrics,
		Payload:  json.RawMessage(`{"op":"avg"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover}, result.Decision)
	assert.Equal(t, model.OutcomeProcessed, result.Outcome)
	assert.False(t, result.CacheHit)
	f.dispatcher.AssertExpectations(t)

	records := f.recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "q-1", records[0].QueryID)
	assert.Equal(t, "D1", records[0].DeviceID)
	assert.Equal(t, model.TierEdge, records[0].Route)
	assert.Equal(t, model.ReasonFailover, records[0].Reason)
	assert.Equal(t, lightMetrics, records[0].Metrics)
}

func TestQueryPipeline_HeuristicForReachableDevice(t *testing.T) {
	f := setupPipeline(t, nil)
	f.tracker.ReportHeartbeat("D1", true)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierDevice, routedTo(model.TierDevice)).
		Return(model.OutcomeProcessed, nil).Once()

	result, err := f.pipeline.Process(context.Background(), model.Query{DeviceID: "D1", Metrics: lightMetrics})
	require.NoError(t, err)

	assert.Equal(t, model.RoutingDecision{Tier: model.TierDevice, Reason: model.ReasonLoadHeuristic}, result.Decision)
	assert.NotEmpty(t, result.QueryID)
	f.dispatcher.AssertExpectations(t)
}

func TestQueryPipeline_ClassifierOverride(t *testing.T) {
	classifier := &mocks.MockClassifier{}
	classifier.On("Predict", mock.Anything, lightMetrics).Return(model.TierCloud, nil)

	f := setupPipeline(t, classifier)
	f.tracker.ReportHeartbeat("D1", true)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierCloud, routedTo(model.TierCloud)).
		Return(model.OutcomeForwarded, nil).Once()

	result, err := f.pipeline.Process(context.Background(), model.Query{DeviceID: "D1", Metrics: lightMetrics})
	require.NoError(t, err)

	assert.Equal(t, model.RoutingDecision{Tier: model.TierCloud, Reason: model.ReasonClassifierOverride}, result.Decision)
	assert.Equal(t, model.OutcomeForwarded, result.Outcome)
	classifier.AssertExpectations(t)
}

func TestQueryPipeline_ClassifierFailureFallsBack(t *testing.T) {
	classifier := &mocks.MockClassifier{}
	classifier.On("Predict", mock.Anything, mock.Anything).
		Return(model.TierCloud, apperrors.ClassifierUnavailable("model offline", nil))

	f := setupPipeline(t, classifier)
	f.tracker.ReportHeartbeat("D1", true)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierDevice, mock.Anything).
		Return(model.OutcomeProcessed, nil).Once()

	result, err := f.pipeline.Process(context.Background(), model.Query{DeviceID: "D1", Metrics: lightMetrics})
	require.NoError(t, err)
	assert.Equal(t, model.ReasonLoadHeuristic, result.Decision.Reason)
}

func TestQueryPipeline_CacheHitSkipsDispatch(t *testing.T) {
	f := setupPipeline(t, nil)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierEdge, mock.Anything).
		Return(model.OutcomeProcessed, nil).Once()

	query := model.Query{DeviceID: "D1", Metrics: lightMetrics}
	_, err := f.pipeline.Process(context.Background(), query)
	require.NoError(t, err)

	// the device comes back, but the cached route is reused
	f.tracker.ReportHeartbeat("D1", true)
	result, err := f.pipeline.Process(context.Background(), query)
	require.NoError(t, err)

	assert.True(t, result.CacheHit)
	assert.Equal(t, model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover}, result.Decision)
	assert.Equal(t, model.OutcomeProcessed, result.Outcome)
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)

	records := f.recorder.Records()
	require.Len(t, records, 2)
	assert.True(t, records[1].CacheHit)
}

func TestQueryPipeline_CachedDeviceRouteAfterInactiveHeartbeat(t *testing.T) {
	f := setupPipeline(t, nil)
	f.tracker.ReportHeartbeat("D1", true)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierDevice, routedTo(model.TierDevice)).
		Return(model.OutcomeProcessed, nil).Once()
	f.dispatcher.On("Dispatch", mock.Anything, model.TierEdge, routedTo(model.TierEdge)).
		Return(model.OutcomeProcessed, nil).Once()

	query := model.Query{DeviceID: "D1", Metrics: lightMetrics}
	result, err := f.pipeline.Process(context.Background(), query)
	require.NoError(t, err)
	require.Equal(t, model.RoutingDecision{Tier: model.TierDevice, Reason: model.ReasonLoadHeuristic}, result.Decision)

	f.tracker.ReportHeartbeat("D1", false)
	result, err = f.pipeline.Process(context.Background(), query)
	require.NoError(t, err)

	assert.False(t, result.CacheHit)
	assert.Equal(t, model.RoutingDecision{Tier: model.TierEdge, Reason: model.ReasonFailover}, result.Decision)
	f.dispatcher.AssertExpectations(t)

	// the failover decision replaces the stale entry
	entry, found := f.cache.Get(f.cache.Fingerprint("D1", lightMetrics))
	require.True(t, found)
	assert.Equal(t, model.TierEdge, entry.Route)
	assert.Equal(t, model.ReasonFailover, entry.Reason)
}

func TestQueryPipeline_CachedEdgeRouteSurvivesInactiveHeartbeat(t *testing.T) {
	f := setupPipeline(t, nil)
	f.dispatcher.On("Dispatch", mock.Anything, model.TierEdge, mock.Anything).
		Return(model.OutcomeProcessed, nil).Once()

	query := model.Query{DeviceID: "D1", Metrics: lightMetrics}
	_, err := f.pipeline.Process(context.Background(), query)
	require.NoError(t, err)

	f.tracker.ReportHeartbeat("D1", false)
	result, err := f.pipeline.Process(context.Background(), query)
	require.NoError(t, err)

	assert.True(t, result.CacheHit)
	assert.Equal(t, model.TierEdge, result.Decision.Tier)
	f.dispatcher.AssertNumberOfCalls(t, "Dispatch", 1)
}

func TestQueryPipeline_DispatchFailure(t *testing.T) {
	f := setupPipeline(t, nil)
	dispatchErr := apperrors.DispatchFailed("Edge", errors.New("connection refused"))
	f.dispatcher.On("Dispatch", mock.Anything, model.TierEdge, mock.Anything).
		Return(model.OutcomeRejected, dispatchErr).Once()

	query := model.Query{DeviceID: "D1", Metrics: lightMetrics}
	result, err := f.pipeline.Process(context.Background(), query)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeDispatchFailed))
	assert.Equal(t, model.OutcomeRejected, result.Outcome)
	assert.Equal(t, model.TierEdge, result.Decision.Tier)
	assert.Equal(t, 0, f.cache.Len())

	records := f.recorder.Records()
	require.Len(t, records, 1)
	assert.Equal(t, model.OutcomeRejected, records[0].Outcome)
}

func TestQueryPipeline_DispatchFailureKeepsNewerEntry(t *testing.T) {
	f := setupPipeline(t, nil)
	fingerprint := f.cache.Fingerprint("D1", lightMetrics)

	// a concurrent query for the same fingerprint stores its entry while q-1 is in flight
	f.dispatcher.On("Dispatch", mock.Anything, model.TierEdge, mock.Anything).
		Run(func(mock.Arguments) {
			f.cache.Put(fingerprint, model.CacheEntry{
				QueryID: "q-2",
				Route:   model.TierEdge,
				Reason:  model.ReasonFailover,
			})
		}).
		Return(model.OutcomeRejected, apperrors.DispatchTimeout("Edge", nil)).Once()

	_, err := f.pipeline.Process(context.Background(), model.Query{ID: "q-1", DeviceID: "D1", Metrics: lightMetrics})
	require.Error(t, err)

	entry, found := f.cache.Get(fingerprint)
	require.True(t, found)
	assert.Equal(t, "q-2", entry.QueryID)
}

func TestQueryPipeline_MalformedQuery(t *testing.T) {
	f := setupPipeline(t, nil)

	result, err := f.pipeline.Process(context.Background(), model.Query{Metrics: lightMetrics})

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMalformedInput))
	assert.Equal(t, model.OutcomeRejected, result.Outcome)
	assert.Equal(t, 0, f.cache.Len())
	assert.Empty(t, f.recorder.Records())
	f.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueryPipeline_EdgeLoad(t *testing.T) {
	f := setupPipeline(t, nil)
	assert.InDelta(t, 0.9, f.pipeline.EdgeLoad(context.Background()), 1e-9)
}

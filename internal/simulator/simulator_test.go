package simulator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/devrev/tierroute/internal/config"
	"github.com/devrev/tierroute/internal/handler"
	"github.com/devrev/tierroute/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type call struct {
	kind     string // heartbeat or query
	deviceID string
	status   model.HeartbeatStatus
}

// fakeEdge records calls and routes every query to Edge
type fakeEdge struct {
	mu       sync.Mutex
	calls    []call
	queries  []handler.QueryRequest
	failFor  string
	queryErr error
}

func (f *fakeEdge) Heartbeat(_ context.Context, deviceID string, status model.HeartbeatStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "heartbeat", deviceID: deviceID, status: status})
	return nil
}

func (f *fakeEdge) Query(_ context.Context, req handler.QueryRequest) (*handler.QueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "query", deviceID: req.DeviceID})
	f.queries = append(f.queries, req)
	if req.DeviceID == f.failFor {
		return nil, f.queryErr
	}
	return &handler.QueryResponse{QueryID: "q", Route: model.TierEdge, Reason: model.ReasonLoadHeuristic, Outcome: model.OutcomeProcessed}, nil
}

func simConfig(t *testing.T) *config.SimulatorConfig {
	t.Helper()
	cfg, err := config.LoadSimulatorConfig("")
	require.NoError(t, err)
	cfg.Interval = 0
	cfg.Seed = 7
	return cfg
}

func TestRunRound_FailsOneDevice(t *testing.T) {
	cfg := simConfig(t)
	edge := &fakeEdge{}
	sim := NewSimulator(cfg, edge, nil, zap.NewNop())

	stats := sim.RunRound(context.Background(), 1)

	require.NotEmpty(t, stats.FailedDevice)
	assert.Contains(t, cfg.Devices, stats.FailedDevice)
	assert.Equal(t, len(cfg.Devices)-1, stats.Sent)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, len(cfg.Devices)-1, stats.ByRoute[model.TierEdge])

	// the failure heartbeat comes first and the alive heartbeats last
	require.NotEmpty(t, edge.calls)
	assert.Equal(t, call{kind: "heartbeat", deviceID: stats.FailedDevice, status: model.HeartbeatInactive}, edge.calls[0])
	tail := edge.calls[len(edge.calls)-len(cfg.Devices):]
	for i, id := range cfg.Devices {
		assert.Equal(t, call{kind: "heartbeat", deviceID: id, status: model.HeartbeatAlive}, tail[i])
	}

	for _, q := range edge.queries {
		assert.NotEqual(t, stats.FailedDevice, q.DeviceID)
		assert.True(t, q.Metrics.QuerySize.Valid())
		assert.GreaterOrEqual(t, q.Metrics.CPULoad, cfg.Metrics.Min.CPULoad)
		assert.Less(t, q.Metrics.CPULoad, cfg.Metrics.Max.CPULoad)
		assert.Greater(t, q.Metrics.Bandwidth, 0.0)
		assert.NotEmpty(t, q.Payload)
	}
}

func TestRunRound_NoFailureInjection(t *testing.T) {
	cfg := simConfig(t)
	off := false
	cfg.FailOneDevice = &off
	edge := &fakeEdge{}

	stats := NewSimulator(cfg, edge, nil, zap.NewNop()).RunRound(context.Background(), 1)

	assert.Empty(t, stats.FailedDevice)
	assert.Equal(t, len(cfg.Devices), stats.Sent)
}

func TestRunRound_CountsErrors(t *testing.T) {
	cfg := simConfig(t)
	off := false
	cfg.FailOneDevice = &off
	edge := &fakeEdge{failFor: cfg.Devices[0], queryErr: errors.New("connection refused")}

	stats := NewSimulator(cfg, edge, nil, zap.NewNop()).RunRound(context.Background(), 1)

	assert.Equal(t, len(cfg.Devices), stats.Sent)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, len(cfg.Devices)-1, stats.ByRoute[model.TierEdge])
}

func TestRun_StopsAfterRounds(t *testing.T) {
	cfg := simConfig(t)
	cfg.Rounds = 3
	edge := &fakeEdge{}

	require.NoError(t, NewSimulator(cfg, edge, nil, zap.NewNop()).Run(context.Background()))
	assert.Len(t, edge.queries, 3*(len(cfg.Devices)-1))
}

func TestRun_Cancelled(t *testing.T) {
	cfg := simConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, NewSimulator(cfg, &fakeEdge{}, nil, zap.NewNop()).Run(ctx))
}

func TestSimulator_Deterministic(t *testing.T) {
	cfg := simConfig(t)
	a := NewSimulator(cfg, &fakeEdge{}, nil, zap.NewNop())
	b := NewSimulator(cfg, &fakeEdge{}, nil, zap.NewNop())

	assert.Equal(t, a.query("D1").Metrics, b.query("D1").Metrics)
}

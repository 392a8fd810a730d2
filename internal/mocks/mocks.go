// Package mocks provides mock implementations for testing.
package mocks

import (
	"context"
	"sync"

	"github.com/devrev/tierroute/internal/model"
	"github.com/stretchr/testify/mock"
)

// MockDispatcher is a mock implementation of service.Dispatcher.
type MockDispatcher struct {
	mock.Mock
}

// Dispatch mocks tier dispatch.
func (m *MockDispatcher) Dispatch(ctx context.Context, tier model.Tier, query model.Query) (model.Outcome, error) {
	args := m.Called(ctx, tier, query)
	return args.Get(0).(model.Outcome), args.Error(1)
}

// MockClassifier is a mock implementation of service.TierClassifier.
type MockClassifier struct {
	mock.Mock
}

// Predict mocks a classifier prediction.
func (m *MockClassifier) Predict(ctx context.Context, metrics model.Metrics) (model.Tier, error) {
	args := m.Called(ctx, metrics)
	return args.Get(0).(model.Tier), args.Error(1)
}

// MockTierMetricsProvider is a mock implementation of service.TierMetricsProvider.
type MockTierMetricsProvider struct {
	mock.Mock
}

// Snapshot mocks a tier metrics snapshot.
func (m *MockTierMetricsProvider) Snapshot(ctx context.Context) (model.ResourceMetrics, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.ResourceMetrics), args.Error(1)
}

// RecordingRecorder captures every record it is handed.
type RecordingRecorder struct {
	mu      sync.Mutex
	records []model.QueryRecord
}

// Record stores the record.
func (r *RecordingRecorder) Record(record model.QueryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

// Records returns a copy of the captured records.
func (r *RecordingRecorder) Records() []model.QueryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.QueryRecord, len(r.records))
	copy(out, r.records)
	return out
}

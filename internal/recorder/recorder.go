// Package recorder hands query records to metrics sinks without blocking the query path.
package recorder

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/util/workerpool"
	"go.uber.org/zap"
)

// Sink persists or exports query records
type Sink interface {
	Name() string
	Write(ctx context.Context, record model.QueryRecord) error
	Close() error
}

// Config holds async recorder configuration
type Config struct {
	Workers      int
	QueueSize    int
	WriteTimeout time.Duration
}

// AsyncRecorder fans records out to its sinks on a worker pool.
// Records that do not fit the queue are dropped and counted.
type AsyncRecorder struct {
	config  *Config
	sinks   []Sink
	pool    *workerpool.Pool
	metrics *metrics.Metrics
	logger  *zap.Logger
	dropped atomic.Uint64
}

// NewAsyncRecorder creates a recorder writing to sinks. m may be nil.
func NewAsyncRecorder(cfg *Config, sinks []Sink, m *metrics.Metrics, logger *zap.Logger) *AsyncRecorder {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &AsyncRecorder{
		config: cfg,
		sinks:  sinks,
		pool: workerpool.New(&workerpool.Config{
			Name:      "recorder",
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Logger:    logger,
		}),
		metrics: m,
		logger:  logger,
	}
}

// Record never blocks and never fails
func (r *AsyncRecorder) Record(record model.QueryRecord) {
	if len(r.sinks) == 0 {
		return
	}
	if !r.pool.TrySubmit(record.QueryID, func(context.Context) error {
		r.write(record)
		return nil
	}) {
		r.dropped.Add(1)
		if r.metrics != nil {
			r.metrics.IncRecordsDropped()
		}
		r.logger.Debug("Query record dropped", zap.String("query_id", record.QueryID))
	}
}

func (r *AsyncRecorder) write(record model.QueryRecord) {
	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
		err := sink.Write(ctx, record)
		cancel()

		if err != nil {
			if r.metrics != nil {
				r.metrics.RecordSinkError(sink.Name())
			}
			r.logger.Warn("Failed to write query record",
				zap.String("sink", sink.Name()),
				zap.String("query_id", record.QueryID),
				zap.Error(err))
		}
	}
}

// Dropped returns the number of records dropped on a full queue
func (r *AsyncRecorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Stats returns the recorder's worker pool statistics
func (r *AsyncRecorder) Stats() workerpool.Stats {
	return r.pool.Stats()
}

// Close flushes queued records and closes every sink
func (r *AsyncRecorder) Close(timeout time.Duration) error {
	err := r.pool.Stop(timeout)
	for _, sink := range r.sinks {
		if cerr := sink.Close(); cerr != nil {
			r.logger.Warn("Failed to close sink", zap.String("sink", sink.Name()), zap.Error(cerr))
		}
	}
	return err
}

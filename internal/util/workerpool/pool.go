// Package workerpool runs jobs on a fixed set of goroutines behind a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped is returned for submissions after Stop
var ErrStopped = errors.New("worker pool is stopped")

// Job is a unit of work. It should return promptly once ctx is done.
type Job func(ctx context.Context) error

type task struct {
	id   string
	ctx  context.Context
	fn   Job
	done chan error // nil for fire-and-forget submissions
}

// Pool manages a bounded pool of goroutines
type Pool struct {
	name      string
	workers   int
	queueSize int
	queue     chan task
	logger    *zap.Logger
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	active    atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Name      string
	Workers   int
	QueueSize int
	Logger    *zap.Logger
}

// New starts a worker pool
func New(cfg *Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		name:      cfg.Name,
		workers:   workers,
		queueSize: queueSize,
		queue:     make(chan task, queueSize),
		logger:    logger,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Worker pool started",
		zap.String("name", p.name),
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize))

	return p
}

// worker drains the queue until it is closed
func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.execute(id, t)
	}
}

func (p *Pool) execute(workerID int, t task) {
	p.active.Add(1)
	defer p.active.Add(-1)

	start := time.Now()
	err := p.safeExecute(t)

	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("Job failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("job_id", t.id),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		p.completed.Add(1)
	}

	if t.done != nil {
		t.done <- err
	}
}

// safeExecute turns a panicking job into a failed one
func (p *Pool) safeExecute(t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			p.logger.Error("Job panic recovered",
				zap.String("pool", p.name),
				zap.String("job_id", t.id),
				zap.Any("panic", r))
		}
	}()

	if t.ctx == nil {
		t.ctx = context.Background()
	}
	return t.fn(t.ctx)
}

// TrySubmit queues a fire-and-forget job without blocking.
// It reports false when the queue is full or the pool is stopped.
func (p *Pool) TrySubmit(id string, fn Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return false
	}

	select {
	case p.queue <- task{id: id, ctx: context.Background(), fn: fn}:
		p.submitted.Add(1)
		return true
	default:
		p.rejected.Add(1)
		return false
	}
}

// Run queues a job and waits for its result. Both the wait for a queue slot and
// the wait for the result are bounded by ctx; the job itself receives ctx.
func (p *Pool) Run(ctx context.Context, id string, fn Job) error {
	done := make(chan error, 1)

	if err := p.enqueue(ctx, task{id: id, ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, t task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrStopped
	}

	select {
	case p.queue <- t:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	}
}

// Stop refuses new jobs, lets the workers drain what is queued and waits up to timeout
func (p *Pool) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool", zap.String("name", p.name))

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Worker pool stopped", zap.String("name", p.name))
		return nil
	case <-time.After(timeout):
		p.logger.Warn("Worker pool stop timeout", zap.String("name", p.name))
		return fmt.Errorf("worker pool %q stop timeout after %v", p.name, timeout)
	}
}

// Stats returns current worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:          p.name,
		Workers:       p.workers,
		ActiveWorkers: int(p.active.Load()),
		QueueSize:     p.queueSize,
		Queued:        len(p.queue),
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Rejected:      p.rejected.Load(),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name          string `json:"name"`
	Workers       int    `json:"workers"`
	ActiveWorkers int    `json:"active_workers"`
	QueueSize     int    `json:"queue_size"`
	Queued        int    `json:"queued"`
	Submitted     uint64 `json:"submitted"`
	Completed     uint64 `json:"completed"`
	Failed        uint64 `json:"failed"`
	Rejected      uint64 `json:"rejected"`
}

// QueueUtilization returns the queue utilization as a percentage
func (s Stats) QueueUtilization() float64 {
	if s.QueueSize == 0 {
		return 0
	}
	return float64(s.Queued) / float64(s.QueueSize) * 100.0
}

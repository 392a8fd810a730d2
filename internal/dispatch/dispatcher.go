// Package dispatch delivers routed queries to the handler of their tier.
package dispatch

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
)

// Handler processes or forwards a query on one tier
type Handler interface {
	Handle(ctx context.Context, query model.Query) (model.Outcome, error)
}

// Config holds dispatcher configuration
type Config struct {
	Timeout time.Duration
}

// Dispatcher selects the tier handler and bounds every call by a timeout
type Dispatcher struct {
	config   *Config
	handlers map[model.Tier]Handler
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. m may be nil.
func NewDispatcher(cfg *Config, handlers map[model.Tier]Handler, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		config:   cfg,
		handlers: handlers,
		metrics:  m,
		logger:   logger,
	}
}

// Dispatch runs the tier's handler to completion or timeout.
// Cancellation of ctx is not propagated; only the dispatch timeout ends a call early.
func (d *Dispatcher) Dispatch(ctx context.Context, tier model.Tier, query model.Query) (model.Outcome, error) {
	handler, ok := d.handlers[tier]
	if !ok {
		return d.fail(tier, apperrors.DispatchFailed(tier.String(), errors.New("no handler registered")))
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.Timeout)
	defer cancel()

	start := time.Now()
	outcome, err := handler.Handle(ctx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return d.fail(tier, apperrors.DispatchTimeout(tier.String(), err).
				WithDetail("timeout", d.config.Timeout.String()))
		}
		if apperrors.IsRouterError(err) {
			return d.fail(tier, err)
		}
		return d.fail(tier, apperrors.DispatchFailed(tier.String(), err))
	}

	d.logger.Debug("Query dispatched",
		zap.String("query_id", query.ID),
		zap.String("tier", tier.String()),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", time.Since(start)))

	return outcome, nil
}

func (d *Dispatcher) fail(tier model.Tier, err error) (model.Outcome, error) {
	if d.metrics != nil {
		d.metrics.RecordDispatchError(tier.String(), apperrors.GetCode(err).String())
	}
	return model.OutcomeRejected, err
}

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/util/workerpool"
	"go.uber.org/zap"
)

// DeviceHandler acknowledges queries the device processes itself
type DeviceHandler struct {
	logger *zap.Logger
}

// NewDeviceHandler creates a device handler
func NewDeviceHandler(logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{logger: logger}
}

// Handle is terminal: the query is processed on the originating device
func (h *DeviceHandler) Handle(_ context.Context, query model.Query) (model.Outcome, error) {
	h.logger.Debug("Query processed on device",
		zap.String("query_id", query.ID),
		zap.String("device_id", query.DeviceID))
	return model.OutcomeProcessed, nil
}

// EdgeHandler processes queries on the edge server's worker pool
type EdgeHandler struct {
	pool   *workerpool.Pool
	logger *zap.Logger
}

// NewEdgeHandler creates an edge handler running on pool
func NewEdgeHandler(pool *workerpool.Pool, logger *zap.Logger) *EdgeHandler {
	return &EdgeHandler{
		pool:   pool,
		logger: logger,
	}
}

// Handle waits for a worker to process the query
func (h *EdgeHandler) Handle(ctx context.Context, query model.Query) (model.Outcome, error) {
	err := h.pool.Run(ctx, query.ID, func(ctx context.Context) error {
		return h.process(ctx, query)
	})
	if err != nil {
		return model.OutcomeRejected, err
	}
	return model.OutcomeProcessed, nil
}

func (h *EdgeHandler) process(ctx context.Context, query model.Query) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(query.Payload) > 0 && !json.Valid(query.Payload) {
		return apperrors.DispatchFailed(model.TierEdge.String(), fmt.Errorf("payload is not valid JSON"))
	}

	h.logger.Debug("Query processed on edge",
		zap.String("query_id", query.ID),
		zap.String("device_id", query.DeviceID),
		zap.Int("payload_bytes", len(query.Payload)))
	return nil
}

// CloudForwarder posts queries to the cloud tier
type CloudForwarder struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewCloudForwarder creates a forwarder. An empty endpoint acknowledges without sending.
func NewCloudForwarder(endpoint string, client *http.Client, logger *zap.Logger) *CloudForwarder {
	if client == nil {
		client = &http.Client{}
	}
	return &CloudForwarder{
		endpoint: endpoint,
		client:   client,
		logger:   logger,
	}
}

// Handle forwards the query; any non-2xx response is a dispatch failure
func (f *CloudForwarder) Handle(ctx context.Context, query model.Query) (model.Outcome, error) {
	if f.endpoint == "" {
		f.logger.Debug("Query forwarded to simulated cloud",
			zap.String("query_id", query.ID),
			zap.String("device_id", query.DeviceID))
		return model.OutcomeForwarded, nil
	}

	body, err := json.Marshal(query)
	if err != nil {
		return model.OutcomeRejected, apperrors.InternalError("failed to encode query", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.OutcomeRejected, apperrors.DispatchFailed(model.TierCloud.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Query-ID", query.ID)

	resp, err := f.client.Do(req)
	if err != nil {
		return model.OutcomeRejected, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.OutcomeRejected, apperrors.DispatchFailed(model.TierCloud.String(),
			fmt.Errorf("cloud returned status %d", resp.StatusCode)).
			WithDetail("status_code", resp.StatusCode)
	}

	f.logger.Debug("Query forwarded to cloud",
		zap.String("query_id", query.ID),
		zap.String("endpoint", f.endpoint),
		zap.Int("status", resp.StatusCode))

	return model.OutcomeForwarded, nil
}

// Ping checks that the cloud endpoint answers at all
func (f *CloudForwarder) Ping(ctx context.Context) error {
	if f.endpoint == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, f.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("cloud endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

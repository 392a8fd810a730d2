// Package handler provides HTTP request handlers for the edge server.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/service"
	"github.com/devrev/tierroute/internal/validation"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// bodyOverhead is the JSON envelope allowed on top of the payload limit
const bodyOverhead = 4 * 1024

// QueryProcessor runs a query through routing and dispatch
type QueryProcessor interface {
	Process(ctx context.Context, query model.Query) (model.QueryResult, error)
}

// HeartbeatBroadcaster propagates accepted heartbeats to peer edge servers
type HeartbeatBroadcaster interface {
	BroadcastHeartbeat(deviceID string, status model.HeartbeatStatus, observedAt time.Time)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	tracker      *service.LivenessTracker
	cache        *service.QueryCache
	pipeline     QueryProcessor
	gossip       HeartbeatBroadcaster
	validator    *validation.Validator
	metrics      *metrics.Metrics
	errorHandler *apperrors.Handler
	maxBodySize  int64
	logger       *zap.Logger
}

// Deps holds the collaborators of the handlers. Gossip and Metrics may be nil.
type Deps struct {
	Tracker   *service.LivenessTracker
	Cache     *service.QueryCache
	Pipeline  QueryProcessor
	Gossip    HeartbeatBroadcaster
	Validator *validation.Validator
	Metrics   *metrics.Metrics
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, errorHandler *apperrors.Handler, logger *zap.Logger) *Handlers {
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator()
	}
	return &Handlers{
		tracker:      deps.Tracker,
		cache:        deps.Cache,
		pipeline:     deps.Pipeline,
		gossip:       deps.Gossip,
		validator:    deps.Validator,
		metrics:      deps.Metrics,
		errorHandler: errorHandler,
		maxBodySize:  int64(deps.Validator.MaxPayloadSize()) + bodyOverhead,
		logger:       logger,
	}
}

// HeartbeatRequest is the body of POST /v1/heartbeat.
type HeartbeatRequest struct {
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
}

// StatusResponse is a generic success body.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	QueryID  string          `json:"query_id,omitempty"`
	DeviceID string          `json:"device_id"`
	Metrics  model.Metrics   `json:"metrics"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// QueryResponse is the body returned for a routed query.
type QueryResponse struct {
	QueryID        string        `json:"query_id"`
	Route          model.Tier    `json:"route"`
	Reason         model.Reason  `json:"reason"`
	Outcome        model.Outcome `json:"outcome"`
	CacheHit       bool          `json:"cache_hit"`
	LatencySeconds float64       `json:"latency_seconds"`
}

// DeviceResponse is the liveness view of one device.
type DeviceResponse struct {
	DeviceID    string     `json:"device_id"`
	Reachable   bool       `json:"reachable"`
	LastAliveAt *time.Time `json:"last_alive_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// DeviceListResponse lists every known device.
type DeviceListResponse struct {
	Devices   []DeviceResponse `json:"devices"`
	Known     int              `json:"known"`
	Reachable int              `json:"reachable"`
}

// Heartbeat handles POST /v1/heartbeat requests.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := h.decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	status, err := h.validator.ValidateHeartbeat(req.DeviceID, req.Status)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	observedAt := h.tracker.ReportHeartbeat(req.DeviceID, status == model.HeartbeatAlive)

	if h.gossip != nil {
		h.gossip.BroadcastHeartbeat(req.DeviceID, status, observedAt)
	}
	if h.metrics != nil {
		h.metrics.RecordHeartbeat(string(status), "local")
		stats := h.tracker.Stats()
		h.metrics.SetDevices(stats.Known, stats.Reachable)
	}

	h.logger.Debug("Heartbeat received",
		zap.String("device_id", req.DeviceID),
		zap.String("status", string(status)))

	h.writeJSONResponse(w, http.StatusOK, StatusResponse{
		Status:  "success",
		Message: "heartbeat received",
	})
}

// Query handles POST /v1/query requests.
func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := h.decode(w, r, &req); err != nil {
		h.rejectQuery(w, r, req.QueryID, nil, err)
		return
	}

	query := model.Query{
		ID:       req.QueryID,
		DeviceID: req.DeviceID,
		Metrics:  req.Metrics,
		Payload:  req.Payload,
	}
	if err := h.validator.ValidateQuery(query); err != nil {
		h.rejectQuery(w, r, query.ID, nil, err)
		return
	}

	result, err := h.pipeline.Process(r.Context(), query)
	if err != nil {
		h.rejectQuery(w, r, result.QueryID, &result.Decision, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, QueryResponse{
		QueryID:        result.QueryID,
		Route:          result.Decision.Tier,
		Reason:         result.Decision.Reason,
		Outcome:        result.Outcome,
		CacheHit:       result.CacheHit,
		LatencySeconds: result.Latency.Seconds(),
	})
}

// rejectQuery writes a query error. decision is nil when the query never reached routing.
func (h *Handlers) rejectQuery(w http.ResponseWriter, r *http.Request, queryID string, decision *model.RoutingDecision, err error) {
	resp := apperrors.Response(err)
	resp.QueryID = queryID
	resp.Outcome = string(model.OutcomeRejected)
	if decision != nil && decision.Reason != "" {
		resp.Route = decision.Tier.String()
		resp.Reason = string(decision.Reason)
	}
	h.errorHandler.WriteErrorResponse(w, r, apperrors.StatusOf(err), resp)
}

// GetDevice handles GET /v1/devices/{device_id} requests.
func (h *Handlers) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]
	if err := h.validator.ValidateDeviceID(deviceID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	rec, found := h.tracker.Snapshot(deviceID)
	if !found {
		h.errorHandler.HandleError(w, r, apperrors.DeviceNotFound(deviceID))
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.deviceResponse(rec))
}

// ListDevices handles GET /v1/devices requests.
func (h *Handlers) ListDevices(w http.ResponseWriter, r *http.Request) {
	records := h.tracker.Devices()
	resp := DeviceListResponse{Devices: make([]DeviceResponse, 0, len(records))}
	for _, rec := range records {
		d := h.deviceResponse(rec)
		if d.Reachable {
			resp.Reachable++
		}
		resp.Devices = append(resp.Devices, d)
	}
	resp.Known = len(resp.Devices)

	h.writeJSONResponse(w, http.StatusOK, resp)
}

func (h *Handlers) deviceResponse(rec model.DeviceLivenessRecord) DeviceResponse {
	return DeviceResponse{
		DeviceID:    rec.DeviceID,
		Reachable:   h.tracker.IsReachable(rec.DeviceID),
		LastAliveAt: rec.LastAliveAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// CacheStats handles GET /v1/cache/stats requests.
func (h *Handlers) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, http.StatusOK, h.cache.Stats())
}

// decode reads a bounded JSON body into v
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return apperrors.MalformedInput("body", "request body is required")
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.MalformedInput("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

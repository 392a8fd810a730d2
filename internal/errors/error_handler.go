package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// ErrorResponse represents the standard error response format.
// Query endpoints also report the rejected outcome and the decision made before the failure.
type ErrorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	QueryID   string `json:"query_id,omitempty"`
	Route     string `json:"route,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

// Handler writes RouterErrors as JSON responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// HandleError maps err to its HTTP status and writes the error body.
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	h.WriteErrorResponse(w, r, StatusOf(err), Response(err))
}

// Response builds the error body for err. Errors that are not RouterErrors are internal.
func Response(err error) ErrorResponse {
	return ErrorResponse{
		Status:    "error",
		ErrorCode: GetCode(err).String(),
		Message:   err.Error(),
	}
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var re *RouterError
	if errors.As(err, &re) {
		return re.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, resp ErrorResponse) {
	if resp.Status == "" {
		resp.Status = "error"
	}
	if resp.RequestID == "" {
		resp.RequestID = r.Header.Get("X-Request-ID")
	}

	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", resp.ErrorCode),
		zap.String("message", resp.Message),
		zap.String("request_id", resp.RequestID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/handler"
	"github.com/devrev/tierroute/internal/model"
)

// EdgeClient talks to an edge server over HTTP
type EdgeClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// APIError is a non-2xx answer from the edge server
type APIError struct {
	StatusCode int
	Response   apperrors.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.ErrorCode != "" {
		return fmt.Sprintf("edge returned %d %s: %s", e.StatusCode, e.Response.ErrorCode, e.Response.Message)
	}
	return fmt.Sprintf("edge returned %d", e.StatusCode)
}

// NewEdgeClient creates a new edge client
func NewEdgeClient(baseURL string, timeout time.Duration) *EdgeClient {
	return &EdgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: timeout,
	}
}

// Heartbeat reports a device status
func (c *EdgeClient) Heartbeat(ctx context.Context, deviceID string, status model.HeartbeatStatus) error {
	return c.post(ctx, "/v1/heartbeat", handler.HeartbeatRequest{
		DeviceID: deviceID,
		Status:   string(status),
	}, nil)
}

// Query submits a query and returns the routing result
func (c *EdgeClient) Query(ctx context.Context, req handler.QueryRequest) (*handler.QueryResponse, error) {
	var resp handler.QueryResponse
	if err := c.post(ctx, "/v1/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *EdgeClient) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr.Response)
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

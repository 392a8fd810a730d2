package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devrev/tierroute/internal/handler"
	"github.com/devrev/tierroute/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdgeClient_Heartbeat(t *testing.T) {
	var got handler.HeartbeatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/heartbeat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status":"success","message":"heartbeat received"}`))
	}))
	defer srv.Close()

	c := NewEdgeClient(srv.URL+"/", time.Second)
	require.NoError(t, c.Heartbeat(context.Background(), "D1", model.HeartbeatInactive))
	assert.Equal(t, handler.HeartbeatRequest{DeviceID: "D1", Status: "inactive"}, got)
}

func TestEdgeClient_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req handler.QueryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.QuerySizeMedium, req.Metrics.QuerySize)
		w.Write([]byte(`{"query_id":"q-1","route":"Edge","reason":"Failover","outcome":"processed","cache_hit":false,"latency_seconds":0.002}`))
	}))
	defer srv.Close()

	c := NewEdgeClient(srv.URL, time.Second)
	resp, err := c.Query(context.Background(), handler.QueryRequest{
		DeviceID: "D1",
		Metrics:  model.Metrics{CPULoad: 20, RAMUsage: 2, Bandwidth: 3, QuerySize: model.QuerySizeMedium},
	})
	require.NoError(t, err)
	assert.Equal(t, "q-1", resp.QueryID)
	assert.Equal(t, model.TierEdge, resp.Route)
	assert.Equal(t, model.ReasonFailover, resp.Reason)
}

func TestEdgeClient_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"status":"error","error_code":"DISPATCH_FAILED","message":"dispatch to Cloud failed","outcome":"rejected"}`))
	}))
	defer srv.Close()

	_, err := NewEdgeClient(srv.URL, time.Second).Query(context.Background(), handler.QueryRequest{DeviceID: "D1"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "DISPATCH_FAILED", apiErr.Response.ErrorCode)
	assert.Equal(t, "rejected", apiErr.Response.Outcome)
}

func TestEdgeClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	err := NewEdgeClient(srv.URL, 20*time.Millisecond).Heartbeat(context.Background(), "D1", model.HeartbeatAlive)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

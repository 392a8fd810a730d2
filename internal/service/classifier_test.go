package service_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRuleClassifier_Predict(t *testing.T) {
	classifier := service.NewRuleClassifier(service.RuleConfig{
		DeviceCPUMax: 50,
		DeviceRAMMax: 8,
		EdgeCPUMax:   80,
	})

	tests := []struct {
		name    string
		metrics model.Metrics
		want    model.Tier
	}{
		{name: "light load", metrics: model.Metrics{CPULoad: 20, RAMUsage: 2}, want: model.TierDevice},
		{name: "memory pressure", metrics: model.Metrics{CPULoad: 20, RAMUsage: 8}, want: model.TierEdge},
		{name: "moderate cpu", metrics: model.Metrics{CPULoad: 50, RAMUsage: 1}, want: model.TierEdge},
		{name: "heavy cpu", metrics: model.Metrics{CPULoad: 80, RAMUsage: 1}, want: model.TierCloud},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := classifier.Predict(context.Background(), tt.metrics)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteClassifier_Predict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Metrics model.Metrics `json:"metrics"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 42.0, req.Metrics.CPULoad)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tier":"Cloud"}`))
	}))
	defer server.Close()

	classifier := service.NewRemoteClassifier(server.URL, time.Second, zap.NewNop())
	got, err := classifier.Predict(context.Background(), model.Metrics{CPULoad: 42})
	require.NoError(t, err)
	assert.Equal(t, model.TierCloud, got)
}

func TestRemoteClassifier_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "unknown tier",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"tier":"Moon"}`))
			},
		},
		{
			name: "missing tier",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
		},
		{
			name: "slow model",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write([]byte(`{"tier":"Edge"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			classifier := service.NewRemoteClassifier(server.URL, 50*time.Millisecond, zap.NewNop())
			_, err := classifier.Predict(context.Background(), model.Metrics{})
			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeClassifierUnavailable))
		})
	}
}

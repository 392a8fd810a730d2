package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
)

// TierClassifier predicts a tier from a query's metrics.
// Whatever it returns overrides the load heuristic.
type TierClassifier interface {
	Predict(ctx context.Context, m model.Metrics) (model.Tier, error)
}

// RuleConfig holds the thresholds of the rule classifier
type RuleConfig struct {
	DeviceCPUMax float64
	DeviceRAMMax float64
	EdgeCPUMax   float64
}

// RuleClassifier labels queries with fixed thresholds on the device's own metrics
type RuleClassifier struct {
	config RuleConfig
}

// NewRuleClassifier creates a rule classifier
func NewRuleClassifier(cfg RuleConfig) *RuleClassifier {
	return &RuleClassifier{config: cfg}
}

// Predict returns Device for light local load, Edge for moderate CPU and Cloud otherwise
func (c *RuleClassifier) Predict(_ context.Context, m model.Metrics) (model.Tier, error) {
	switch {
	case m.CPULoad < c.config.DeviceCPUMax && m.RAMUsage < c.config.DeviceRAMMax:
		return model.TierDevice, nil
	case m.CPULoad < c.config.EdgeCPUMax:
		return model.TierEdge, nil
	default:
		return model.TierCloud, nil
	}
}

// RemoteClassifier asks an external inference endpoint for a tier
type RemoteClassifier struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

type predictRequest struct {
	Metrics model.Metrics `json:"metrics"`
}

type predictResponse struct {
	Tier *model.Tier `json:"tier"`
}

// NewRemoteClassifier creates a classifier backed by endpoint
func NewRemoteClassifier(endpoint string, timeout time.Duration, logger *zap.Logger) *RemoteClassifier {
	return &RemoteClassifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Predict posts the metrics and decodes {"tier": "..."}
func (c *RemoteClassifier) Predict(ctx context.Context, m model.Metrics) (model.Tier, error) {
	body, err := json.Marshal(predictRequest{Metrics: m})
	if err != nil {
		return 0, apperrors.InternalError("failed to encode classifier request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, apperrors.ClassifierUnavailable("failed to build classifier request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, apperrors.ClassifierUnavailable("classifier request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, apperrors.ClassifierUnavailable(
			fmt.Sprintf("classifier returned status %d", resp.StatusCode), nil)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, apperrors.ClassifierUnavailable("failed to decode classifier response", err)
	}
	if out.Tier == nil {
		return 0, apperrors.ClassifierUnavailable("classifier response has no tier", nil)
	}

	c.logger.Debug("Classifier prediction",
		zap.String("tier", out.Tier.String()),
		zap.Float64("cpu_load", m.CPULoad))

	return *out.Tier, nil
}

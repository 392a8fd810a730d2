package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
)

const (
	// Size limits
	MaxDeviceIDSize = 128
	MaxPayloadSize  = 1024 * 1024 // 1 MB

	MaxCPULoad = 100.0
)

// Validator validates heartbeats and queries before they touch any state
type Validator struct {
	maxDeviceIDSize int
	maxPayloadSize  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxDeviceIDSize: MaxDeviceIDSize,
		maxPayloadSize:  MaxPayloadSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits
func NewValidatorWithLimits(maxDeviceIDSize, maxPayloadSize int) *Validator {
	return &Validator{
		maxDeviceIDSize: maxDeviceIDSize,
		maxPayloadSize:  maxPayloadSize,
	}
}

// ValidateHeartbeat validates a heartbeat and returns its parsed status
func (v *Validator) ValidateHeartbeat(deviceID, status string) (model.HeartbeatStatus, error) {
	if err := v.ValidateDeviceID(deviceID); err != nil {
		return "", err
	}
	if status == "" {
		return "", errors.MalformedInput("status", "status is required")
	}
	parsed, err := model.ParseHeartbeatStatus(status)
	if err != nil {
		return "", errors.MalformedInput("status", `must be "alive" or "inactive"`)
	}
	return parsed, nil
}

// ValidateQuery validates a query
func (v *Validator) ValidateQuery(q model.Query) error {
	if err := v.ValidateDeviceID(q.DeviceID); err != nil {
		return err
	}
	if err := v.ValidateMetrics(q.Metrics); err != nil {
		return err
	}
	if len(q.Payload) > v.maxPayloadSize {
		return errors.MalformedInput("payload",
			fmt.Sprintf("payload exceeds maximum size of %d bytes", v.maxPayloadSize))
	}
	return nil
}

// ValidateDeviceID validates a device ID
func (v *Validator) ValidateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return errors.MalformedInput("device_id", "device ID is required")
	}

	if len(deviceID) > v.maxDeviceIDSize {
		return errors.MalformedInput("device_id",
			fmt.Sprintf("device ID exceeds maximum size of %d bytes", v.maxDeviceIDSize))
	}

	// '|' separates fingerprint fields
	if strings.Contains(deviceID, "|") {
		return errors.MalformedInput("device_id", "device ID cannot contain '|' character")
	}

	for _, r := range deviceID {
		if unicode.IsControl(r) {
			return errors.MalformedInput("device_id", "device ID cannot contain control characters")
		}
	}

	return nil
}

// ValidateMetrics validates a device metrics vector
func (v *Validator) ValidateMetrics(m model.Metrics) error {
	for name, val := range map[string]float64{
		"metrics.cpu_load":  m.CPULoad,
		"metrics.ram_usage": m.RAMUsage,
		"metrics.bandwidth": m.Bandwidth,
	} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return errors.MalformedInput(name, "must be a finite number")
		}
	}

	if m.CPULoad < 0 || m.CPULoad > MaxCPULoad {
		return errors.MalformedInput("metrics.cpu_load", fmt.Sprintf("must be within [0, %g], got %g", MaxCPULoad, m.CPULoad))
	}
	if m.RAMUsage < 0 {
		return errors.MalformedInput("metrics.ram_usage", fmt.Sprintf("must not be negative, got %g", m.RAMUsage))
	}
	if m.Bandwidth <= 0 {
		return errors.MalformedInput("metrics.bandwidth", fmt.Sprintf("must be positive, got %g", m.Bandwidth))
	}
	if !m.QuerySize.Valid() {
		return errors.MalformedInput("metrics.query_size", "must be 1 (Small), 2 (Medium) or 3 (Large)")
	}

	return nil
}

// MaxPayloadSize returns the largest accepted query payload in bytes
func (v *Validator) MaxPayloadSize() int {
	return v.maxPayloadSize
}

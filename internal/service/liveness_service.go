package service

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
)

// LivenessTracker keeps the last-known-alive timestamp of every device that has reported.
// Records are created on first heartbeat, overwritten on each later one and never deleted.
type LivenessTracker struct {
	config  *LivenessConfig
	clock   clock.Clock
	logger  *zap.Logger
	mu      sync.RWMutex
	devices map[string]*deviceRecord
}

// LivenessConfig holds liveness tracker configuration
type LivenessConfig struct {
	// StaleAfter bounds how long an alive record stays reachable. Zero disables the bound.
	StaleAfter time.Duration
}

type deviceRecord struct {
	lastAliveAt time.Time // zero when the device reported inactive
	updatedAt   time.Time
}

// NewLivenessTracker creates a new liveness tracker
func NewLivenessTracker(cfg *LivenessConfig, clk clock.Clock, logger *zap.Logger) *LivenessTracker {
	if cfg == nil {
		cfg = &LivenessConfig{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &LivenessTracker{
		config:  cfg,
		clock:   clk,
		logger:  logger,
		devices: make(map[string]*deviceRecord),
	}
}

// ReportHeartbeat records a heartbeat observed now and returns the observation time
func (t *LivenessTracker) ReportHeartbeat(deviceID string, alive bool) time.Time {
	observedAt := t.clock.Now()
	t.apply(deviceID, alive, observedAt, false)
	return observedAt
}

// ApplyRemote records a heartbeat observed by another edge server.
// It is ignored when a more recent observation is already known.
func (t *LivenessTracker) ApplyRemote(hb model.Heartbeat) bool {
	return t.apply(hb.DeviceID, hb.Status == model.HeartbeatAlive, time.Unix(0, hb.ObservedAt), true)
}

func (t *LivenessTracker) apply(deviceID string, alive bool, observedAt time.Time, remote bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, found := t.devices[deviceID]
	if !found {
		rec = &deviceRecord{}
		t.devices[deviceID] = rec
	} else if remote && observedAt.Before(rec.updatedAt) {
		return false
	}

	rec.updatedAt = observedAt
	if alive {
		rec.lastAliveAt = observedAt
	} else {
		rec.lastAliveAt = time.Time{}
	}

	t.logger.Debug("Heartbeat applied",
		zap.String("device_id", deviceID),
		zap.Bool("alive", alive),
		zap.Bool("remote", remote),
		zap.Bool("first_seen", !found))

	return true
}

// IsReachable reports whether a device may be routed to the Device tier.
// Unknown devices and devices that reported inactive are unreachable.
func (t *LivenessTracker) IsReachable(deviceID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, found := t.devices[deviceID]
	if !found {
		return false
	}
	return t.reachableLocked(rec, t.clock.Now())
}

func (t *LivenessTracker) reachableLocked(rec *deviceRecord, now time.Time) bool {
	if rec.lastAliveAt.IsZero() {
		return false
	}
	if t.config.StaleAfter > 0 && now.Sub(rec.lastAliveAt) > t.config.StaleAfter {
		return false
	}
	return true
}

// Snapshot returns a copy of the device's record
func (t *LivenessTracker) Snapshot(deviceID string) (model.DeviceLivenessRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, found := t.devices[deviceID]
	if !found {
		return model.DeviceLivenessRecord{DeviceID: deviceID}, false
	}
	return toRecord(deviceID, rec), true
}

// Devices returns copies of all records ordered by device id
func (t *LivenessTracker) Devices() []model.DeviceLivenessRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]model.DeviceLivenessRecord, 0, len(t.devices))
	for id, rec := range t.devices {
		out = append(out, toRecord(id, rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Stats returns the number of known and currently reachable devices
func (t *LivenessTracker) Stats() LivenessStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.clock.Now()
	stats := LivenessStats{Known: len(t.devices)}
	for _, rec := range t.devices {
		if t.reachableLocked(rec, now) {
			stats.Reachable++
		}
	}
	return stats
}

// LivenessStats holds liveness statistics
type LivenessStats struct {
	Known     int `json:"known"`
	Reachable int `json:"reachable"`
}

func toRecord(deviceID string, rec *deviceRecord) model.DeviceLivenessRecord {
	out := model.DeviceLivenessRecord{
		DeviceID:  deviceID,
		UpdatedAt: rec.updatedAt,
	}
	if !rec.lastAliveAt.IsZero() {
		at := rec.lastAliveAt
		out.LastAliveAt = &at
	}
	return out
}

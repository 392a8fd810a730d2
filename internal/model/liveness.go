package model

import (
	"fmt"
	"time"
)

// HeartbeatStatus is the status a device reports in a heartbeat
type HeartbeatStatus string

const (
	HeartbeatAlive    HeartbeatStatus = "alive"
	HeartbeatInactive HeartbeatStatus = "inactive"
)

// ParseHeartbeatStatus validates a reported status
func ParseHeartbeatStatus(s string) (HeartbeatStatus, error) {
	switch HeartbeatStatus(s) {
	case HeartbeatAlive, HeartbeatInactive:
		return HeartbeatStatus(s), nil
	default:
		return "", fmt.Errorf("unknown heartbeat status %q", s)
	}
}

// DeviceLivenessRecord is the last-known liveness of a device.
// A nil LastAliveAt means the device reported inactive.
type DeviceLivenessRecord struct {
	DeviceID    string     `json:"device_id"`
	LastAliveAt *time.Time `json:"last_alive_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Heartbeat is a heartbeat as exchanged between edge servers
type Heartbeat struct {
	DeviceID   string          `json:"device_id"`
	Status     HeartbeatStatus `json:"status"`
	ObservedAt int64           `json:"observed_at"` // unix nanos at the receiving edge
	Origin     string          `json:"origin"`      // edge node that received it
}

// NodeMeta is the gossip metadata an edge server advertises
type NodeMeta struct {
	NodeID    string  `json:"node_id"`
	EdgeLoad  float64 `json:"edge_load"`
	Devices   int     `json:"devices"`
	Timestamp int64   `json:"timestamp"`
}

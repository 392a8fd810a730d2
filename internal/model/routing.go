package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reason explains how a routing decision was reached
type Reason string

const (
	ReasonClassifierOverride Reason = "ClassifierOverride"
	ReasonLoadHeuristic      Reason = "LoadHeuristic"
	ReasonFailover           Reason = "Failover"
)

// RoutingDecision is produced fresh per query and never persisted
type RoutingDecision struct {
	Tier   Tier   `json:"route"`
	Reason Reason `json:"reason"`
}

// String formats the decision as "(tier, reason)"
func (d RoutingDecision) String() string {
	return fmt.Sprintf("(%s, %s)", d.Tier, d.Reason)
}

// Outcome is the per-query result reported back to the device
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeForwarded Outcome = "forwarded"
	OutcomeRejected  Outcome = "rejected"
)

// Query is one unit of device-originated work
type Query struct {
	ID       string          `json:"query_id"`
	DeviceID string          `json:"device_id"`
	Metrics  Metrics         `json:"metrics"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Route    *Tier           `json:"route,omitempty"` // attached by the pipeline before dispatch
}

// QueryResult is what the pipeline returns for a query
type QueryResult struct {
	QueryID  string          `json:"query_id"`
	Decision RoutingDecision `json:"decision"`
	Outcome  Outcome         `json:"outcome"`
	CacheHit bool            `json:"cache_hit"`
	Latency  time.Duration   `json:"latency"`
}

// QueryRecord is the structured record handed to the metrics sink
type QueryRecord struct {
	QueryID        string    `json:"query_id"`
	DeviceID       string    `json:"device_id"`
	Metrics        Metrics   `json:"metrics"`
	Route          Tier      `json:"route"`
	Reason         Reason    `json:"reason"`
	Outcome        Outcome   `json:"outcome"`
	CacheHit       bool      `json:"cache_hit"`
	LatencySeconds float64   `json:"latency_seconds"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// CacheEntry is owned by the query cache; callers receive copies
type CacheEntry struct {
	Fingerprint string
	QueryID     string // query that stored the entry
	Payload     json.RawMessage
	Route       Tier
	Reason      Reason
	InsertedAt  time.Time
}

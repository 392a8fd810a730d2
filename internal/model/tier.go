package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is a location where a query may be processed
type Tier int

const (
	TierDevice Tier = iota
	TierEdge
	TierCloud
)

// AllTiers lists tiers in heuristic tie-break order
var AllTiers = []Tier{TierDevice, TierEdge, TierCloud}

// String returns the wire name of the tier
func (t Tier) String() string {
	switch t {
	case TierDevice:
		return "Device"
	case TierEdge:
		return "Edge"
	case TierCloud:
		return "Cloud"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the three tiers
func (t Tier) Valid() bool {
	return t == TierDevice || t == TierEdge || t == TierCloud
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device":
		return TierDevice, nil
	case "edge":
		return TierEdge, nil
	case "cloud":
		return TierCloud, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", s)
	}
}

// MarshalJSON encodes the tier by name
func (t Tier) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid tier %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a tier name
func (t *Tier) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("tier must be a string: %w", err)
	}
	parsed, err := ParseTier(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// QuerySize is the coarse workload size reported by a device
type QuerySize int

const (
	QuerySizeSmall  QuerySize = 1
	QuerySizeMedium QuerySize = 2
	QuerySizeLarge  QuerySize = 3
)

// String returns the size name
func (s QuerySize) String() string {
	switch s {
	case QuerySizeSmall:
		return "Small"
	case QuerySizeMedium:
		return "Medium"
	case QuerySizeLarge:
		return "Large"
	default:
		return fmt.Sprintf("QuerySize(%d)", int(s))
	}
}

// Valid reports whether s is a known size
func (s QuerySize) Valid() bool {
	return s >= QuerySizeSmall && s <= QuerySizeLarge
}

// UnmarshalJSON accepts either the numeric code (1..3) or the size name
func (s *QuerySize) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = QuerySize(n)
		return nil
	}

	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("query size must be a number or a name: %w", err)
	}
	switch strings.ToLower(name) {
	case "small":
		*s = QuerySizeSmall
	case "medium":
		*s = QuerySizeMedium
	case "large":
		*s = QuerySizeLarge
	default:
		return fmt.Errorf("unknown query size %q", name)
	}
	return nil
}

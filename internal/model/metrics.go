package model

// Metrics is the resource vector a device samples before emitting a query.
// Values are immutable once sampled.
type Metrics struct {
	CPULoad   float64   `json:"cpu_load"`   // percent, 0-100
	RAMUsage  float64   `json:"ram_usage"`  // GB in use
	Bandwidth float64   `json:"bandwidth"`  // Mbps, > 0
	QuerySize QuerySize `json:"query_size"` // 1 small, 2 medium, 3 large
}

// Resources returns the subset of the vector used for load scoring
func (m Metrics) Resources() ResourceMetrics {
	return ResourceMetrics{
		CPULoad:   m.CPULoad,
		RAMUsage:  m.RAMUsage,
		Bandwidth: m.Bandwidth,
	}
}

// ResourceMetrics is a tier's raw resource snapshot
type ResourceMetrics struct {
	CPULoad   float64 `json:"cpu_load" mapstructure:"cpu_load" yaml:"cpu_load"`
	RAMUsage  float64 `json:"ram_usage" mapstructure:"ram_usage" yaml:"ram_usage"`
	Bandwidth float64 `json:"bandwidth" mapstructure:"bandwidth" yaml:"bandwidth"`
}

// TierLoads holds the computed load score of every tier for one decision
type TierLoads struct {
	Device float64 `json:"device"`
	Edge   float64 `json:"edge"`
	Cloud  float64 `json:"cloud"`
}

// Of returns the load of the given tier
func (l TierLoads) Of(t Tier) float64 {
	switch t {
	case TierDevice:
		return l.Device
	case TierEdge:
		return l.Edge
	default:
		return l.Cloud
	}
}

package service

import "github.com/devrev/tierroute/internal/model"

// Load score weights. Memory pressure dominates, then bandwidth, then raw CPU percent.
const (
	cpuWeight       = 1.0
	ramWeight       = 10.0
	bandwidthWeight = 2.0
	loadDivisor     = 100.0
)

// LoadEstimator turns a tier's raw resource metrics into a comparable load score
type LoadEstimator struct{}

// NewLoadEstimator creates a load estimator
func NewLoadEstimator() *LoadEstimator {
	return &LoadEstimator{}
}

// Score computes (cpu + ram*10 + bandwidth*2) / 100
func (LoadEstimator) Score(m model.ResourceMetrics) float64 {
	return (m.CPULoad*cpuWeight + m.RAMUsage*ramWeight + m.Bandwidth*bandwidthWeight) / loadDivisor
}

// Loads scores the three tier snapshots at once
func (e LoadEstimator) Loads(device, edge, cloud model.ResourceMetrics) model.TierLoads {
	return model.TierLoads{
		Device: e.Score(device),
		Edge:   e.Score(edge),
		Cloud:  e.Score(cloud),
	}
}

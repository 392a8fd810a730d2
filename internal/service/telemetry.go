package service

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/devrev/tierroute/internal/model"
	"github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v4/cpu"
	"go.uber.org/zap"
)

const bytesPerGB = 1 << 30

// TierMetricsProvider returns the current resource snapshot of one tier
type TierMetricsProvider interface {
	Snapshot(ctx context.Context) (model.ResourceMetrics, error)
}

// StaticProvider always returns the same snapshot
type StaticProvider struct {
	metrics model.ResourceMetrics
}

// NewStaticProvider creates a static provider
func NewStaticProvider(m model.ResourceMetrics) *StaticProvider {
	return &StaticProvider{metrics: m}
}

// Snapshot returns the fixed snapshot
func (p *StaticProvider) Snapshot(context.Context) (model.ResourceMetrics, error) {
	return p.metrics, nil
}

// SimulatedProvider samples each metric uniformly from [min, max)
type SimulatedProvider struct {
	min model.ResourceMetrics
	max model.ResourceMetrics
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedProvider creates a provider sampling between min and max
func NewSimulatedProvider(min, max model.ResourceMetrics, seed uint64) (*SimulatedProvider, error) {
	if min.CPULoad > max.CPULoad || min.RAMUsage > max.RAMUsage || min.Bandwidth > max.Bandwidth {
		return nil, fmt.Errorf("simulated range min %+v exceeds max %+v", min, max)
	}
	return &SimulatedProvider{
		min: min,
		max: max,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Snapshot samples a new snapshot
func (p *SimulatedProvider) Snapshot(context.Context) (model.ResourceMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return model.ResourceMetrics{
		CPULoad:   p.uniform(p.min.CPULoad, p.max.CPULoad),
		RAMUsage:  p.uniform(p.min.RAMUsage, p.max.RAMUsage),
		Bandwidth: p.uniform(p.min.Bandwidth, p.max.Bandwidth),
	}, nil
}

func (p *SimulatedProvider) uniform(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}

// CPUSampler returns the host CPU utilisation as a percentage
type CPUSampler func(ctx context.Context) (float64, error)

// HostProvider reports the resources of the machine the edge server runs on
type HostProvider struct {
	bandwidth float64
	cpu       CPUSampler
}

// NewHostProvider creates a host provider. Bandwidth cannot be sampled locally and is configured.
func NewHostProvider(bandwidth float64) *HostProvider {
	return NewHostProviderWithSampler(bandwidth, sampleCPU)
}

// NewHostProviderWithSampler creates a host provider reading CPU utilisation from sample
func NewHostProviderWithSampler(bandwidth float64, sample CPUSampler) *HostProvider {
	return &HostProvider{
		bandwidth: bandwidth,
		cpu:       sample,
	}
}

// Snapshot reads memory in use and CPU utilisation. Either failing fails the snapshot.
func (p *HostProvider) Snapshot(ctx context.Context) (model.ResourceMetrics, error) {
	total := memory.TotalMemory()
	if total == 0 {
		return model.ResourceMetrics{}, fmt.Errorf("host memory size unavailable")
	}
	free := memory.FreeMemory()
	if free > total {
		free = total
	}

	pct, err := p.cpu(ctx)
	if err != nil {
		return model.ResourceMetrics{}, fmt.Errorf("host cpu load unavailable: %w", err)
	}

	return model.ResourceMetrics{
		CPULoad:   math.Min(math.Max(pct, 0), 100),
		RAMUsage:  float64(total-free) / bytesPerGB,
		Bandwidth: p.bandwidth,
	}, nil
}

// sampleCPU returns utilisation across all cores since the previous call
func sampleCPU(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, fmt.Errorf("no cpu samples")
	}
	return pcts[0], nil
}

// FallbackProvider substitutes a fixed snapshot when the wrapped provider fails
type FallbackProvider struct {
	tier     model.Tier
	primary  TierMetricsProvider
	fallback model.ResourceMetrics
	logger   *zap.Logger
}

// NewFallbackProvider wraps primary
func NewFallbackProvider(tier model.Tier, primary TierMetricsProvider, fallback model.ResourceMetrics, logger *zap.Logger) *FallbackProvider {
	return &FallbackProvider{
		tier:     tier,
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// Snapshot never fails
func (p *FallbackProvider) Snapshot(ctx context.Context) (model.ResourceMetrics, error) {
	m, err := p.primary.Snapshot(ctx)
	if err != nil {
		p.logger.Warn("Tier metrics unavailable, using static snapshot",
			zap.String("tier", p.tier.String()),
			zap.Error(err))
		return p.fallback, nil
	}
	return m, nil
}

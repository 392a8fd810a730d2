// Package simulator drives a fleet of simulated devices against an edge server.
package simulator

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/devrev/tierroute/internal/config"
	"github.com/devrev/tierroute/internal/handler"
	"github.com/devrev/tierroute/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EdgeAPI is the part of the edge server a device talks to
type EdgeAPI interface {
	Heartbeat(ctx context.Context, deviceID string, status model.HeartbeatStatus) error
	Query(ctx context.Context, req handler.QueryRequest) (*handler.QueryResponse, error)
}

// Reading is the sensor payload a device attaches to its queries
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Timestamp   string  `json:"timestamp"`
}

// RoundStats summarizes one simulation round
type RoundStats struct {
	Round        int
	FailedDevice string
	Sent         int
	Errors       int
	CacheHits    int
	ByRoute      map[model.Tier]int
	ByReason     map[model.Reason]int
	MeanRTT      time.Duration
}

// Simulator runs rounds of heartbeats and queries
type Simulator struct {
	config *config.SimulatorConfig
	edge   EdgeAPI
	clock  clock.Clock
	logger *zap.Logger
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewSimulator creates a simulator. clk may be nil.
func NewSimulator(cfg *config.SimulatorConfig, edge EdgeAPI, clk clock.Clock, logger *zap.Logger) *Simulator {
	if clk == nil {
		clk = clock.New()
	}
	seed := uint64(cfg.Seed)
	return &Simulator{
		config: cfg,
		edge:   edge,
		clock:  clk,
		logger: logger,
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Run plays rounds until ctx is done or the configured number of rounds is reached
func (s *Simulator) Run(ctx context.Context) error {
	for round := 1; s.config.Rounds == 0 || round <= s.config.Rounds; round++ {
		stats := s.RunRound(ctx, round)
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Info("Round complete",
			zap.Int("round", stats.Round),
			zap.String("failed_device", stats.FailedDevice),
			zap.Int("sent", stats.Sent),
			zap.Int("errors", stats.Errors),
			zap.Int("cache_hits", stats.CacheHits),
			zap.Duration("mean_rtt", stats.MeanRTT))

		if s.config.Rounds != 0 && round == s.config.Rounds {
			break
		}
		if s.config.Interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.config.Interval):
		}
	}
	return nil
}

// RunRound fails one device, sends queries for the others and then heartbeats for every device.
// Request failures are counted and logged.
func (s *Simulator) RunRound(ctx context.Context, round int) RoundStats {
	stats := RoundStats{
		Round:    round,
		ByRoute:  make(map[model.Tier]int),
		ByReason: make(map[model.Reason]int),
	}

	if s.config.FailureInjection() && len(s.config.Devices) > 0 {
		stats.FailedDevice = s.config.Devices[s.intn(len(s.config.Devices))]
		s.logger.Info("Simulating device failure", zap.String("device_id", stats.FailedDevice))
		s.heartbeat(ctx, stats.FailedDevice, model.HeartbeatInactive)
	}

	type sample struct {
		deviceID string
		req      handler.QueryRequest
	}
	var samples []sample
	for _, id := range s.config.Devices {
		if id == stats.FailedDevice {
			continue
		}
		samples = append(samples, sample{id, s.query(id)})
	}

	var (
		mu       sync.Mutex
		totalRTT time.Duration
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, smp := range samples {
		g.Go(func() error {
			start := s.clock.Now()
			resp, err := s.edge.Query(gctx, smp.req)
			rtt := s.clock.Since(start)

			mu.Lock()
			defer mu.Unlock()
			stats.Sent++
			if err != nil {
				stats.Errors++
				s.logger.Warn("Query failed",
					zap.String("device_id", smp.deviceID),
					zap.Duration("rtt", rtt),
					zap.Error(err))
				return nil
			}
			totalRTT += rtt
			stats.ByRoute[resp.Route]++
			stats.ByReason[resp.Reason]++
			if resp.CacheHit {
				stats.CacheHits++
			}
			s.logger.Info("Query routed",
				zap.String("device_id", smp.deviceID),
				zap.String("query_id", resp.QueryID),
				zap.String("route", resp.Route.String()),
				zap.String("reason", string(resp.Reason)),
				zap.String("outcome", string(resp.Outcome)),
				zap.Bool("cache_hit", resp.CacheHit),
				zap.Duration("rtt", rtt))
			return nil
		})
	}
	g.Wait()

	if ok := stats.Sent - stats.Errors; ok > 0 {
		stats.MeanRTT = totalRTT / time.Duration(ok)
	}

	for _, id := range s.config.Devices {
		s.heartbeat(ctx, id, model.HeartbeatAlive)
	}

	return stats
}

func (s *Simulator) heartbeat(ctx context.Context, deviceID string, status model.HeartbeatStatus) {
	if err := s.edge.Heartbeat(ctx, deviceID, status); err != nil {
		s.logger.Warn("Failed to send heartbeat",
			zap.String("device_id", deviceID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

// query samples a metrics vector and a sensor reading for deviceID
func (s *Simulator) query(deviceID string) handler.QueryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	lo, hi := s.config.Metrics.Min, s.config.Metrics.Max
	m := model.Metrics{
		CPULoad:   s.uniform(lo.CPULoad, hi.CPULoad),
		RAMUsage:  s.uniform(lo.RAMUsage, hi.RAMUsage),
		Bandwidth: s.uniform(lo.Bandwidth, hi.Bandwidth),
		QuerySize: model.QuerySize(1 + s.rng.IntN(3)),
	}
	payload, _ := json.Marshal(Reading{
		Temperature: round2(s.uniform(20, 30)),
		Humidity:    round2(s.uniform(40, 60)),
		Timestamp:   s.clock.Now().UTC().Format(time.RFC3339),
	})

	return handler.QueryRequest{
		DeviceID: deviceID,
		Metrics:  m,
		Payload:  payload,
	}
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

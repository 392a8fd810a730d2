package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/tierroute/internal/config"
	"github.com/devrev/tierroute/internal/dispatch"
	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/handler"
	"github.com/devrev/tierroute/internal/health"
	"github.com/devrev/tierroute/internal/logging"
	"github.com/devrev/tierroute/internal/metrics"
	"github.com/devrev/tierroute/internal/model"
	"github.com/devrev/tierroute/internal/recorder"
	"github.com/devrev/tierroute/internal/server"
	"github.com/devrev/tierroute/internal/service"
	"github.com/devrev/tierroute/internal/util/workerpool"
	"github.com/devrev/tierroute/internal/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("port", cfg.Server.Port),
		zap.Int("cache_capacity", cfg.Cache.Capacity),
		zap.String("classifier", cfg.Classifier.Kind))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.NewMetrics(nil)

	// Core routing services
	cache, err := service.NewQueryCache(&service.CacheConfig{
		Capacity: cfg.Cache.Capacity,
		Buckets: service.BucketWidths{
			CPU:       cfg.Cache.Buckets.CPU,
			RAM:       cfg.Cache.Buckets.RAM,
			Bandwidth: cfg.Cache.Buckets.Bandwidth,
		},
	}, nil, logger)
	if err != nil {
		logger.Fatal("Failed to create query cache", zap.Error(err))
	}
	cache.OnEvict(m.IncCacheEvictions)

	tracker := service.NewLivenessTracker(&service.LivenessConfig{StaleAfter: cfg.Liveness.StaleAfter}, nil, logger)

	classifier := newClassifier(cfg.Classifier, logger)

	edgeProvider, err := newProvider(model.TierEdge, cfg.Tiers.Edge, logger)
	if err != nil {
		logger.Fatal("Failed to create edge metrics provider", zap.Error(err))
	}
	cloudProvider, err := newProvider(model.TierCloud, cfg.Tiers.Cloud, logger)
	if err != nil {
		logger.Fatal("Failed to create cloud metrics provider", zap.Error(err))
	}

	// Dispatch
	edgePool := workerpool.New(&workerpool.Config{
		Name:      "edge",
		Workers:   cfg.Dispatch.EdgeWorkers,
		QueueSize: cfg.Dispatch.EdgeQueueSize,
		Logger:    logger,
	})
	cloud := dispatch.NewCloudForwarder(cfg.Tiers.Cloud.Endpoint, &http.Client{}, logger)
	dispatcher := dispatch.NewDispatcher(&dispatch.Config{Timeout: cfg.Dispatch.Timeout}, map[model.Tier]dispatch.Handler{
		model.TierDevice: dispatch.NewDeviceHandler(logger),
		model.TierEdge:   dispatch.NewEdgeHandler(edgePool, logger),
		model.TierCloud:  cloud,
	}, m, logger)

	// Query records
	sinks, pingers, err := newSinks(ctx, cfg.Recorder, m, logger)
	if err != nil {
		logger.Fatal("Failed to create recorder sinks", zap.Error(err))
	}
	rec := recorder.NewAsyncRecorder(&recorder.Config{
		Workers:   cfg.Recorder.Workers,
		QueueSize: cfg.Recorder.QueueSize,
	}, sinks, m, logger)

	pipeline := service.NewQueryPipeline(service.PipelineDeps{
		Cache:      cache,
		Engine:     service.NewRoutingEngine(tracker, logger),
		Classifier: classifier,
		Edge:       edgeProvider,
		Cloud:      cloudProvider,
		Dispatcher: dispatcher,
		Recorder:   rec,
	}, logger)

	// Gossip
	var gossip *service.GossipService
	if cfg.Gossip.Enabled {
		gossip, err = service.NewGossipService(&service.GossipConfig{
			NodeID:         cfg.Server.NodeID,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, &meteredTracker{LivenessTracker: tracker, metrics: m}, func() float64 {
			return pipeline.EdgeLoad(context.Background())
		}, logger)
		if err != nil {
			logger.Fatal("Failed to start gossip", zap.Error(err))
		}
		logger.Info("Gossip started", zap.String("address", gossip.LocalAddr()))
	}

	// Health
	var grpcHealth *health.GRPCServer
	if cfg.GRPC.Enabled {
		grpcHealth = health.NewGRPCServer(cfg.GRPC.Port, logger)
	}
	healthCheck := health.NewHealthChecker(&health.Config{Interval: 5 * time.Second}, m, grpcHealth, logger)
	if cfg.Tiers.Cloud.Endpoint != "" {
		healthCheck.AddCheck("cloud", cloud)
	}
	for name, p := range pingers {
		healthCheck.AddCheck(name, p)
	}

	// HTTP
	errorHandler := apperrors.NewHandler(logger)
	deps := handler.Deps{
		Tracker:   tracker,
		Cache:     cache,
		Pipeline:  pipeline,
		Validator: validation.NewValidator(),
		Metrics:   m,
	}
	if gossip != nil {
		deps.Gossip = gossip
	}
	httpServer := server.NewServer(cfg, handler.NewHandlers(deps, errorHandler, logger), healthCheck, errorHandler, m, logger)

	var metricsServer *metrics.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, m, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	if metricsServer != nil {
		g.Go(metricsServer.Start)
	}
	if grpcHealth != nil {
		g.Go(grpcHealth.Start)
	}
	g.Go(func() error { return healthCheck.Run(gctx) })
	g.Go(func() error {
		return service.NewStatsReporter(cache, tracker, pipeline, m, 10*time.Second, nil, logger).Run(gctx)
	})

	// Shutdown on signal or the first component failure
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")
		healthCheck.Drain()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", zap.Error(err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown failed", zap.Error(err))
			}
		}
		if grpcHealth != nil {
			grpcHealth.Stop()
		}
		if gossip != nil {
			if err := gossip.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
				logger.Warn("Gossip shutdown failed", zap.Error(err))
			}
		}
		if err := edgePool.Stop(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("Edge worker pool stop failed", zap.Error(err))
		}
		if err := rec.Close(cfg.Server.ShutdownTimeout); err != nil {
			logger.Warn("Recorder close failed", zap.Error(err))
		}
		return nil
	})

	logger.Info("Edge server started",
		zap.Int("http_port", cfg.Server.Port),
		zap.Bool("grpc_health", cfg.GRPC.Enabled),
		zap.Bool("gossip", cfg.Gossip.Enabled))

	if err := g.Wait(); err != nil {
		logger.Error("Edge server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Edge server stopped")
}

func newClassifier(cfg config.ClassifierConfig, logger *zap.Logger) service.TierClassifier {
	switch cfg.Kind {
	case "rule":
		return service.NewRuleClassifier(service.RuleConfig{
			DeviceCPUMax: cfg.DeviceCPUMax,
			DeviceRAMMax: cfg.DeviceRAMMax,
			EdgeCPUMax:   cfg.EdgeCPUMax,
		})
	case "remote":
		return service.NewRemoteClassifier(cfg.Endpoint, cfg.Timeout, logger)
	default:
		return nil
	}
}

// newProvider wraps every non-static provider so a failing snapshot falls back to the static values
func newProvider(tier model.Tier, cfg config.TierSourceConfig, logger *zap.Logger) (service.TierMetricsProvider, error) {
	switch cfg.Provider {
	case "static":
		return service.NewStaticProvider(cfg.Static), nil
	case "host":
		return service.NewFallbackProvider(tier, service.NewHostProvider(cfg.Bandwidth), cfg.Static, logger), nil
	default:
		sim, err := service.NewSimulatedProvider(cfg.Min, cfg.Max, uint64(time.Now().UnixNano()))
		if err != nil {
			return nil, apperrors.Configuration(fmt.Sprintf("invalid %s metric ranges", tier), err)
		}
		return service.NewFallbackProvider(tier, sim, cfg.Static, logger), nil
	}
}

func newSinks(ctx context.Context, cfg config.RecorderConfig, m *metrics.Metrics, logger *zap.Logger) ([]recorder.Sink, map[string]health.Pinger, error) {
	var sinks []recorder.Sink
	pingers := make(map[string]health.Pinger)

	if cfg.Log {
		sinks = append(sinks, recorder.NewLogSink(logger.Named("queries")))
	}
	if cfg.Prometheus {
		sinks = append(sinks, recorder.NewPrometheusSink(m))
	}
	if cfg.Redis.Enabled {
		redisSink, err := recorder.NewRedisSink(&recorder.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, redisSink)
		pingers["redis"] = redisSink
	}
	if cfg.Postgres.Enabled {
		pgSink, err := recorder.NewPostgresSink(ctx, cfg.Postgres.DSN, cfg.Postgres.Table, logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, pgSink)
		pingers["postgres"] = pgSink
	}
	return sinks, pingers, nil
}

// meteredTracker counts heartbeats learned from peers
type meteredTracker struct {
	*service.LivenessTracker
	metrics *metrics.Metrics
}

func (t *meteredTracker) ApplyRemote(hb model.Heartbeat) bool {
	applied := t.LivenessTracker.ApplyRemote(hb)
	if applied {
		t.metrics.RecordHeartbeat(string(hb.Status), "gossip")
	}
	return applied
}

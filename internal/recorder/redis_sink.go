package recorder

import (
	"context"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamClient is the part of the Redis client the sink uses
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisSink appends records to a capped Redis stream
type RedisSink struct {
	client StreamClient
	stream string
	maxLen int64
	logger *zap.Logger
}

// RedisConfig holds Redis sink configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// NewRedisSink connects to Redis and verifies the connection
func NewRedisSink(cfg *RedisConfig, logger *zap.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSinkWithClient(client, cfg.Stream, cfg.MaxLen, logger), nil
}

// NewRedisSinkWithClient creates a sink on an existing client
func NewRedisSinkWithClient(client StreamClient, stream string, maxLen int64, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Write implements Sink
func (s *RedisSink) Write(ctx context.Context, rec model.QueryRecord) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: streamValues(rec),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return apperrors.SinkFailed(s.Name(), err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Sink
func (s *RedisSink) Close() error {
	return s.client.Close()
}

func streamValues(rec model.QueryRecord) map[string]interface{} {
	return map[string]interface{}{
		"query_id":        rec.QueryID,
		"device_id":       rec.DeviceID,
		"cpu_load":        strconv.FormatFloat(rec.Metrics.CPULoad, 'f', -1, 64),
		"ram_usage":       strconv.FormatFloat(rec.Metrics.RAMUsage, 'f', -1, 64),
		"bandwidth":       strconv.FormatFloat(rec.Metrics.Bandwidth, 'f', -1, 64),
		"query_size":      strconv.Itoa(int(rec.Metrics.QuerySize)),
		"route":           rec.Route.String(),
		"reason":          string(rec.Reason),
		"outcome":         string(rec.Outcome),
		"cache_hit":       strconv.FormatBool(rec.CacheHit),
		"latency_seconds": strconv.FormatFloat(rec.LatencySeconds, 'f', -1, 64),
		"recorded_at":     rec.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
}

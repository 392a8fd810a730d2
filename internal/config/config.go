// Package config provides configuration management for the edge server and the device simulator.
package config

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"github.com/spf13/viper"
)

// Config holds all configuration for the edge server.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	GRPC        GRPCConfig        `mapstructure:"grpc"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Liveness    LivenessConfig    `mapstructure:"liveness"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Tiers       TiersConfig       `mapstructure:"tiers"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Recorder    RecorderConfig    `mapstructure:"recorder"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	NodeID          string        `mapstructure:"node_id"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig holds the gRPC health server configuration.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// CacheConfig holds query cache configuration.
type CacheConfig struct {
	Capacity int           `mapstructure:"capacity"`
	Buckets  BucketsConfig `mapstructure:"buckets"`
}

// BucketsConfig holds the fingerprint bucket widths. Zero means exact values.
type BucketsConfig struct {
	CPU       float64 `mapstructure:"cpu"`
	RAM       float64 `mapstructure:"ram"`
	Bandwidth float64 `mapstructure:"bandwidth"`
}

// LivenessConfig holds liveness tracker configuration.
type LivenessConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// ClassifierConfig selects and tunes the tier classifier.
type ClassifierConfig struct {
	Kind         string        `mapstructure:"kind"` // none, rule or remote
	DeviceCPUMax float64       `mapstructure:"device_cpu_max"`
	DeviceRAMMax float64       `mapstructure:"device_ram_max"`
	EdgeCPUMax   float64       `mapstructure:"edge_cpu_max"`
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TiersConfig holds where edge and cloud resource snapshots come from.
type TiersConfig struct {
	Edge  TierSourceConfig `mapstructure:"edge"`
	Cloud TierSourceConfig `mapstructure:"cloud"`
}

// TierSourceConfig configures one tier's metrics provider.
type TierSourceConfig struct {
	Provider  string                `mapstructure:"provider"` // simulated, host or static
	Static    model.ResourceMetrics `mapstructure:"static"`
	Min       model.ResourceMetrics `mapstructure:"min"`
	Max       model.ResourceMetrics `mapstructure:"max"`
	Bandwidth float64               `mapstructure:"bandwidth"`
	Endpoint  string                `mapstructure:"endpoint"`
}

// DispatchConfig holds tier dispatch configuration.
type DispatchConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	EdgeWorkers   int           `mapstructure:"edge_workers"`
	EdgeQueueSize int           `mapstructure:"edge_queue_size"`
}

// RecorderConfig holds metrics sink configuration.
type RecorderConfig struct {
	Workers    int            `mapstructure:"workers"`
	QueueSize  int            `mapstructure:"queue_size"`
	Log        bool           `mapstructure:"log"`
	Prometheus bool           `mapstructure:"prometheus"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig holds the Redis stream sink configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// PostgresConfig holds the PostgreSQL sink configuration.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// GossipConfig holds gossip protocol configuration.
type GossipConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BindPort       int           `mapstructure:"bind_port"`
	SeedNodes      []string      `mapstructure:"seed_nodes"`
	GossipInterval time.Duration `mapstructure:"gossip_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	Output     string `mapstructure:"output" yaml:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tierroute/")
	}

	v.SetEnvPrefix("TIERROUTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.Configuration("failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Configuration("failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.node_id", "edge-1")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.port", 5001)

	// Cache defaults
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.buckets.cpu", 5.0)
	v.SetDefault("cache.buckets.ram", 0.5)
	v.SetDefault("cache.buckets.bandwidth", 1.0)

	v.SetDefault("liveness.stale_after", "0s")

	// Classifier defaults
	v.SetDefault("classifier.kind", "rule")
	v.SetDefault("classifier.device_cpu_max", 50.0)
	v.SetDefault("classifier.device_ram_max", 8.0)
	v.SetDefault("classifier.edge_cpu_max", 80.0)
	v.SetDefault("classifier.timeout", "200ms")

	// Tier metric sources
	v.SetDefault("tiers.edge.provider", "simulated")
	v.SetDefault("tiers.edge.min", map[string]float64{"cpu_load": 30, "ram_usage": 2, "bandwidth": 2})
	v.SetDefault("tiers.edge.max", map[string]float64{"cpu_load": 80, "ram_usage": 16, "bandwidth": 20})
	v.SetDefault("tiers.edge.static", map[string]float64{"cpu_load": 55, "ram_usage": 9, "bandwidth": 11})
	v.SetDefault("tiers.edge.bandwidth", 10.0)
	v.SetDefault("tiers.cloud.provider", "simulated")
	v.SetDefault("tiers.cloud.min", map[string]float64{"cpu_load": 10, "ram_usage": 1, "bandwidth": 5})
	v.SetDefault("tiers.cloud.max", map[string]float64{"cpu_load": 50, "ram_usage": 8, "bandwidth": 20})
	v.SetDefault("tiers.cloud.static", map[string]float64{"cpu_load": 30, "ram_usage": 4.5, "bandwidth": 12.5})
	v.SetDefault("tiers.cloud.endpoint", "")

	// Dispatch defaults
	v.SetDefault("dispatch.timeout", "5s")
	v.SetDefault("dispatch.edge_workers", 8)
	v.SetDefault("dispatch.edge_queue_size", 256)

	// Recorder defaults
	v.SetDefault("recorder.workers", 2)
	v.SetDefault("recorder.queue_size", 1024)
	v.SetDefault("recorder.log", true)
	v.SetDefault("recorder.prometheus", true)
	v.SetDefault("recorder.redis.enabled", false)
	v.SetDefault("recorder.redis.addr", "localhost:6379")
	v.SetDefault("recorder.redis.stream", "tierroute:queries")
	v.SetDefault("recorder.redis.max_len", 100000)
	v.SetDefault("recorder.postgres.enabled", false)
	v.SetDefault("recorder.postgres.table", "query_records")

	// Gossip defaults
	v.SetDefault("gossip.enabled", false)
	v.SetDefault("gossip.bind_port", 7946)
	v.SetDefault("gossip.gossip_interval", "200ms")
	v.SetDefault("gossip.probe_timeout", "500ms")
	v.SetDefault("gossip.probe_interval", "1s")

	// Rate limiter defaults
	v.SetDefault("rate_limiter.enabled", false)
	v.SetDefault("rate_limiter.requests_per_second", 500.0)
	v.SetDefault("rate_limiter.burst_size", 100)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 7)
}

// Validate checks if the configuration is valid. Any failure is a configuration error.
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return apperrors.Configuration("server.node_id is required", nil)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.Configuration(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		return apperrors.Configuration(fmt.Sprintf("invalid grpc port: %d", c.GRPC.Port), nil)
	}

	if c.Cache.Capacity <= 0 {
		return apperrors.Configuration(fmt.Sprintf("cache.capacity must be positive, got %d", c.Cache.Capacity), nil)
	}
	if c.Cache.Buckets.CPU < 0 || c.Cache.Buckets.RAM < 0 || c.Cache.Buckets.Bandwidth < 0 {
		return apperrors.Configuration("cache bucket widths must not be negative", nil)
	}

	if c.Liveness.StaleAfter < 0 {
		return apperrors.Configuration("liveness.stale_after must not be negative", nil)
	}

	switch c.Classifier.Kind {
	case "none", "rule":
	case "remote":
		if c.Classifier.Endpoint == "" {
			return apperrors.Configuration("classifier.endpoint is required for the remote classifier", nil)
		}
		if c.Classifier.Timeout <= 0 {
			return apperrors.Configuration("classifier.timeout must be positive", nil)
		}
	default:
		return apperrors.Configuration(fmt.Sprintf("unknown classifier kind %q", c.Classifier.Kind), nil)
	}

	for name, tier := range map[string]TierSourceConfig{"edge": c.Tiers.Edge, "cloud": c.Tiers.Cloud} {
		switch tier.Provider {
		case "simulated", "static":
		case "host":
			if name != "edge" {
				return apperrors.Configuration("the host provider is only available for the edge tier", nil)
			}
		default:
			return apperrors.Configuration(fmt.Sprintf("unknown provider %q for tier %s", tier.Provider, name), nil)
		}
	}

	if c.Dispatch.Timeout <= 0 {
		return apperrors.Configuration("dispatch.timeout must be positive", nil)
	}

	if c.Recorder.Redis.Enabled && c.Recorder.Redis.Addr == "" {
		return apperrors.Configuration("recorder.redis.addr is required when the redis sink is enabled", nil)
	}
	if c.Recorder.Postgres.Enabled && c.Recorder.Postgres.DSN == "" {
		return apperrors.Configuration("recorder.postgres.dsn is required when the postgres sink is enabled", nil)
	}

	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return apperrors.Configuration("rate limiter requests per second must be positive", nil)
		}
		if c.RateLimiter.BurstSize <= 0 {
			return apperrors.Configuration("rate limiter burst size must be positive", nil)
		}
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			return apperrors.Configuration(fmt.Sprintf("invalid metrics port: %d", c.Metrics.Port), nil)
		}
	}

	return nil
}

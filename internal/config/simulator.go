package config

import (
	"fmt"
	"os"
	"time"

	apperrors "github.com/devrev/tierroute/internal/errors"
	"github.com/devrev/tierroute/internal/model"
	"gopkg.in/yaml.v3"
)

// SimulatorConfig represents the complete configuration for the device simulator
type SimulatorConfig struct {
	EdgeURL        string        `yaml:"edge_url"`
	Devices        []string      `yaml:"devices"`
	Interval       time.Duration `yaml:"interval"`
	Rounds         int           `yaml:"rounds"` // 0 runs until interrupted
	RequestTimeout time.Duration `yaml:"request_timeout"`
	FailOneDevice  *bool         `yaml:"fail_one_device"`
	Concurrency    int           `yaml:"concurrency"`
	Seed           int64         `yaml:"seed"`
	Metrics        RangesConfig  `yaml:"metrics"`
	Logging        LoggingConfig `yaml:"logging"`
}

// RangesConfig holds the uniform sampling ranges for device metrics
type RangesConfig struct {
	Min model.ResourceMetrics `yaml:"min"`
	Max model.ResourceMetrics `yaml:"max"`
}

// FailureInjection reports whether one device per round is failed
func (c *SimulatorConfig) FailureInjection() bool {
	return c.FailOneDevice == nil || *c.FailOneDevice
}

// LoadSimulatorConfig loads simulator configuration from a file.
// An empty path yields the defaults.
func LoadSimulatorConfig(filePath string) (*SimulatorConfig, error) {
	var cfg SimulatorConfig

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, apperrors.Configuration("failed to read simulator config file", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, apperrors.Configuration("failed to parse simulator config file", err)
		}
	}

	setSimulatorDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setSimulatorDefaults sets default values for unspecified configuration
func setSimulatorDefaults(cfg *SimulatorConfig) {
	if cfg.EdgeURL == "" {
		cfg.EdgeURL = "http://localhost:5000"
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = []string{"Device1", "Device2", "Device3", "Device4", "Device5"}
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = len(cfg.Devices)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	// Device ranges: cpu 10-70%, ram 1-8 GB, bandwidth 1-10 Mbps
	if cfg.Metrics.Max == (model.ResourceMetrics{}) {
		cfg.Metrics.Min = model.ResourceMetrics{CPULoad: 10, RAMUsage: 1, Bandwidth: 1}
		cfg.Metrics.Max = model.ResourceMetrics{CPULoad: 70, RAMUsage: 8, Bandwidth: 10}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
}

// Validate validates the simulator configuration
func (c *SimulatorConfig) Validate() error {
	seen := make(map[string]bool, len(c.Devices))
	for _, id := range c.Devices {
		if id == "" {
			return apperrors.Configuration("device ids must not be empty", nil)
		}
		if seen[id] {
			return apperrors.Configuration(fmt.Sprintf("duplicate device id %q", id), nil)
		}
		seen[id] = true
	}
	if c.Interval < 0 {
		return apperrors.Configuration("interval must not be negative", nil)
	}
	if c.Rounds < 0 {
		return apperrors.Configuration("rounds must not be negative", nil)
	}
	if c.Concurrency < 1 {
		return apperrors.Configuration("concurrency must be at least 1", nil)
	}
	if c.Metrics.Min.CPULoad > c.Metrics.Max.CPULoad ||
		c.Metrics.Min.RAMUsage > c.Metrics.Max.RAMUsage ||
		c.Metrics.Min.Bandwidth > c.Metrics.Max.Bandwidth {
		return apperrors.Configuration("metric ranges must have min <= max", nil)
	}
	if c.Metrics.Min.Bandwidth <= 0 {
		return apperrors.Configuration("bandwidth must be positive", nil)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/tierroute/internal/client"
	"github.com/devrev/tierroute/internal/config"
	"github.com/devrev/tierroute/internal/logging"
	"github.com/devrev/tierroute/internal/simulator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath  string
	edgeURL     string
	devices     []string
	rounds      int
	interval    time.Duration
	concurrency int
	noFailure   bool
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "device-sim",
	Short: "Simulate a fleet of devices sending heartbeats and queries to an edge server",
	Long: `device-sim drives a set of simulated devices against an edge server.

Every round one randomly chosen device reports inactive, the remaining
devices submit a query with freshly sampled metrics, and finally every
device reports alive again.

Examples:
  device-sim --edge-url http://localhost:5000 --rounds 10
  device-sim --config sim.yaml --interval 1s --no-failure`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "simulator configuration file (YAML)")
	flags.StringVar(&edgeURL, "edge-url", "", "edge server base URL")
	flags.StringSliceVar(&devices, "devices", nil, "device ids to simulate")
	flags.IntVar(&rounds, "rounds", 0, "number of rounds, 0 runs until interrupted")
	flags.DurationVar(&interval, "interval", 0, "pause between rounds")
	flags.IntVar(&concurrency, "concurrency", 0, "maximum in-flight queries per round")
	flags.BoolVar(&noFailure, "no-failure", false, "do not fail a device each round")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadSimulatorConfig(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.Logging)
	defer logger.Sync()

	logger.Info("Starting device simulator",
		zap.String("edge_url", cfg.EdgeURL),
		zap.Strings("devices", cfg.Devices),
		zap.Int("rounds", cfg.Rounds),
		zap.Duration("interval", cfg.Interval),
		zap.Bool("failure_injection", cfg.FailureInjection()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	edge := client.NewEdgeClient(cfg.EdgeURL, cfg.RequestTimeout)
	if err := simulator.NewSimulator(cfg, edge, nil, logger).Run(ctx); err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	logger.Info("Device simulator stopped")
	return nil
}

// applyFlags lets explicitly set flags override the file
func applyFlags(cmd *cobra.Command, cfg *config.SimulatorConfig) {
	flags := cmd.Flags()
	if flags.Changed("edge-url") {
		cfg.EdgeURL = edgeURL
	}
	if flags.Changed("devices") {
		cfg.Devices = devices
		if !flags.Changed("concurrency") {
			cfg.Concurrency = len(devices)
		}
	}
	if flags.Changed("rounds") {
		cfg.Rounds = rounds
	}
	if flags.Changed("interval") {
		cfg.Interval = interval
	}
	if flags.Changed("concurrency") {
		cfg.Concurrency = concurrency
	}
	if flags.Changed("no-failure") {
		enabled := !noFailure
		cfg.FailOneDevice = &enabled
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

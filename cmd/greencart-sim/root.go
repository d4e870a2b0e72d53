package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"greencart-sim/internal/config"
	"greencart-sim/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "greencart-sim",
	Short:        "GreenCart delivery simulation service",
	Long:         "greencart-sim runs delivery simulations, archives their telemetry and streams it to live viewers.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration (defaults plus environment when empty)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

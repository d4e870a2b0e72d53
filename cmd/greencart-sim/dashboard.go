package main

import (
	"github.com/spf13/cobra"

	"greencart-sim/internal/dashboard"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards",
	Long:  "dashboard writes Grafana dashboards for the GreptimeDB telemetry tables and the Postgres run history.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		err = dashboard.Render(dashboardOut, dashboard.Tables{
			Telemetry: cfg.Telemetry.TelemetryTable,
			Events:    cfg.Telemetry.EventTable,
			Progress:  cfg.Telemetry.ProgressTable,
		})
		if err != nil {
			return err
		}
		logger.Info("dashboards rendered", "dir", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
}

package main

import (
	"errors"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"greencart-sim/internal/sim"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayView      string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a telemetry log file",
	Long:  "replay feeds telemetry rows from a log file back into GreptimeDB or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return errors.New("input file required")
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		writer, _, cleanup, err := newWriters(cfg, replayPrintOnly, replayView, "")
		if err != nil {
			return err
		}
		defer cleanup()
		if writer == nil {
			return errors.New("no telemetry sink: configure a GreptimeDB endpoint or use --print-only")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		n, err := sim.ReplayLogFile(ctx, replayInput, writer, replaySpeed)
		logger.Info("replay finished", "rows", n)
		if errors.Is(err, ctx.Err()) {
			return nil
		}
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to telemetry log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to GreptimeDB")
	replayCmd.Flags().StringVar(&replayView, "view", viewNone, "Local telemetry view: none, stdout, json or tui")
	_ = replayCmd.MarkFlagRequired("input")
}

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"greencart-sim/internal/api"
	"greencart-sim/internal/broadcast"
	"greencart-sim/internal/logging"
	"greencart-sim/internal/sim"
	"greencart-sim/internal/telemetry"
)

var (
	watchURL     string
	watchRunID   string
	watchView    string
	watchLogFile string
	watchActor   string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a running simulation",
	Long:  "watch subscribes to a run over the websocket API and renders its telemetry locally.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchRunID == "" {
			return errors.New("run id required")
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if watchView == viewTUI {
			logger = logging.Discard()
		}
		// watch never writes to GreptimeDB; the server does that.
		writer, tui, cleanup, err := newWriters(cfg, true, watchView, logFileFor(cfg, watchLogFile))
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if strings.TrimSpace(watchActor) == "" {
			return errors.New("actor id required")
		}
		header := http.Header{}
		header.Set(api.HeaderActorID, watchActor)
		client, err := broadcast.Dial(ctx, watchURL, header)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Join(watchRunID); err != nil {
			return fmt.Errorf("join %s: %w", watchRunID, err)
		}
		logger.Info("watching run", "run_id", watchRunID, "url", watchURL)

		h := &frameHandler{writer: writer, tui: tui, log: logger}
		err = client.Receive(ctx, h.handle)
		if errors.Is(err, errRunEnded) {
			if tui != nil {
				// keep the final results on screen until the user quits
				<-ctx.Done()
			}
			return nil
		}
		return err
	},
}

var errRunEnded = errors.New("run ended")

// frameHandler decodes broadcast frames into sink rows.
type frameHandler struct {
	writer sim.TelemetryWriter
	tui    *sim.TUIWriter
	log    *slog.Logger
}

func (h *frameHandler) handle(f broadcast.Frame) error {
	switch f.Event {
	case broadcast.EventTelemetry:
		var row telemetry.TelemetryRow
		if err := json.Unmarshal(f.Data, &row); err != nil {
			h.log.Warn("bad telemetry frame", "err", err)
			return nil
		}
		return h.writer.Write(row)
	case broadcast.EventIncident:
		var ev telemetry.EventRow
		if err := json.Unmarshal(f.Data, &ev); err != nil {
			h.log.Warn("bad event frame", "err", err)
			return nil
		}
		if ew, ok := h.writer.(sim.EventWriter); ok {
			return ew.WriteEvent(ev)
		}
		return nil
	case broadcast.EventSimulationEnd:
		var end sim.EndPayload
		if err := json.Unmarshal(f.Data, &end); err != nil {
			return fmt.Errorf("decode simulationEnd: %w", err)
		}
		if h.tui != nil {
			h.tui.End(end)
		}
		h.log.Info("simulation finished",
			"run_id", end.RunID,
			"status", end.Status,
			"score", end.Results.EfficiencyScore,
			"profit", end.Results.TotalProfit,
			"deliveries", end.Results.Deliveries.Total,
		)
		return errRunEnded
	default:
		h.log.Debug("ignoring frame", "event", f.Event)
		return nil
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "ws://localhost:5000/ws", "Websocket endpoint of the simulation API")
	watchCmd.Flags().StringVar(&watchRunID, "run", "", "Run id to follow")
	watchCmd.Flags().StringVar(&watchView, "view", viewStdout, "Local telemetry view: stdout, json or tui")
	watchCmd.Flags().StringVar(&watchLogFile, "log-file", "", "Path to export received telemetry (JSONL)")
	watchCmd.Flags().StringVar(&watchActor, "actor", "watch", "Actor id sent with the websocket handshake; the server rejects anonymous subscribers")
	_ = watchCmd.MarkFlagRequired("run")
}

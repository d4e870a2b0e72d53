package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"greencart-sim/internal/api"
	"greencart-sim/internal/broadcast"
	"greencart-sim/internal/logging"
	"greencart-sim/internal/metrics"
	"greencart-sim/internal/sim"
	"greencart-sim/internal/store"
)

var (
	servePrintOnly bool
	serveView      string
	serveLogFile   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation API",
	Long:  "serve starts the HTTP API and websocket broadcaster and runs simulations on request.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if serveView == viewTUI {
			// the TUI owns the terminal
			logger = logging.Discard()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, logger)

		st, err := store.Open(ctx, cfg.Store, logger)
		if err != nil {
			return err
		}
		defer st.Close()

		writer, _, cleanup, err := newWriters(cfg, servePrintOnly, serveView, logFileFor(cfg, serveLogFile))
		if err != nil {
			return err
		}
		defer cleanup()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		ctl := sim.NewController(sim.Options{
			Store:   st,
			Hub:     broadcast.NewHub(m),
			Sink:    writer,
			Metrics: m,
			Logger:  logger,
			Config:  cfg.Simulation,
		})
		if n, err := ctl.RecoverOrphans(ctx); err != nil {
			logger.Error("orphan recovery failed", "err", err)
		} else if n > 0 {
			logger.Warn("recovered orphaned runs", "count", n)
		}

		srv := api.NewServer(api.Options{
			Addr:       cfg.Server.Addr,
			Controller: ctl,
			Gatherer:   reg,
			Logger:     logger,
			Conn:       broadcast.ConnOptions{Buffer: cfg.Broadcast.Buffer, WriteTimeout: cfg.Broadcast.WriteTimeout},
		})
		errc := make(chan error, 1)
		go func() { errc <- srv.Start() }()

		select {
		case <-ctx.Done():
		case err := <-errc:
			if err != nil {
				logger.Error("api server failed", "err", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		// runs end first so websocket subscribers still receive simulationEnd
		var errs []error
		if err := ctl.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		logger.Info("greencart-sim stopped")
		return errors.Join(errs...)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&servePrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to GreptimeDB")
	serveCmd.Flags().StringVar(&serveView, "view", viewNone, "Local telemetry view: none, stdout, json or tui")
	serveCmd.Flags().StringVar(&serveLogFile, "log-file", "", "Path to export telemetry/event/progress logs (JSONL)")
}

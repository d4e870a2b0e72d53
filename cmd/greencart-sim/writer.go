package main

import (
	"fmt"
	"io"

	"greencart-sim/internal/config"
	"greencart-sim/internal/sim"
)

// Output views for telemetry shown locally.
const (
	viewNone   = "none"
	viewStdout = "stdout"
	viewJSON   = "json"
	viewTUI    = "tui"
)

// newWriters sets up the telemetry sinks selected by flags and config.
// GreptimeDB is used when an endpoint is configured and printOnly is false.
// The file sink is attached only for a non-empty logFile. It returns nil
// when no sink is selected, and a cleanup that closes every sink.
func newWriters(cfg *config.Config, printOnly bool, view, logFile string) (sim.TelemetryWriter, *sim.TUIWriter, func(), error) {
	var (
		ws  []sim.TelemetryWriter
		tui *sim.TUIWriter
	)
	cleanup := func() {}

	if !printOnly && cfg.Telemetry.GreptimeEndpoint != "" {
		gw, err := sim.NewGreptimeDBWriter(cfg.Telemetry.GreptimeEndpoint, cfg.Telemetry.GreptimeDatabase, sim.GreptimeTables{
			Telemetry: cfg.Telemetry.TelemetryTable,
			Events:    cfg.Telemetry.EventTable,
			Progress:  cfg.Telemetry.ProgressTable,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		ws = append(ws, gw)
	}

	switch view {
	case "", viewNone:
		if printOnly {
			ws = append(ws, sim.NewStdoutWriter(&cfg.Simulation))
		}
	case viewStdout:
		ws = append(ws, sim.NewStdoutWriter(&cfg.Simulation))
	case viewJSON:
		ws = append(ws, sim.NewJSONStdoutWriter())
	case viewTUI:
		tui = sim.NewTUIWriter(&cfg.Simulation)
		ws = append(ws, tui)
	default:
		return nil, nil, nil, fmt.Errorf("unknown view %q (want none, stdout, json or tui)", view)
	}

	if logFile != "" {
		fw, err := sim.NewFileWriter(logFile, logFile+".events", logFile+".progress")
		if err != nil {
			closeAll(ws)
			return nil, nil, nil, err
		}
		ws = append(ws, fw)
	}

	switch len(ws) {
	case 0:
		return nil, nil, cleanup, nil
	case 1:
		cleanup = func() { closeAll(ws) }
		return ws[0], tui, cleanup, nil
	default:
		mw := sim.NewMultiWriter(ws...)
		cleanup = func() { _ = mw.Close() }
		return mw, tui, cleanup, nil
	}
}

// logFileFor resolves the JSONL sink path of a live run: the flag, else config.
func logFileFor(cfg *config.Config, flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.Telemetry.LogFile
}

func closeAll(ws []sim.TelemetryWriter) {
	for _, w := range ws {
		if c, ok := w.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

package sim

import "greencart-sim/internal/telemetry"

// TelemetryWriter is an interface to support different output sinks.
type TelemetryWriter interface {
	Write(telemetry.TelemetryRow) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.TelemetryRow) error
}

// EventWriter is implemented by sinks that archive operational events.
type EventWriter interface {
	WriteEvent(telemetry.EventRow) error
}

// ProgressWriter is implemented by sinks that archive periodic run progress.
type ProgressWriter interface {
	WriteProgress(telemetry.ProgressRow) error
}

// writeRows sends rows to w, using batch mode when supported.
func writeRows(w TelemetryWriter, rows []telemetry.TelemetryRow) error {
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"greencart-sim/internal/telemetry"
)

// JSONStdoutWriter prints telemetry, events and progress as JSON lines to STDOUT.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) emit(kind string, v any) error {
	data, err := json.Marshal(struct {
		Kind string `json:"kind"`
		Row  any    `json:"row"`
	}{kind, v})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a telemetry row in JSON format.
func (w *JSONStdoutWriter) Write(row telemetry.TelemetryRow) error {
	return w.emit("telemetry", row)
}

// WriteBatch outputs multiple telemetry rows in JSON format.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent outputs an event in JSON format.
func (w *JSONStdoutWriter) WriteEvent(row telemetry.EventRow) error {
	return w.emit("event", row)
}

// WriteProgress outputs a progress row in JSON format.
func (w *JSONStdoutWriter) WriteProgress(row telemetry.ProgressRow) error {
	return w.emit("progress", row)
}

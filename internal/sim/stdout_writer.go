// Writer selection for STDOUT
package sim

import (
	"os"

	"golang.org/x/term"

	"greencart-sim/internal/config"
)

// NewStdoutWriter returns a colorized writer when STDOUT is a terminal and a
// JSON lines writer otherwise.
func NewStdoutWriter(cfg *config.SimulationConfig) TelemetryWriter {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return NewColorStdoutWriter(cfg)
	}
	return NewJSONStdoutWriter()
}

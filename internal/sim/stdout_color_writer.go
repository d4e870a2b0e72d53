// ColorStdoutWriter prints human-friendly, colorized telemetry to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"greencart-sim/internal/config"
	"greencart-sim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorWhite   = "\x1b[37m"
	colorGray    = "\x1b[90m"
)

var driverPalette = []string{colorRed, colorGreen, colorYellow, colorBlue, colorMagenta, colorCyan}

// driverColors hands out palette colors in first-seen order.
type driverColors struct {
	mu     sync.Mutex
	colors map[string]string
	next   int
}

func (d *driverColors) get(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.colors == nil {
		d.colors = make(map[string]string)
	}
	if c, ok := d.colors[id]; ok {
		return c
	}
	c := driverPalette[d.next%len(driverPalette)]
	d.colors[id] = c
	d.next++
	return c
}

// ColorStdoutWriter prints telemetry rows using ANSI colors.
type ColorStdoutWriter struct {
	cfg    *config.SimulationConfig
	out    io.Writer
	once   sync.Once
	mu     sync.Mutex
	colors driverColors
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.SimulationConfig) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout}
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	fmt.Fprintln(w.out, "Simulation Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Tick Interval:\t%s\n", w.cfg.TickInterval)
	fmt.Fprintf(tw, "Delivery Chance:\t%.2f\n", w.cfg.DeliveryChance)
	fmt.Fprintf(tw, "On-Time Chance:\t%.2f\n", w.cfg.OnTimeChance)
	fmt.Fprintf(tw, "Event Chance:\t%.2f\n", w.cfg.EventChance)
	fmt.Fprintf(tw, "Revenue / Delivery:\t%.2f\n", w.cfg.RevenuePerDelivery)
	fmt.Fprintf(tw, "Cost / km:\t%.2f\n", w.cfg.CostPerKm)
	tw.Flush()
	fmt.Fprintln(w.out)
}

func fuelColor(ft telemetry.FuelType) string {
	switch ft {
	case telemetry.FuelElectric:
		return colorGreen
	case telemetry.FuelPetrol:
		return colorYellow
	default:
		return colorMagenta
	}
}

func batteryColor(pct int) string {
	switch {
	case pct < 20:
		return colorRed
	case pct < 50:
		return colorYellow
	default:
		return colorGreen
	}
}

func formatTelemetryLine(row telemetry.TelemetryRow, driverColor string) string {
	return fmt.Sprintf("%s[%s]%s %srun=%s%s %sdriver=%s%s %sorder=%s%s %slat=%.5f%s %slon=%.5f%s %sspd=%.1f%s %shdg=%d%s %sbatt=%d%s %sfuel=%s/%.3f%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorBlue, row.RunID, colorReset,
		driverColor, row.DriverID, colorReset,
		colorWhite, row.OrderID, colorReset,
		colorGreen, row.Lat, colorReset,
		colorYellow, row.Lon, colorReset,
		colorCyan, row.Speed, colorReset,
		colorCyan, row.Heading, colorReset,
		batteryColor(row.BatteryPct), row.BatteryPct, colorReset,
		fuelColor(row.FuelType), row.FuelType, row.FuelCost, colorReset,
	)
}

func formatEventLine(ev telemetry.EventRow, driverColor string) string {
	color := colorYellow
	if ev.Type == telemetry.EventBreakdown {
		color = colorRed
	}
	return fmt.Sprintf("%s[%s]%s %sEVENT%s type=%s %sdriver=%s%s run=%s %q",
		colorGray, ev.Timestamp.Format(time.RFC3339), colorReset,
		color, colorReset, ev.Type,
		driverColor, ev.Payload.DriverID, colorReset,
		ev.RunID, ev.Payload.Message)
}

func formatProgressLine(p telemetry.ProgressRow) string {
	return fmt.Sprintf("%s[%s]%s %sPROGRESS%s run=%s tick=%d/%d telemetry=%d events=%d deliveries=%d",
		colorGray, p.Timestamp.Format(time.RFC3339), colorReset,
		colorBlue, colorReset, p.RunID, p.Tick, p.MaxTicks,
		p.TelemetryCount, p.EventsCount, p.Deliveries)
}

func (w *ColorStdoutWriter) println(line string) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.out, line)
	return err
}

// Write outputs a single telemetry row in colorized format.
func (w *ColorStdoutWriter) Write(row telemetry.TelemetryRow) error {
	return w.println(formatTelemetryLine(row, w.colors.get(row.DriverID)))
}

// WriteBatch outputs multiple telemetry rows.
func (w *ColorStdoutWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent prints an operational event.
func (w *ColorStdoutWriter) WriteEvent(ev telemetry.EventRow) error {
	return w.println(formatEventLine(ev, w.colors.get(ev.Payload.DriverID)))
}

// WriteProgress prints a progress snapshot.
func (w *ColorStdoutWriter) WriteProgress(p telemetry.ProgressRow) error {
	return w.println(formatProgressLine(p))
}

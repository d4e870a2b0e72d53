package sim

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"greencart-sim/internal/telemetry"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
)

const (
	defaultGreptimePort  = 4001
	greptimeWriteTimeout = 5 * time.Second
)

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeTables names the tables rows are written to.
type GreptimeTables struct {
	Telemetry string
	Events    string
	Progress  string
}

// GreptimeDBWriter writes telemetry, events and progress to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client greptimeClient
	tables GreptimeTables
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port") and database.
// Tables are created on first write.
func NewGreptimeDBWriter(endpoint, database string, tables GreptimeTables) (*GreptimeDBWriter, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeDBWriter{client: client, tables: tables}, nil
}

func splitEndpoint(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		// no port given
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("greptime endpoint %q: invalid port: %w", endpoint, err)
	}
	return host, port, nil
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table) error {
	ctx, cancel := context.WithTimeout(context.Background(), greptimeWriteTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		return fmt.Errorf("greptime write %s: %w", name, err)
	}
	return nil
}

// Write inserts a single telemetry row.
func (w *GreptimeDBWriter) Write(row telemetry.TelemetryRow) error {
	return w.WriteBatch([]telemetry.TelemetryRow{row})
}

// WriteBatch inserts multiple telemetry rows.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := telemetryTable(w.tables.Telemetry)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(
			r.RunID, r.DriverID,
			r.Lat, r.Lon, r.Speed,
			int64(r.Heading), int64(r.BatteryPct),
			r.OrderID, string(r.FuelType), r.FuelCost,
			r.Timestamp,
		); err != nil {
			return fmt.Errorf("greptime telemetry row: %w", err)
		}
	}
	return w.write(w.tables.Telemetry, tbl)
}

func telemetryTable(name string) (*table.Table, error) {
	tbl, err := table.New(name)
	if err != nil {
		return nil, err
	}
	steps := []error{
		tbl.AddTagColumn("run_id", types.STRING),
		tbl.AddTagColumn("driver_id", types.STRING),
		tbl.AddFieldColumn("lat", types.FLOAT64),
		tbl.AddFieldColumn("lon", types.FLOAT64),
		tbl.AddFieldColumn("speed", types.FLOAT64),
		tbl.AddFieldColumn("heading", types.INT64),
		tbl.AddFieldColumn("battery_pct", types.INT64),
		tbl.AddFieldColumn("order_id", types.STRING),
		tbl.AddFieldColumn("fuel_type", types.STRING),
		tbl.AddFieldColumn("fuel_cost", types.FLOAT64),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// WriteEvent inserts an operational event.
func (w *GreptimeDBWriter) WriteEvent(row telemetry.EventRow) error {
	tbl, err := table.New(w.tables.Events)
	if err != nil {
		return err
	}
	for _, err := range []error{
		tbl.AddTagColumn("run_id", types.STRING),
		tbl.AddTagColumn("event_type", types.STRING),
		tbl.AddFieldColumn("driver_id", types.STRING),
		tbl.AddFieldColumn("message", types.STRING),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if err != nil {
			return err
		}
	}
	if err := tbl.AddRow(row.RunID, string(row.Type), row.Payload.DriverID, row.Payload.Message, row.Timestamp); err != nil {
		return fmt.Errorf("greptime event row: %w", err)
	}
	return w.write(w.tables.Events, tbl)
}

// WriteProgress inserts a progress snapshot.
func (w *GreptimeDBWriter) WriteProgress(row telemetry.ProgressRow) error {
	tbl, err := table.New(w.tables.Progress)
	if err != nil {
		return err
	}
	for _, err := range []error{
		tbl.AddTagColumn("run_id", types.STRING),
		tbl.AddFieldColumn("tick", types.INT64),
		tbl.AddFieldColumn("max_ticks", types.INT64),
		tbl.AddFieldColumn("telemetry_count", types.INT64),
		tbl.AddFieldColumn("events_count", types.INT64),
		tbl.AddFieldColumn("deliveries", types.INT64),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if err != nil {
			return err
		}
	}
	if err := tbl.AddRow(row.RunID, int64(row.Tick), int64(row.MaxTicks),
		int64(row.TelemetryCount), int64(row.EventsCount), int64(row.Deliveries), row.Timestamp); err != nil {
		return fmt.Errorf("greptime progress row: %w", err)
	}
	return w.write(w.tables.Progress, tbl)
}

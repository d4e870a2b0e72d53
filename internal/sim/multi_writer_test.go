package sim

import (
	"errors"
	"testing"

	"greencart-sim/internal/telemetry"
)

// plainWriter only supports single-row writes.
type plainWriter struct{ rows []telemetry.TelemetryRow }

func (p *plainWriter) Write(r telemetry.TelemetryRow) error {
	p.rows = append(p.rows, r)
	return nil
}

// fullWriter supports every optional interface.
type fullWriter struct {
	batches  int
	events   []telemetry.EventRow
	progress []telemetry.ProgressRow
	closed   bool
	err      error
}

func (f *fullWriter) Write(telemetry.TelemetryRow) error { return f.err }
func (f *fullWriter) WriteBatch([]telemetry.TelemetryRow) error {
	f.batches++
	return f.err
}
func (f *fullWriter) WriteEvent(e telemetry.EventRow) error {
	f.events = append(f.events, e)
	return f.err
}
func (f *fullWriter) WriteProgress(p telemetry.ProgressRow) error {
	f.progress = append(f.progress, p)
	return f.err
}
func (f *fullWriter) Close() error {
	f.closed = true
	return nil
}

func TestMultiWriterSkipsNil(t *testing.T) {
	mw := NewMultiWriter(nil, &plainWriter{}, nil)
	if mw.Len() != 1 {
		t.Fatalf("expected 1 writer, got %d", mw.Len())
	}
}

func TestMultiWriterBatchFallback(t *testing.T) {
	p := &plainWriter{}
	f := &fullWriter{}
	mw := NewMultiWriter(p, f)
	rows := []telemetry.TelemetryRow{{DriverID: "d1"}, {DriverID: "d2"}}
	if err := mw.WriteBatch(rows); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(p.rows) != 2 {
		t.Fatalf("plain writer got %d rows, want 2", len(p.rows))
	}
	if f.batches != 1 {
		t.Fatalf("batch writer got %d batches, want 1", f.batches)
	}
}

func TestMultiWriterOptionalInterfaces(t *testing.T) {
	p := &plainWriter{}
	f := &fullWriter{}
	mw := NewMultiWriter(p, f)
	if err := mw.WriteEvent(telemetry.EventRow{Type: telemetry.EventReroute}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := mw.WriteProgress(telemetry.ProgressRow{Tick: 10}); err != nil {
		t.Fatalf("WriteProgress: %v", err)
	}
	if len(f.events) != 1 || len(f.progress) != 1 {
		t.Fatalf("events=%d progress=%d", len(f.events), len(f.progress))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.closed {
		t.Fatalf("close not forwarded")
	}
}

func TestMultiWriterContinuesAfterFailure(t *testing.T) {
	boom := errors.New("sink down")
	bad := &fullWriter{err: boom}
	good := &plainWriter{}
	mw := NewMultiWriter(bad, good)
	err := mw.Write(telemetry.TelemetryRow{DriverID: "d1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined sink error, got %v", err)
	}
	if len(good.rows) != 1 {
		t.Fatalf("healthy sink should still receive the row")
	}
}

package sim

import (
	"encoding/json"
	"errors"
	"os"

	"greencart-sim/internal/telemetry"
)

// FileWriter writes telemetry, event and progress rows to JSONL files.
type FileWriter struct {
	teleFile     *os.File
	eventFile    *os.File
	progressFile *os.File
	teleEnc      *json.Encoder
	eventEnc     *json.Encoder
	progressEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. eventPath or progressPath may be empty to skip those logs.
// Existing files are appended to.
func NewFileWriter(telemetryPath, eventPath, progressPath string) (*FileWriter, error) {
	tf, err := openLog(telemetryPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{teleFile: tf, teleEnc: json.NewEncoder(tf)}
	if eventPath != "" {
		ef, err := openLog(eventPath)
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		fw.eventFile = ef
		fw.eventEnc = json.NewEncoder(ef)
	}
	if progressPath != "" {
		pf, err := openLog(progressPath)
		if err != nil {
			_ = fw.Close()
			return nil, err
		}
		fw.progressFile = pf
		fw.progressEnc = json.NewEncoder(pf)
	}
	return fw, nil
}

func openLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Write logs a single telemetry row.
func (f *FileWriter) Write(row telemetry.TelemetryRow) error {
	return f.teleEnc.Encode(row)
}

// WriteBatch logs multiple telemetry rows.
func (f *FileWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent logs an event row, if enabled.
func (f *FileWriter) WriteEvent(row telemetry.EventRow) error {
	if f.eventEnc == nil {
		return nil
	}
	return f.eventEnc.Encode(row)
}

// WriteProgress logs a progress row, if enabled.
func (f *FileWriter) WriteProgress(row telemetry.ProgressRow) error {
	if f.progressEnc == nil {
		return nil
	}
	return f.progressEnc.Encode(row)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var errs []error
	for _, file := range []*os.File{f.teleFile, f.eventFile, f.progressFile} {
		if file != nil {
			errs = append(errs, file.Close())
		}
	}
	return errors.Join(errs...)
}

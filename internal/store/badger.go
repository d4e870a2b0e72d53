package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const runKeyPrefix = "run/"

func runKey(id string) []byte { return []byte(runKeyPrefix + id) }

// BadgerOptions configures an embedded run store.
type BadgerOptions struct {
	Path     string
	InMemory bool
	Logger   *slog.Logger
}

// Badger stores JSON encoded run records in an embedded key-value database.
type Badger struct {
	db  *badger.DB
	now func() time.Time
}

// badgerLogger routes badger's internal logging to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (or creates) a badger database at opts.Path.
func OpenBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("open badger store: path is required for persistent database")
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("open badger store: create directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path).WithSyncWrites(true)
	}
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &Badger{db: db, now: time.Now}, nil
}

func getRun(txn *badger.Txn, id string) (*Run, error) {
	item, err := txn.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var run Run
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &run)
	}); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &run, nil
}

func putRun(txn *badger.Txn, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode %s: %w", run.RunID, err)
	}
	return txn.Set(runKey(run.RunID), data)
}

func (b *Badger) Create(_ context.Context, run *Run) error {
	if err := validateNew(run); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := getRun(txn, run.RunID); err == nil {
			return ErrDuplicate
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return putRun(txn, run)
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", run.RunID, err)
	}
	return nil
}

func (b *Badger) UpdateCounts(_ context.Context, runID string, telemetryCount, eventsCount int) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		run, err := getRun(txn, runID)
		if err != nil {
			return err
		}
		if run.Status != StatusRunning {
			return ErrInvalidTransition
		}
		run.TelemetryCount = telemetryCount
		run.EventsCount = eventsCount
		run.UpdatedAt = b.now().UTC()
		return putRun(txn, run)
	})
	if err != nil {
		return fmt.Errorf("update counts %s: %w", runID, err)
	}
	return nil
}

func (b *Badger) Finalize(_ context.Context, runID string, f Finalization) error {
	if err := f.validate(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		run, err := getRun(txn, runID)
		if err != nil {
			return err
		}
		if err := applyFinalization(run, f); err != nil {
			return err
		}
		return putRun(txn, run)
	})
	if err != nil {
		return fmt.Errorf("finalize %s: %w", runID, err)
	}
	return nil
}

func (b *Badger) Get(_ context.Context, runID string) (*Run, error) {
	var run *Run
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		run, err = getRun(txn, runID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", runID, err)
	}
	return run, nil
}

func (b *Badger) List(_ context.Context, f Filter) ([]*Run, error) {
	var all []*Run
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(runKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var run Run
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			all = append(all, &run)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return selectRuns(all, f), nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

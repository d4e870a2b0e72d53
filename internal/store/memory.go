package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory keeps run records in process memory.
type Memory struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*Run), now: time.Now}
}

func (m *Memory) Create(_ context.Context, run *Run) error {
	if err := validateNew(run); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("create %s: %w", run.RunID, ErrDuplicate)
	}
	m.runs[run.RunID] = run.Clone()
	return nil
}

func (m *Memory) UpdateCounts(_ context.Context, runID string, telemetryCount, eventsCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("update counts %s: %w", runID, ErrNotFound)
	}
	if r.Status != StatusRunning {
		return fmt.Errorf("update counts %s: %w", runID, ErrInvalidTransition)
	}
	r.TelemetryCount = telemetryCount
	r.EventsCount = eventsCount
	r.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) Finalize(_ context.Context, runID string, f Finalization) error {
	if err := f.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("finalize %s: %w", runID, ErrNotFound)
	}
	return applyFinalization(r, f)
}

func (m *Memory) Get(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	return r.Clone(), nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*Run, error) {
	m.mu.RLock()
	all := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		all = append(all, r.Clone())
	}
	m.mu.RUnlock()
	return selectRuns(all, f), nil
}

func (m *Memory) Close() error { return nil }

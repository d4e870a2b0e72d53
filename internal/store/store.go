// Package store persists simulation run records.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("store: run not found")
	ErrInvalidTransition = errors.New("store: invalid status transition")
	ErrDuplicate         = errors.New("store: run already exists")
)

// Status is the lifecycle state of a run. The only legal transition is
// running to one of the terminal states.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusRunning || s.Terminal()
}

// Params tune the tick generator for one run.
type Params struct {
	SpeedVariance        float64 `json:"speedVariance"`
	TrafficFactor        float64 `json:"trafficFactor"`
	BreakdownProbability float64 `json:"breakdownProbability"`
	RerouteProbability   float64 `json:"rerouteProbability"`
}

// Settings is the immutable configuration a run was started with.
type Settings struct {
	DriverIDs []string `json:"driverIds"`
	OrderIDs  []string `json:"orderIds"`
	Params    Params   `json:"params"`
}

type Deliveries struct {
	Total            int     `json:"total"`
	OnTime           int     `json:"onTime"`
	Late             int     `json:"late"`
	OnTimePercentage float64 `json:"onTimePercentage"`
}

type FuelBreakdown struct {
	Diesel   float64 `json:"diesel"`
	Petrol   float64 `json:"petrol"`
	Electric float64 `json:"electric"`
}

type FuelCosts struct {
	Total     float64       `json:"total"`
	Breakdown FuelBreakdown `json:"breakdown"`
}

// Distance totals are in kilometres.
type Distance struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
}

// TimeStats totals are in seconds.
type TimeStats struct {
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
}

// Results are the final metrics of a run.
type Results struct {
	TotalProfit     float64    `json:"totalProfit"`
	EfficiencyScore int        `json:"efficiencyScore"`
	Deliveries      Deliveries `json:"deliveries"`
	FuelCosts       FuelCosts  `json:"fuelCosts"`
	Distance        Distance   `json:"distance"`
	Time            TimeStats  `json:"time"`
	Breakdowns      int        `json:"breakdowns"`
	Reroutes        int        `json:"reroutes"`
}

// Run is the durable record of one simulation.
type Run struct {
	RunID          string     `json:"runId"`
	Name           string     `json:"name"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	Duration       int        `json:"duration"` // minutes
	Status         Status     `json:"status"`
	Settings       Settings   `json:"settings"`
	Results        *Results   `json:"results,omitempty"`
	TelemetryCount int        `json:"telemetryCount"`
	EventsCount    int        `json:"eventsCount"`
	CreatedBy      string     `json:"createdBy"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy of r.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Settings.DriverIDs = slices.Clone(r.Settings.DriverIDs)
	c.Settings.OrderIDs = slices.Clone(r.Settings.OrderIDs)
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	if r.Results != nil {
		res := *r.Results
		c.Results = &res
	}
	return &c
}

// Finalization is the terminal update applied to a running record.
type Finalization struct {
	Status         Status
	EndTime        time.Time
	Results        *Results // nil when no aggregates are available
	TelemetryCount int
	EventsCount    int
}

func (f Finalization) validate() error {
	if !f.Status.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, f.Status)
	}
	return nil
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status    Status
	From      time.Time // inclusive lower bound on StartTime
	To        time.Time // inclusive upper bound on StartTime
	CreatedBy string
	Limit     int
}

// EffectiveLimit returns Limit clamped to (0, MaxListLimit], defaulting to DefaultListLimit.
func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

// Match reports whether r satisfies every set field of f.
func (f Filter) Match(r *Run) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && r.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.StartTime.After(f.To) {
		return false
	}
	if f.CreatedBy != "" && r.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

// Store is the run record persistence contract shared by all drivers.
type Store interface {
	// Create inserts a new running record. ErrDuplicate if the id exists.
	Create(ctx context.Context, run *Run) error
	// UpdateCounts checkpoints progress counters of a running record.
	UpdateCounts(ctx context.Context, runID string, telemetryCount, eventsCount int) error
	// Finalize moves a running record to a terminal status with its results.
	Finalize(ctx context.Context, runID string, f Finalization) error
	Get(ctx context.Context, runID string) (*Run, error)
	// List returns matching records, newest StartTime first.
	List(ctx context.Context, f Filter) ([]*Run, error)
	Close() error
}

func validateNew(run *Run) error {
	if run == nil || strings.TrimSpace(run.RunID) == "" {
		return errors.New("store: run id is required")
	}
	if run.Status != StatusRunning {
		return fmt.Errorf("%w: new runs must be %q, got %q", ErrInvalidTransition, StatusRunning, run.Status)
	}
	return nil
}

// applyFinalization mutates a running record in place.
func applyFinalization(run *Run, f Finalization) error {
	if run.Status != StatusRunning {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, run.RunID, run.Status)
	}
	end := f.EndTime
	run.Status = f.Status
	run.EndTime = &end
	run.Results = nil
	if f.Results != nil {
		res := *f.Results
		run.Results = &res
	}
	run.TelemetryCount = f.TelemetryCount
	run.EventsCount = f.EventsCount
	run.UpdatedAt = end
	return nil
}

// selectRuns filters, orders newest first and truncates.
func selectRuns(runs []*Run, f Filter) []*Run {
	out := make([]*Run, 0, len(runs))
	for _, r := range runs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b *Run) int {
		if c := b.StartTime.Compare(a.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.RunID, b.RunID)
	})
	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

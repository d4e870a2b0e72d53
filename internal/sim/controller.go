// Run lifecycle controller: start, stop, status and finalization of simulation runs
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"greencart-sim/internal/broadcast"
	"greencart-sim/internal/config"
	"greencart-sim/internal/logging"
	"greencart-sim/internal/metrics"
	"greencart-sim/internal/store"
	"greencart-sim/internal/telemetry"

	"github.com/google/uuid"
)

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("simulation controller is shut down")

// StatusNotFound is reported by Status for ids with no active run.
const StatusNotFound = "not-found"

// progress rows and log lines are emitted every progressEvery ticks
const progressEvery = 10

// Options wires a Controller. Store is required; everything else has a default.
type Options struct {
	Store     store.Store
	Hub       *broadcast.Hub
	Sink      TelemetryWriter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Config    config.SimulationConfig
	NewTicker TickerFactory
	NewRand   func() telemetry.Rand
	Now       func() time.Time
	NewID     func() string
}

// Controller owns the registry of active runs.
type Controller struct {
	store     store.Store
	hub       *broadcast.Hub
	sink      TelemetryWriter
	metrics   *metrics.Metrics
	log       *slog.Logger
	cfg       config.SimulationConfig
	econ      Economics
	origin    telemetry.Origin
	newTicker TickerFactory
	newRand   func() telemetry.Rand
	now       func() time.Time
	newID     func() string

	mu     sync.Mutex
	runs   map[string]*run
	closed bool
}

// run is the live handle of one simulation.
type run struct {
	id        string
	name      string
	duration  int
	maxTicks  int
	settings  store.Settings
	createdBy string
	startTime time.Time
	gen       *telemetry.Generator
	log       *slog.Logger

	mu   sync.Mutex
	tick int
	acc  Accumulator

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller.
func NewController(opts Options) *Controller {
	c := &Controller{
		store:     opts.Store,
		hub:       opts.Hub,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		cfg:       opts.Config,
		newTicker: opts.NewTicker,
		newRand:   opts.NewRand,
		now:       opts.Now,
		newID:     opts.NewID,
		runs:      make(map[string]*run),
	}
	if c.hub == nil {
		c.hub = broadcast.NewHub(nil)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.cfg.TickInterval <= 0 {
		c.cfg = config.Default().Simulation
	}
	if c.newTicker == nil {
		c.newTicker = NewRealTicker
	}
	if c.newRand == nil {
		c.newRand = func() telemetry.Rand { return rand.New(rand.NewSource(time.Now().UnixNano())) }
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = func() string { return "sim-" + uuid.NewString() }
	}
	c.econ = Economics{RevenuePerDelivery: c.cfg.RevenuePerDelivery, CostPerKm: c.cfg.CostPerKm}
	c.origin = telemetry.Origin{Lat: c.cfg.ReferenceLat, Lon: c.cfg.ReferenceLon, Jitter: c.cfg.PositionJitter}
	return c
}

// Hub returns the broadcaster runs publish to.
func (c *Controller) Hub() *broadcast.Hub { return c.hub }

// Start validates req, persists a running record and starts ticking.
func (c *Controller) Start(ctx context.Context, req StartRequest) (string, error) {
	params, err := req.validate()
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	now := c.now().UTC()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Simulation " + now.Format(time.RFC3339)
	}
	actor := strings.TrimSpace(req.ActorID)
	if actor == "" {
		actor = "system"
	}
	id := c.newID()
	settings := store.Settings{
		DriverIDs: slices.Clone(req.DriverIDs),
		OrderIDs:  slices.Clone(req.OrderIDs),
		Params:    params,
	}

	rec := &store.Run{
		RunID:     id,
		Name:      name,
		StartTime: now,
		Duration:  req.DurationMinutes,
		Status:    store.StatusRunning,
		Settings:  settings,
		CreatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.Create(ctx, rec); err != nil {
		c.metrics.PersistenceFailure("create")
		return "", fmt.Errorf("start %s: %w: %w", id, ErrPersistence, err)
	}

	log := c.log.With("run_id", id)
	r := &run{
		id:        id,
		name:      name,
		duration:  req.DurationMinutes,
		maxTicks:  req.DurationMinutes * 60,
		settings:  settings,
		createdBy: actor,
		startTime: now,
		gen:       telemetry.NewGenerator(c.origin, c.newRand(), c.now),
		log:       log,
		done:      make(chan struct{}),
	}
	// detached from the request context
	runCtx, cancel := context.WithCancel(logging.NewContext(context.WithoutCancel(ctx), log))
	r.cancel = cancel

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		close(r.done)
		// the record exists, so count it as started before finishing it
		c.metrics.RunStarted()
		_ = c.finalize(context.WithoutCancel(ctx), r, store.StatusFailed)
		return "", ErrClosed
	}
	c.runs[id] = r
	c.mu.Unlock()

	c.metrics.RunStarted()
	go c.loop(runCtx, r, c.newTicker(c.cfg.TickInterval))
	log.Info("simulation started", "name", name, "duration_min", r.duration,
		"drivers", len(settings.DriverIDs), "orders", len(settings.OrderIDs))
	return id, nil
}

func (c *Controller) loop(ctx context.Context, r *run, t Ticker) {
	defer close(r.done)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			if ctx.Err() != nil {
				return
			}
			if !c.tick(ctx, r) {
				continue
			}
			// exhausted; a concurrent Stop may already have claimed the run
			if c.claim(r.id) == r {
				_ = c.finalize(ctx, r, store.StatusCompleted)
			}
			return
		}
	}
}

// claim removes runID from the registry. Only the caller that gets a non-nil
// run back may finalize it.
func (c *Controller) claim(runID string) *run {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.runs[runID]
	if !ok {
		return nil
	}
	delete(c.runs, runID)
	return r
}

// Stop halts an active run and finalizes it as stopped. It returns false when
// no active run has that id.
func (c *Controller) Stop(ctx context.Context, runID string) (bool, error) {
	r := c.claim(runID)
	if r == nil {
		return false, nil
	}
	r.cancel()
	<-r.done
	return true, c.finalize(ctx, r, store.StatusStopped)
}

// EndPayload is the data of a simulationEnd message.
type EndPayload struct {
	RunID   string        `json:"runId"`
	Status  store.Status  `json:"status"`
	Message string        `json:"message"`
	Results store.Results `json:"results"`
}

var endMessages = map[store.Status]string{
	store.StatusCompleted: "Simulation completed.",
	store.StatusStopped:   "Simulation stopped.",
	store.StatusFailed:    "Simulation terminated before completion.",
}

// finalize computes results, persists them and announces the end. The run
// must already be claimed and its loop stopped.
func (c *Controller) finalize(ctx context.Context, r *run, status store.Status) error {
	r.mu.Lock()
	acc := r.acc.Snapshot()
	tick := r.tick
	r.mu.Unlock()

	results := FinalizeWith(acc, r.duration, c.econ)
	var err error
	ferr := c.store.Finalize(ctx, r.id, store.Finalization{
		Status:         status,
		EndTime:        c.now().UTC(),
		Results:        &results,
		TelemetryCount: acc.TelemetryCount,
		EventsCount:    acc.EventsCount,
	})
	if ferr != nil {
		c.metrics.PersistenceFailure("finalize")
		r.log.Error("persist final results", "status", status, "err", ferr)
		err = fmt.Errorf("finalize %s: %w: %w", r.id, ErrPersistence, ferr)
	}
	c.metrics.RunFinished(string(status))

	c.hub.Publish(r.id, broadcast.Message{
		Event: broadcast.EventSimulationEnd,
		Data:  EndPayload{RunID: r.id, Status: status, Message: endMessages[status], Results: results},
	})
	r.log.Info("simulation finished", "status", status, "tick", tick,
		"telemetry", acc.TelemetryCount, "events", acc.EventsCount, "score", results.EfficiencyScore)
	return err
}

// LiveState is the registry view of a run.
type LiveState struct {
	Status      string          `json:"status"`
	RunID       string          `json:"runId,omitempty"`
	Name        string          `json:"name,omitempty"`
	Duration    int             `json:"duration,omitempty"`
	StartTime   *time.Time      `json:"startTime,omitempty"`
	Tick        int             `json:"tick"`
	MaxTicks    int             `json:"maxTicks"`
	Settings    *store.Settings `json:"settings,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	Aggregates  *Accumulator    `json:"aggregates,omitempty"`
	Subscribers int             `json:"subscribers"`
}

func (c *Controller) live(r *run) LiveState {
	r.mu.Lock()
	tick := r.tick
	acc := r.acc.Snapshot()
	r.mu.Unlock()

	start := r.startTime
	settings := r.settings
	return LiveState{
		Status:      string(store.StatusRunning),
		RunID:       r.id,
		Name:        r.name,
		Duration:    r.duration,
		StartTime:   &start,
		Tick:        tick,
		MaxTicks:    r.maxTicks,
		Settings:    &settings,
		CreatedBy:   r.createdBy,
		Aggregates:  &acc,
		Subscribers: c.hub.Subscribers(r.id),
	}
}

// Status reports the live state of an active run, or StatusNotFound.
// It never touches the store.
func (c *Controller) Status(runID string) LiveState {
	c.mu.Lock()
	r, ok := c.runs[runID]
	c.mu.Unlock()
	if !ok {
		return LiveState{Status: StatusNotFound}
	}
	return c.live(r)
}

// ActiveRuns lists every active run, oldest first.
func (c *Controller) ActiveRuns() []LiveState {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	slices.SortFunc(runs, func(a, b *run) int {
		if c := a.startTime.Compare(b.startTime); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	out := make([]LiveState, 0, len(runs))
	for _, r := range runs {
		out = append(out, c.live(r))
	}
	return out
}

// ListRuns queries persisted run records.
func (c *Controller) ListRuns(ctx context.Context, f store.Filter) ([]*store.Run, error) {
	return c.store.List(ctx, f)
}

// GetRun returns one persisted record; store.ErrNotFound when absent.
func (c *Controller) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	return c.store.Get(ctx, runID)
}

// RecoverOrphans marks running records that no active run owns as failed.
// Their results stay empty.
// Call it once at startup, before accepting requests.
func (c *Controller) RecoverOrphans(ctx context.Context) (int, error) {
	recs, err := c.store.List(ctx, store.Filter{Status: store.StatusRunning, Limit: store.MaxListLimit})
	if err != nil {
		return 0, fmt.Errorf("recover orphans: %w", err)
	}
	recovered := 0
	for _, rec := range recs {
		c.mu.Lock()
		_, live := c.runs[rec.RunID]
		c.mu.Unlock()
		if live {
			continue
		}
		// the aggregates died with the previous process; only the checkpointed counts survive
		err := c.store.Finalize(ctx, rec.RunID, store.Finalization{
			Status:         store.StatusFailed,
			EndTime:        c.now().UTC(),
			TelemetryCount: rec.TelemetryCount,
			EventsCount:    rec.EventsCount,
		})
		if err != nil {
			c.metrics.PersistenceFailure("recover")
			c.log.Error("recover orphaned run", "run_id", rec.RunID, "err", err)
			continue
		}
		c.log.Warn("orphaned run marked failed", "run_id", rec.RunID, "started", rec.StartTime)
		recovered++
	}
	return recovered, nil
}

// Shutdown stops accepting runs, stops every active run and finalizes it as
// failed with the aggregates collected so far.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	runs := make([]*run, 0, len(c.runs))
	for id, r := range c.runs {
		runs = append(runs, r)
		delete(c.runs, id)
	}
	c.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	var errs []error
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			r.log.Warn("run loop did not exit before shutdown deadline")
		}
		if err := c.finalize(context.WithoutCancel(ctx), r, store.StatusFailed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

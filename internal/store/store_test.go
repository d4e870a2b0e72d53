package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"greencart-sim/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRun(id string, start time.Time, createdBy string) *Run {
	return &Run{
		RunID:     id,
		Name:      "run " + id,
		StartTime: start,
		Duration:  5,
		Status:    StatusRunning,
		Settings: Settings{
			DriverIDs: []string{"d1", "d2"},
			OrderIDs:  []string{"o1"},
			Params:    Params{SpeedVariance: 1, TrafficFactor: 1, BreakdownProbability: 0.3, RerouteProbability: 0.7},
		},
		CreatedBy: createdBy,
		CreatedAt: start,
		UpdatedAt: start,
	}
}

// runStoreContract exercises behaviour every driver must share.
func runStoreContract(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newRun("sim-a", t0, "u1")))

		got, err := s.Get(ctx, "sim-a")
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, got.Status)
		assert.Equal(t, []string{"d1", "d2"}, got.Settings.DriverIDs)
		assert.Nil(t, got.Results)
		assert.Nil(t, got.EndTime)
		assert.True(t, got.StartTime.Equal(t0))
	})

	t.Run("duplicate", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newRun("sim-a", t0, "u1")))
		assert.ErrorIs(t, s.Create(ctx, newRun("sim-a", t0, "u1")), ErrDuplicate)
	})

	t.Run("create rejects non-running", func(t *testing.T) {
		s := open(t)
		r := newRun("sim-a", t0, "u1")
		r.Status = StatusCompleted
		assert.ErrorIs(t, s.Create(ctx, r), ErrInvalidTransition)
	})

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("finalize once", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newRun("sim-a", t0, "u1")))
		require.NoError(t, s.UpdateCounts(ctx, "sim-a", 20, 1))

		end := t0.Add(5 * time.Minute)
		res := Results{TotalProfit: 12.5, EfficiencyScore: 80, Breakdowns: 1}
		require.NoError(t, s.Finalize(ctx, "sim-a", Finalization{
			Status: StatusStopped, EndTime: end, Results: &res, TelemetryCount: 30, EventsCount: 2,
		}))

		got, err := s.Get(ctx, "sim-a")
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, got.Status)
		require.NotNil(t, got.EndTime)
		assert.True(t, got.EndTime.Equal(end))
		require.NotNil(t, got.Results)
		assert.Equal(t, res, *got.Results)
		assert.Equal(t, 30, got.TelemetryCount)
		assert.Equal(t, 2, got.EventsCount)

		err = s.Finalize(ctx, "sim-a", Finalization{Status: StatusCompleted, EndTime: end})
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorIs(t, s.UpdateCounts(ctx, "sim-a", 99, 99), ErrInvalidTransition)

		got, err = s.Get(ctx, "sim-a")
		require.NoError(t, err)
		assert.Equal(t, StatusStopped, got.Status, "terminal status must not change")
	})

	t.Run("finalize without results", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newRun("sim-a", t0, "u1")))
		require.NoError(t, s.Finalize(ctx, "sim-a", Finalization{
			Status: StatusFailed, EndTime: t0.Add(time.Minute), TelemetryCount: 40,
		}))

		got, err := s.Get(ctx, "sim-a")
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, 40, got.TelemetryCount)
		assert.Nil(t, got.Results)
	})

	t.Run("finalize missing or non-terminal", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.Finalize(ctx, "nope", Finalization{Status: StatusCompleted, EndTime: t0}), ErrNotFound)
		require.NoError(t, s.Create(ctx, newRun("sim-a", t0, "u1")))
		assert.ErrorIs(t, s.Finalize(ctx, "sim-a", Finalization{Status: StatusRunning, EndTime: t0}), ErrInvalidTransition)
		assert.ErrorIs(t, s.UpdateCounts(ctx, "nope", 1, 1), ErrNotFound)
	})

	t.Run("list filters and order", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 5; i++ {
			by := "u1"
			if i%2 == 1 {
				by = "u2"
			}
			require.NoError(t, s.Create(ctx, newRun(fmt.Sprintf("sim-%d", i), t0.Add(time.Duration(i)*time.Hour), by)))
		}
		require.NoError(t, s.Finalize(ctx, "sim-3", Finalization{Status: StatusCompleted, EndTime: t0.Add(4 * time.Hour)}))

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "sim-4", all[0].RunID)
		assert.Equal(t, "sim-0", all[4].RunID)

		completed, err := s.List(ctx, Filter{Status: StatusCompleted})
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, "sim-3", completed[0].RunID)

		byU2, err := s.List(ctx, Filter{CreatedBy: "u2"})
		require.NoError(t, err)
		assert.Len(t, byU2, 2)

		window, err := s.List(ctx, Filter{From: t0.Add(time.Hour), To: t0.Add(3 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, window, 3)
		assert.Equal(t, "sim-3", window[0].RunID)

		limited, err := s.List(ctx, Filter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	r := newRun("sim-a", t0, "u1")
	require.NoError(t, s.Create(ctx, r))
	r.Settings.DriverIDs[0] = "mutated"

	got, err := s.Get(ctx, "sim-a")
	require.NoError(t, err)
	got.Name = "changed"

	again, err := s.Get(ctx, "sim-a")
	require.NoError(t, err)
	assert.Equal(t, "d1", again.Settings.DriverIDs[0])
	assert.Equal(t, "run sim-a", again.Name)
}

func TestBadgerStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, err := OpenBadger(BadgerOptions{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStorePersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newRun("sim-a", t0, "u1")))
	require.NoError(t, s.Close())

	s, err = OpenBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "sim-a")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.CreatedBy)
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

// TestPostgresStore runs the contract against a real database when
// GREENCART_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("GREENCART_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("GREENCART_TEST_DATABASE_URL not set")
	}
	runStoreContract(t, func(t *testing.T) Store {
		ctx := context.Background()
		pg, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, pg.InitSchema(ctx))
		_, err = pg.DB.ExecContext(ctx, `TRUNCATE simulation_runs`)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Close() })
		return pg
	})
}

func TestBuildListQuery(t *testing.T) {
	q, args := buildListQuery(Filter{})
	assert.NotContains(t, q, "WHERE")
	assert.Contains(t, q, "ORDER BY start_time DESC")
	assert.Contains(t, q, "LIMIT $1")
	assert.Equal(t, []any{DefaultListLimit}, args)

	from := t0
	q, args = buildListQuery(Filter{Status: StatusStopped, From: from, CreatedBy: "u1", Limit: 5})
	assert.Contains(t, q, "WHERE status = $1 AND start_time >= $2 AND created_by = $3")
	assert.Contains(t, q, "LIMIT $4")
	assert.Equal(t, []any{"stopped", from, "u1", 5}, args)
}

func TestFilterEffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, Filter{}.EffectiveLimit())
	assert.Equal(t, 7, Filter{Limit: 7}.EffectiveLimit())
	assert.Equal(t, MaxListLimit, Filter{Limit: 50000}.EffectiveLimit())
}

func TestOpenSelectsDriver(t *testing.T) {
	s, err := Open(context.Background(), config.StoreConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(context.Background(), config.StoreConfig{Driver: "sqlite"}, nil)
	assert.Error(t, err)
}

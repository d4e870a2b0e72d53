package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const uniqueViolation = "23505"

// Postgres stores run records in a simulation_runs table.
type Postgres struct {
	DB  *sql.DB
	now func() time.Time
}

// OpenPostgres connects to databaseURL through the pgx stdlib driver and verifies the connection.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open postgres store: verify connection: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db, now: time.Now}
}

// InitSchema creates the run table and its indexes if they do not exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	if p.DB == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	createRunsQuery := `
	CREATE TABLE IF NOT EXISTS simulation_runs (
		run_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		duration_minutes INTEGER NOT NULL,
		status TEXT NOT NULL,
		settings JSONB NOT NULL,
		results JSONB,
		telemetry_count INTEGER NOT NULL DEFAULT 0,
		events_count INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	`

	createStartIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_simulation_runs_start_time
	ON simulation_runs(start_time DESC);
	`

	createStatusIndexQuery := `
	CREATE INDEX IF NOT EXISTS idx_simulation_runs_status
	ON simulation_runs(status);
	`

	statements := []string{
		createRunsQuery,
		createStartIndexQuery,
		createStatusIndexQuery,
	}

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, run *Run) error {
	if err := validateNew(run); err != nil {
		return err
	}
	settings, err := json.Marshal(run.Settings)
	if err != nil {
		return fmt.Errorf("create %s: encode settings: %w", run.RunID, err)
	}

	q := `
	INSERT INTO simulation_runs
		(run_id, name, start_time, duration_minutes, status, settings,
		 telemetry_count, events_count, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
	`
	_, err = p.DB.ExecContext(ctx, q,
		run.RunID, run.Name, run.StartTime, run.Duration, string(run.Status), settings,
		run.TelemetryCount, run.EventsCount, run.CreatedBy, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create %s: %w", run.RunID, ErrDuplicate)
		}
		return fmt.Errorf("create %s: insert run: %w", run.RunID, err)
	}
	return nil
}

func (p *Postgres) UpdateCounts(ctx context.Context, runID string, telemetryCount, eventsCount int) error {
	q := `
	UPDATE simulation_runs
	SET telemetry_count = $2, events_count = $3, updated_at = $4
	WHERE run_id = $1 AND status = 'running';
	`
	res, err := p.DB.ExecContext(ctx, q, runID, telemetryCount, eventsCount, p.now().UTC())
	if err != nil {
		return fmt.Errorf("update counts %s: %w", runID, err)
	}
	return p.checkAffected(ctx, res, "update counts", runID)
}

func (p *Postgres) Finalize(ctx context.Context, runID string, f Finalization) error {
	if err := f.validate(); err != nil {
		return err
	}
	var results []byte
	if f.Results != nil {
		b, err := json.Marshal(f.Results)
		if err != nil {
			return fmt.Errorf("finalize %s: encode results: %w", runID, err)
		}
		results = b
	}

	q := `
	UPDATE simulation_runs
	SET status = $2, end_time = $3, results = $4,
		telemetry_count = $5, events_count = $6, updated_at = $3
	WHERE run_id = $1 AND status = 'running';
	`
	res, err := p.DB.ExecContext(ctx, q, runID, string(f.Status), f.EndTime, results, f.TelemetryCount, f.EventsCount)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", runID, err)
	}
	return p.checkAffected(ctx, res, "finalize", runID)
}

// checkAffected distinguishes a missing row from a row that is no longer running.
func (p *Postgres) checkAffected(ctx context.Context, res sql.Result, op, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, runID, err)
	}
	if n > 0 {
		return nil
	}
	var status string
	err = p.DB.QueryRowContext(ctx, `SELECT status FROM simulation_runs WHERE run_id = $1`, runID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", op, runID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s %s: lookup status: %w", op, runID, err)
	}
	return fmt.Errorf("%s %s: %w: run is %s", op, runID, ErrInvalidTransition, status)
}

const selectRunColumns = `
	SELECT run_id, name, start_time, end_time, duration_minutes, status, settings, results,
		telemetry_count, events_count, created_by, created_at, updated_at
	FROM simulation_runs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		run      Run
		status   string
		endTime  sql.NullTime
		settings []byte
		results  []byte
	)
	if err := s.Scan(&run.RunID, &run.Name, &run.StartTime, &endTime, &run.Duration, &status,
		&settings, &results, &run.TelemetryCount, &run.EventsCount, &run.CreatedBy,
		&run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	if endTime.Valid {
		t := endTime.Time
		run.EndTime = &t
	}
	if err := json.Unmarshal(settings, &run.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if len(results) > 0 && string(results) != "null" {
		var res Results
		if err := json.Unmarshal(results, &res); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		run.Results = &res
	}
	return &run, nil
}

func (p *Postgres) Get(ctx context.Context, runID string) (*Run, error) {
	row := p.DB.QueryRowContext(ctx, selectRunColumns+` WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", runID, err)
	}
	return run, nil
}

// buildListQuery renders the filtered, ordered and limited select for List.
func buildListQuery(f Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time <= $%d", f.To)
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}

	q := selectRunColumns
	if len(where) > 0 {
		q += "\n\tWHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	q += fmt.Sprintf("\n\tORDER BY start_time DESC, run_id ASC\n\tLIMIT $%d;", len(args))
	return q, args
}

func (p *Postgres) List(ctx context.Context, f Filter) ([]*Run, error) {
	q, args := buildListQuery(f)
	rows, err := p.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: query simulation_runs table: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: scan rows: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: iterate rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	return p.DB.Close()
}

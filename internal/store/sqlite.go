package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunLedger = (*SQLiteStore)(nil)

// SQLiteStore implements RunLedger backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// migrations and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	// Workers record outcomes concurrently; one connection keeps writes
	// serialized without SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
    id          TEXT PRIMARY KEY,
    start_day   TEXT NOT NULL,
    end_day     TEXT NOT NULL,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL DEFAULT 0,
    planned     INTEGER NOT NULL DEFAULT 0,
    appended    INTEGER NOT NULL DEFAULT 0,
    empty       INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    duplicate   INTEGER NOT NULL DEFAULT 0,
    invalid     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS day_outcomes (
    run_id      TEXT NOT NULL REFERENCES runs(id),
    day         TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    recorded_at INTEGER NOT NULL,
    PRIMARY KEY (run_id, day)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	_, err := s.db.Exec(ddl)
	return err
}

// ---------------------------------------------------------------------------
// RunLedger implementation
// ---------------------------------------------------------------------------

// StartRun inserts a new run row.
func (s *SQLiteStore) StartRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, start_day, end_day, started_at, planned) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.StartDay, run.EndDay, run.StartedAt.UnixMilli(), run.Planned,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// RecordDay stores the outcome of one day. A second outcome for the same
// day of a run replaces the first.
func (s *SQLiteStore) RecordDay(ctx context.Context, runID string, out DayOutcome) error {
	recorded := out.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO day_outcomes (run_id, day, outcome, attempts, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, out.Day, string(out.Outcome), out.Attempts, out.Error, recorded.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording %s for run %s: %w", out.Day, runID, err)
	}
	return nil
}

// FinishRun updates the counters and finish time of a run.
func (s *SQLiteStore) FinishRun(ctx context.Context, run Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, planned = ?, appended = ?, empty = ?,
		        failed = ?, duplicate = ?, invalid = ?
		 WHERE id = ?`,
		run.FinishedAt.UnixMilli(), run.Planned, run.Appended, run.Empty,
		run.Failed, run.Duplicate, run.Invalid, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: no such run", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, start_day, end_day, started_at, finished_at,
		        planned, appended, empty, failed, duplicate, invalid
		 FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			started, finished int64
		)
		if err := rows.Scan(&r.ID, &r.StartDay, &r.EndDay, &started, &finished,
			&r.Planned, &r.Appended, &r.Empty, &r.Failed, &r.Duplicate, &r.Invalid); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DayOutcomes returns the recorded outcomes of a run ordered by day.
func (s *SQLiteStore) DayOutcomes(ctx context.Context, runID string) ([]DayOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, outcome, attempts, error, recorded_at
		 FROM day_outcomes WHERE run_id = ? ORDER BY day`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outs []DayOutcome
	for rows.Next() {
		var (
			o        DayOutcome
			outcome  string
			recorded int64
		)
		if err := rows.Scan(&o.Day, &outcome, &o.Attempts, &o.Error, &recorded); err != nil {
			return nil, err
		}
		o.Outcome = Outcome(outcome)
		o.RecordedAt = time.UnixMilli(recorded).UTC()
		outs = append(outs, o)
	}
	return outs, rows.Err()
}

// Package store defines storage interfaces for the daily generation table
// and the run ledger, with CSV, Parquet, SQLite, and Postgres backends.
package store

import (
	"context"
	"sort"
	"time"

	"gridcarbon/internal/domain"
)

// DaySet is a set of canonical YYYY-MM-DD days.
type DaySet map[string]struct{}

// Has reports whether day is in the set.
func (s DaySet) Has(day string) bool {
	_, ok := s[day]
	return ok
}

// Sorted returns the days in ascending order.
func (s DaySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// AppendResult tells what Append did with a record.
type AppendResult int

const (
	// Appended means one row was written.
	Appended AppendResult = iota
	// SkippedDuplicate means the day was already present at write time.
	SkippedDuplicate
	// SkippedInvalidDate means the record's day did not normalize.
	SkippedInvalidDate
)

func (r AppendResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case SkippedDuplicate:
		return "duplicate"
	case SkippedInvalidDate:
		return "invalid"
	default:
		return "unknown"
	}
}

// DayStore persists the day table. It is the idempotency oracle of the
// ingest pipeline.
type DayStore interface {
	// ExistingDays returns the days already recorded. An absent, empty, or
	// unreadable store yields an empty set; only a failed repair is an error.
	ExistingDays(ctx context.Context) (DaySet, error)

	// Append writes one record unless its day is invalid or already present.
	Append(ctx context.Context, rec domain.DayRecord) (AppendResult, error)

	// ReadDays returns every stored record ordered by day.
	ReadDays(ctx context.Context) ([]domain.DayRecord, error)
}

// DayMirror receives a copy of each record after it is appended to the
// authoritative DayStore.
type DayMirror interface {
	MirrorDay(ctx context.Context, rec domain.DayRecord) error
}

// ---------------------------------------------------------------------------
// Run ledger
// ---------------------------------------------------------------------------

// Outcome is the terminal state of one day within a run.
type Outcome string

const (
	OutcomeAppended  Outcome = "appended"
	OutcomeEmpty     Outcome = "empty"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeInvalid   Outcome = "invalid"
)

// Run describes one ingest run over a day range.
type Run struct {
	ID         string    `json:"id"`
	StartDay   string    `json:"start_day"`
	EndDay     string    `json:"end_day"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Planned    int       `json:"planned"`
	Appended   int       `json:"appended"`
	Empty      int       `json:"empty"`
	Failed     int       `json:"failed"`
	Duplicate  int       `json:"duplicate"`
	Invalid    int       `json:"invalid"`
}

// DayOutcome records how one day ended within a run.
type DayOutcome struct {
	Day        string    `json:"day"`
	Outcome    Outcome   `json:"outcome"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RunLedger records runs and their per-day outcomes. It is informational
// only and never consulted for planning.
type RunLedger interface {
	StartRun(ctx context.Context, run Run) error
	RecordDay(ctx context.Context, runID string, out DayOutcome) error
	FinishRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Package httpapi provides the HTTP REST API of the gridcarbon daemon:
// the stored day table, the monthly summary, run control and the current
// power mix.
package httpapi

import (
	"context"
	"time"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/gather/powermix"
	"gridcarbon/internal/store"
)

// DayReader reads the stored day table.
type DayReader interface {
	ReadDays(ctx context.Context) ([]domain.DayRecord, error)
}

// Updater starts a background ingest run and returns its id.
type Updater interface {
	Trigger(ctx context.Context) (string, error)
}

// SnapshotSource returns the latest power-mix snapshot.
type SnapshotSource interface {
	Latest() (*powermix.Snapshot, bool)
}

// RunLister lists recent ingest runs.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

// OutcomeLister returns the per-day outcomes of one run.
type OutcomeLister interface {
	DayOutcomes(ctx context.Context, runID string) ([]store.DayOutcome, error)
}

// DaysResponse is returned by GET /api/carbon-data.
type DaysResponse struct {
	From  string             `json:"from,omitempty"`
	To    string             `json:"to,omitempty"`
	Count int                `json:"count"`
	Days  []domain.DayRecord `json:"days"`
}

// UpdateResponse is returned by POST /api/update-carbon-data.
type UpdateResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunsResponse is returned by GET /api/runs.
type RunsResponse struct {
	Runs []store.Run `json:"runs"`
}

// RunDetailResponse is returned by GET /api/runs/{id}.
type RunDetailResponse struct {
	RunID string             `json:"run_id"`
	Days  []store.DayOutcome `json:"days"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status  string    `json:"status"`
	Time    time.Time `json:"time"`
	Running bool      `json:"running"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

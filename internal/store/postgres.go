package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gridcarbon/internal/domain"
)

// Compile-time interface check.
var _ DayMirror = (*PostgresMirror)(nil)

// PostgresMirror copies appended days into a Postgres table. Rows are
// insert-only: a day that is already present is left as it is.
type PostgresMirror struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresMirror connects to dsn and ensures the carbon_days table
// exists.
func NewPostgresMirror(ctx context.Context, dsn string, maxConns int) (*PostgresMirror, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 2
	}
	cfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	m := &PostgresMirror{pool: pool, table: "carbon_days"}
	if err := m.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the pool.
func (m *PostgresMirror) Close() {
	m.pool.Close()
}

// EnsureSchema creates the mirror table if it does not exist.
func (m *PostgresMirror) EnsureSchema(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n    day date PRIMARY KEY", m.table)
	for _, c := range domain.Categories {
		fmt.Fprintf(&b, ",\n    %s double precision NOT NULL DEFAULT 0", c)
	}
	fmt.Fprintf(&b, ",\n    %s double precision NOT NULL DEFAULT 0", domain.EmissionColumn)
	b.WriteString(",\n    mirrored_at timestamptz NOT NULL DEFAULT now()\n)")

	if _, err := m.pool.Exec(ctx, b.String()); err != nil {
		return fmt.Errorf("creating %s: %w", m.table, err)
	}
	return nil
}

// insertSQL is the insert statement with one placeholder per column.
func (m *PostgresMirror) insertSQL() string {
	cols := make([]string, 0, len(domain.Categories)+2)
	args := make([]string, 0, cap(cols))
	cols = append(cols, "day")
	for _, c := range domain.Categories {
		cols = append(cols, string(c))
	}
	cols = append(cols, domain.EmissionColumn)
	for i := range cols {
		args = append(args, fmt.Sprintf("$%d", i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (day) DO NOTHING",
		m.table, strings.Join(cols, ", "), strings.Join(args, ", "))
}

func mirrorArgs(rec domain.DayRecord) ([]any, error) {
	t, err := domain.ParseDay(rec.Day)
	if err != nil {
		return nil, fmt.Errorf("day %q: %w", rec.Day, err)
	}
	full := rec.Complete()
	args := make([]any, 0, len(domain.Categories)+2)
	args = append(args, t)
	for _, c := range domain.Categories {
		args = append(args, full.Value(c))
	}
	return append(args, full.Emission), nil
}

// MirrorDay inserts one day.
func (m *PostgresMirror) MirrorDay(ctx context.Context, rec domain.DayRecord) error {
	args, err := mirrorArgs(rec)
	if err != nil {
		return err
	}
	if _, err := m.pool.Exec(ctx, m.insertSQL(), args...); err != nil {
		return fmt.Errorf("mirroring %s: %w", rec.Day, err)
	}
	return nil
}

// Backfill inserts days in batches and returns how many rows were new.
func (m *PostgresMirror) Backfill(ctx context.Context, days []domain.DayRecord, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	query := m.insertSQL()
	total := 0

	for i := 0; i < len(days); i += batch {
		j := i + batch
		if j > len(days) {
			j = len(days)
		}
		b := &pgx.Batch{}
		for _, d := range days[i:j] {
			args, err := mirrorArgs(d)
			if err != nil {
				continue
			}
			b.Queue(query, args...)
		}
		if b.Len() == 0 {
			continue
		}

		br := m.pool.SendBatch(ctx, b)
		for k := 0; k < b.Len(); k++ {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return total, fmt.Errorf("backfill batch at %d: %w", i, err)
			}
			total += int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Count returns the number of mirrored days.
func (m *PostgresMirror) Count(ctx context.Context) (int, error) {
	var n int
	err := m.pool.QueryRow(ctx, "SELECT count(*) FROM "+m.table).Scan(&n)
	return n, err
}

package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/util"
)

// Compile-time interface check.
var _ DayStore = (*CSVStore)(nil)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVStore is the append-only day table on disk: a header row followed by
// one row per day. It repairs itself when the header does not match the
// schema. The file is opened per operation; no handle is held between
// calls. The mutex serializes writers within one process only.
type CSVStore struct {
	path string
	mu   sync.Mutex
	log  *slog.Logger
}

// NewCSVStore creates a CSVStore at path. The file is created on the first
// successful Append.
func NewCSVStore(path string, log *slog.Logger) *CSVStore {
	if log == nil {
		log = slog.Default()
	}
	return &CSVStore{path: path, log: log.With("store", path)}
}

// Path returns the file path of the table.
func (s *CSVStore) Path() string { return s.path }

// RepairReport summarizes one repair pass.
type RepairReport struct {
	Repaired   bool // false when the header already matched
	Kept       int
	Dropped    int // bad column count or invalid date
	Duplicates int // later rows for an already kept day
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// ExistingDays returns the set of days already in the table, repairing the
// file first if its header is wrong.
func (s *CSVStore) ExistingDays(_ context.Context) (DaySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existingDaysLocked()
}

func (s *CSVStore) existingDaysLocked() (DaySet, error) {
	days, _, err := s.scanLocked()
	return days, err
}

// scanLocked is existingDaysLocked that also reports whether the table has
// no records at all: absent, zero bytes, or only a BOM and blank lines.
// An unparseable file is not reported empty.
func (s *CSVStore) scanLocked() (DaySet, bool, error) {
	days := make(DaySet)

	records, ok := s.readRecords()
	if !ok {
		_, err := os.Stat(s.path)
		return days, errors.Is(err, os.ErrNotExist), nil
	}
	if len(records) == 0 {
		return days, true, nil
	}

	if !headerMatches(records[0]) {
		rows, _, err := s.repairLocked(records)
		if err != nil {
			return days, false, err
		}
		for _, row := range rows {
			days[row[0]] = struct{}{}
		}
		return days, false, nil
	}

	for _, rec := range records[1:] {
		if len(rec) == 0 {
			continue
		}
		if day, err := domain.NormalizeDay(rec[0]); err == nil {
			days[day] = struct{}{}
		}
	}
	return days, false, nil
}

// readRecords parses the whole file. ok is false when the file is absent,
// empty, or unreadable; unreadable files are logged.
func (s *CSVStore) readRecords() ([][]string, bool) {
	f, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("reading store failed", "error", err)
		}
		return nil, false
	}
	defer f.Close()

	// BOMOverride strips a UTF-8 BOM and decodes UTF-16 files saved with one.
	r := csv.NewReader(transform.NewReader(f, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		s.log.Warn("parsing store failed", "error", err)
		return nil, false
	}
	return records, true
}

func headerMatches(rec []string) bool {
	want := domain.Columns()
	if len(rec) != len(want) {
		return false
	}
	for i := range want {
		if strings.TrimSpace(strings.TrimPrefix(rec[i], "\ufeff")) != want[i] {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Repair
// ---------------------------------------------------------------------------

// Repair rewrites the table with the canonical header when the current
// first line is not that header. Every line is treated as a candidate data
// row: rows with the wrong column count or an invalid day are dropped,
// surviving rows get their day normalized, and only the first row of each
// day is kept. A file that is absent, empty, or already well-formed is left
// untouched.
func (s *CSVStore) Repair(_ context.Context) (RepairReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.readRecords()
	if !ok || len(records) == 0 || headerMatches(records[0]) {
		return RepairReport{}, nil
	}
	_, report, err := s.repairLocked(records)
	return report, err
}

func (s *CSVStore) repairLocked(records [][]string) ([][]string, RepairReport, error) {
	width := len(domain.Columns())
	report := RepairReport{Repaired: true}
	seen := make(DaySet)

	var rows [][]string
	for _, rec := range records {
		if len(rec) != width {
			report.Dropped++
			continue
		}
		day, err := domain.NormalizeDay(strings.TrimPrefix(rec[0], "\ufeff"))
		if err != nil {
			report.Dropped++
			continue
		}
		if seen.Has(day) {
			report.Duplicates++
			continue
		}
		seen[day] = struct{}{}

		row := append([]string{day}, rec[1:]...)
		rows = append(rows, row)
	}
	report.Kept = len(rows)

	var buf bytes.Buffer
	buf.Write(utf8BOM)
	w := csv.NewWriter(&buf)
	if err := w.Write(domain.Columns()); err != nil {
		return nil, report, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, report, err
	}

	if err := util.WriteFileAtomic(s.path, buf.Bytes()); err != nil {
		return nil, report, fmt.Errorf("rewriting store %s: %w", s.path, err)
	}

	s.log.Warn("store header mismatch, repaired",
		"kept", report.Kept,
		"dropped", report.Dropped,
		"duplicates", report.Duplicates,
	)
	return rows, report, nil
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Append writes rec as one row. Missing schema categories are filled with 0
// and the emission is recomputed. The day is normalized and the existing
// days are re-read from disk before writing, so a day that was recorded
// after planning is skipped rather than duplicated. A table without records
// is replaced by the header and the row; otherwise the row goes out in a
// single write, preceded by a newline when the last line lacks one.
func (s *CSVStore) Append(_ context.Context, rec domain.DayRecord) (AppendResult, error) {
	full := rec.Complete()

	day, err := domain.NormalizeDay(rec.Day)
	if err != nil {
		return SkippedInvalidDate, nil
	}
	full.Day = day

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, empty, err := s.scanLocked()
	if err != nil {
		return 0, err
	}
	if existing.Has(day) {
		return SkippedDuplicate, nil
	}

	if empty {
		var buf bytes.Buffer
		buf.Write(utf8BOM)
		w := csv.NewWriter(&buf)
		w.Write(domain.Columns())
		w.Write(formatRow(full))
		w.Flush()
		if err := w.Error(); err != nil {
			return 0, err
		}
		if err := util.WriteFileAtomic(s.path, buf.Bytes()); err != nil {
			return 0, fmt.Errorf("creating store: %w", err)
		}
		return Appended, nil
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening store: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	terminated, err := endsWithNewline(f)
	if err != nil {
		return 0, fmt.Errorf("reading store tail: %w", err)
	}
	if !terminated {
		buf.WriteByte('\n')
	}
	w := csv.NewWriter(&buf)
	if err := w.Write(formatRow(full)); err != nil {
		return 0, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("appending %s: %w", day, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("syncing store: %w", err)
	}
	return Appended, nil
}

// endsWithNewline reports whether f is empty or its last byte is '\n'.
func endsWithNewline(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, fi.Size()-1); err != nil {
		return false, err
	}
	return last[0] == '\n', nil
}

// formatRow renders a completed record in schema column order.
func formatRow(rec domain.DayRecord) []string {
	row := make([]string, 0, len(domain.Categories)+2)
	row = append(row, rec.Day)
	for _, c := range domain.Categories {
		row = append(row, formatFloat(rec.Value(c)))
	}
	return append(row, formatFloat(rec.Emission))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// Bulk read
// ---------------------------------------------------------------------------

// ReadDays returns every well-formed row as a DayRecord, ordered by day.
// The header is repaired first if needed. Rows with a non-numeric value
// are skipped; for a repeated day the first row wins.
func (s *CSVStore) ReadDays(_ context.Context) ([]domain.DayRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.readRecords()
	if !ok || len(records) == 0 {
		return nil, nil
	}

	rows := records[1:]
	if !headerMatches(records[0]) {
		repaired, _, err := s.repairLocked(records)
		if err != nil {
			return nil, err
		}
		rows = repaired
	}

	seen := make(DaySet)
	var out []domain.DayRecord
	for _, row := range rows {
		rec, err := parseRow(row)
		if err != nil {
			s.log.Debug("skipping malformed row", "error", err)
			continue
		}
		if seen.Has(rec.Day) {
			continue
		}
		seen[rec.Day] = struct{}{}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func parseRow(row []string) (domain.DayRecord, error) {
	cols := domain.Columns()
	if len(row) != len(cols) {
		return domain.DayRecord{}, fmt.Errorf("row has %d columns, want %d", len(row), len(cols))
	}
	day, err := domain.NormalizeDay(row[0])
	if err != nil {
		return domain.DayRecord{}, fmt.Errorf("day %q: %w", row[0], err)
	}

	rec := domain.DayRecord{Day: day, Metrics: make(map[string]float64, len(domain.Categories))}
	for i, c := range domain.Categories {
		v, err := parseFloat(row[i+1])
		if err != nil {
			return domain.DayRecord{}, fmt.Errorf("%s on %s: %w", c, day, err)
		}
		rec.Metrics[string(c)] = v
	}
	em, err := parseFloat(row[len(row)-1])
	if err != nil {
		return domain.DayRecord{}, fmt.Errorf("emission on %s: %w", day, err)
	}
	rec.Emission = em
	return rec, nil
}

// parseFloat accepts an empty cell as 0 and rejects non-finite values.
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}

// WriteCSV streams the table in canonical form to w, for export.
func WriteCSV(w io.Writer, days []domain.DayRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.Columns()); err != nil {
		return err
	}
	for _, d := range days {
		if err := cw.Write(formatRow(d.Complete())); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

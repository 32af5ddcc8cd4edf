// Package dashboard provides the aggregations shown by the API and the CLI:
// monthly emission extremes and per-category totals over a day range.
package dashboard

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gridcarbon/internal/domain"
)

// DefaultMonths is the number of complete months summarised by default.
const DefaultMonths = 3

// MonthExtremes holds the lowest and highest daily emission of one month.
type MonthExtremes struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// MonthlyExtremes returns, for each of the last months complete calendar
// months before now's month (oldest first), the min and max daily emission.
// Months without rows are omitted. Rows with an unparseable day are ignored.
func MonthlyExtremes(records []domain.DayRecord, now time.Time, months int) []MonthExtremes {
	if months <= 0 {
		months = DefaultMonths
	}

	type bucket struct {
		min, max float64
		n        int
	}
	buckets := make(map[string]*bucket, months)
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	keys := make([]string, 0, months)
	for i := months; i >= 1; i-- {
		k := first.AddDate(0, -i, 0).Format("2006-01")
		keys = append(keys, k)
		buckets[k] = &bucket{min: math.Inf(1), max: math.Inf(-1)}
	}

	for _, r := range records {
		day, err := domain.ParseDay(r.Day)
		if err != nil {
			continue
		}
		b, ok := buckets[day.Format("2006-01")]
		if !ok {
			continue
		}
		b.n++
		b.min = math.Min(b.min, r.Emission)
		b.max = math.Max(b.max, r.Emission)
	}

	out := make([]MonthExtremes, 0, months)
	for _, k := range keys {
		b := buckets[k]
		if b.n == 0 {
			continue
		}
		m, _ := time.Parse("2006-01", k)
		out = append(out, MonthExtremes{
			Label: fmt.Sprintf("%s %d", m.Month(), m.Year()),
			Min:   b.min,
			Max:   b.max,
		})
	}
	return out
}

// CategoryTotal is the summed value of one category over a set of days.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	SharePct float64 `json:"share_pct"`
}

// Totals sums every schema category over records and returns them sorted
// by total, largest first. Ties keep schema order.
func Totals(records []domain.DayRecord) []CategoryTotal {
	out := make([]CategoryTotal, len(domain.Categories))
	var all float64
	for i, c := range domain.Categories {
		out[i].Category = string(c)
		for _, r := range records {
			out[i].Total += r.Value(c)
		}
		all += out[i].Total
	}
	for i := range out {
		out[i].Total = domain.Round2(out[i].Total)
		if all != 0 {
			out[i].SharePct = domain.Round2(out[i].Total / all * 100)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Total > out[b].Total })
	return out
}

// Summary is the document served by the summary endpoint and written by
// the export command.
type Summary struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Days        int             `json:"days"`
	FirstDay    string          `json:"first_day,omitempty"`
	LastDay     string          `json:"last_day,omitempty"`
	Months      []MonthExtremes `json:"months"`
}

// Summarize builds a Summary of records, which must be sorted by day.
func Summarize(records []domain.DayRecord, now time.Time, months int) Summary {
	s := Summary{
		GeneratedAt: now.UTC(),
		Days:        len(records),
		Months:      MonthlyExtremes(records, now, months),
	}
	if len(records) > 0 {
		s.FirstDay = records[0].Day
		s.LastDay = records[len(records)-1].Day
	}
	return s
}

package dashboard

import (
	"testing"
	"time"

	"gridcarbon/internal/domain"
)

func day(d string, emission float64) domain.DayRecord {
	return domain.DayRecord{Day: d, Emission: emission}
}

func TestMonthlyExtremes(t *testing.T) {
	records := []domain.DayRecord{
		day("2023-12-31", 5),   // outside window
		day("2024-01-03", 100), // January
		day("2024-01-20", 80),
		day("2024-01-21", 120),
		day("2024-03-01", 60), // March
		day("2024-03-31", 60),
		day("2024-04-02", 1), // current month, ignored
		day("bogus", 999),
	}
	now := time.Date(2024, 4, 15, 12, 0, 0, 0, time.UTC)

	got := MonthlyExtremes(records, now, 3)
	want := []MonthExtremes{
		{Label: "January 2024", Min: 80, Max: 120},
		{Label: "March 2024", Min: 60, Max: 60},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d months %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("month[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestMonthlyExtremesYearWrap(t *testing.T) {
	records := []domain.DayRecord{
		day("2023-11-05", 10),
		day("2023-12-05", 20),
		day("2024-01-05", 30),
	}
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	got := MonthlyExtremes(records, now, 0)
	if len(got) != 3 {
		t.Fatalf("got %d months, want 3", len(got))
	}
	labels := []string{"November 2023", "December 2023", "January 2024"}
	for i, l := range labels {
		if got[i].Label != l {
			t.Errorf("label[%d] = %q, want %q", i, got[i].Label, l)
		}
	}
}

func TestMonthlyExtremesEmpty(t *testing.T) {
	if got := MonthlyExtremes(nil, time.Now(), 3); len(got) != 0 {
		t.Errorf("got %v, want no months", got)
	}
}

func TestTotals(t *testing.T) {
	records := []domain.DayRecord{
		{Day: "2024-01-01", Metrics: map[string]float64{"hydro": 10, "coal": 30}},
		{Day: "2024-01-02", Metrics: map[string]float64{"hydro": 10, "coal": 50}},
	}
	got := Totals(records)
	if len(got) != len(domain.Categories) {
		t.Fatalf("got %d totals, want %d", len(got), len(domain.Categories))
	}
	if got[0].Category != "coal" || got[0].Total != 80 || got[0].SharePct != 80 {
		t.Errorf("first = %+v, want coal 80 (80%%)", got[0])
	}
	if got[1].Category != "hydro" || got[1].SharePct != 20 {
		t.Errorf("second = %+v, want hydro 20%%", got[1])
	}
	if got[2].Category != "gas_oil_turbine" || got[2].Total != 0 {
		t.Errorf("third = %+v, want gas_oil_turbine 0 (schema order)", got[2])
	}
}

func TestSummarize(t *testing.T) {
	records := []domain.DayRecord{day("2024-01-01", 1), day("2024-02-10", 2)}
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	s := Summarize(records, now, 3)
	if s.Days != 2 || s.FirstDay != "2024-01-01" || s.LastDay != "2024-02-10" {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Months) != 2 {
		t.Errorf("got %d months, want 2", len(s.Months))
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{FormatInt(0), "0"},
		{FormatInt(999), "999"},
		{FormatInt(1000), "1,000"},
		{FormatInt(1234567), "1,234,567"},
		{FormatInt(-45678), "-45,678"},
		{FormatTonnes(12345.678), "12,345.68 t"},
		{FormatTonnes(0.5), "0.50 t"},
		{FormatMW(950.5), "950.50 MW"},
		{FormatMW(23456), "23.5 GW"},
		{FormatShare(0), "-"},
		{FormatShare(33.333), "33.3%"},
	}
	for i, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("case %d: got %q, want %q", i, tt.got, tt.want)
		}
	}
}

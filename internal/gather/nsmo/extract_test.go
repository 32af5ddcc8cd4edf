package nsmo

import (
	"testing"

	"golang.org/x/text/unicode/norm"

	"gridcarbon/internal/domain"
)

const samplePage = `<!DOCTYPE html>
<html><body>
<div class="container">
  <div class="row py-2 border-bottom">
    <div class="col px-5">- Thủy điện</div>
    <div class="col px-5">120,5</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">- Nhiệt điện than</div>
    <div class="col px-5">100</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">- Tuabin khí (Gas + Dầu DO)</div>
    <div class="col px-5">50</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">- Nhiệt điện dầu</div>
    <div class="col px-5">10,0</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">- Khác (Sinh khối, Diesel Nam, …)</div>
    <div class="col px-5">20</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">- Điện gió</div>
    <div class="col px-5">N/A</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">- Nguồn mới</div>
    <div class="col px-5">7</div>
  </div>
  <div class="row py-2">
    <div class="col px-5">only one cell</div>
  </div>
  <div class="row">
    <div class="col px-5">- Nhập khẩu điện</div>
    <div class="col px-5">99</div>
  </div>
</div>
</body></html>`

func TestExtract(t *testing.T) {
	rec, ok := Extract([]byte(samplePage), "2024-02-01")
	if !ok {
		t.Fatal("Extract returned no record")
	}
	if rec.Day != "2024-02-01" {
		t.Errorf("Day = %q, want 2024-02-01", rec.Day)
	}

	want := map[string]float64{
		"hydro":                120.5,
		"coal":                 100,
		"gas_oil_turbine":      50,
		"oil_thermal":          10,
		"other_biomass_diesel": 20,
		"Nguồn mới":            7,
	}
	if len(rec.Metrics) != len(want) {
		t.Errorf("got %d metrics, want %d: %v", len(rec.Metrics), len(want), rec.Metrics)
	}
	for k, v := range want {
		if got, ok := rec.Metrics[k]; !ok || got != v {
			t.Errorf("metric %q = %v (present %v), want %v", k, got, ok, v)
		}
	}
	if _, ok := rec.Metrics["wind"]; ok {
		t.Error("non-numeric row should be skipped")
	}
	if _, ok := rec.Metrics["import"]; ok {
		t.Error("rows without the py-2 class should be ignored")
	}
	if rec.Emission != 139.5 {
		t.Errorf("Emission = %v, want 139.5", rec.Emission)
	}
}

func TestExtractNoMetrics(t *testing.T) {
	for _, page := range []string{
		"",
		"<html><body><p>maintenance</p></body></html>",
		`<div class="row py-2"><div class="col px-5">- Thủy điện</div><div class="col px-5">--</div></div>`,
		`<div class="row py-2"><div class="col px-5">- Nhiệt điện than</div><div class="col px-5">Inf</div></div>`,
	} {
		if _, ok := Extract([]byte(page), "2024-02-01"); ok {
			t.Errorf("Extract(%q) returned a record, want none", page)
		}
	}
}

func TestCategoryForDecomposedLabel(t *testing.T) {
	// Same label in NFD form, as some pages serve it.
	nfd := norm.NFD.String("- Nhiệt điện than")
	if got := CategoryFor(nfd); got != string(domain.Coal) {
		t.Errorf("CategoryFor(NFD) = %q, want coal", got)
	}
	if got := CategoryFor("  - Điện   gió "); got != string(domain.Wind) {
		t.Errorf("CategoryFor = %q, want wind", got)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"12,5", 12.5, true},
		{" 7 ", 7, true},
		{"0.25", 0.25, true},
		{"", 0, false},
		{"abc", 0, false},
		{"1.234,5", 0, false},
		{"NaN", 0, false},
		{"+Inf", 0, false},
		{"infinity", 0, false},
		{"-inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseValue(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseValue(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

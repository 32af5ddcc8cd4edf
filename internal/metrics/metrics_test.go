package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDay(t *testing.T) {
	m := New()
	m.ObserveDay("appended")
	m.ObserveDay("appended")
	m.ObserveDay("failed")

	if got := testutil.ToFloat64(m.DayOutcomes.WithLabelValues("appended")); got != 2 {
		t.Errorf("appended = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DayOutcomes.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestInFlight(t *testing.T) {
	m := New()
	m.FetchStarted()
	m.FetchStarted()
	m.FetchDone()
	if got := testutil.ToFloat64(m.InFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveDay("appended")
	m.ObserveFetch("ok", 1)
	m.FetchStarted()
	m.FetchDone()
	m.ObserveRun("ok", 1, 1)
	m.SetStoredDays(3)
	m.MirrorFailed()
	m.ObservePowerMix("ok", 10)
	if m.Registry() != nil {
		t.Error("nil Metrics should have nil registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObservePowerMix("ok", 1234.5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(string(body), "gridcarbon_power_mix_total_mw 1234.5") {
		t.Errorf("exposition missing power-mix gauge:\n%s", body)
	}
}

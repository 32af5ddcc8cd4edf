// Package metrics exposes Prometheus collectors for the ingest pipeline and
// the power-mix poller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector of one process. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	DayOutcomes      *prometheus.CounterVec
	FetchAttempts    *prometheus.CounterVec
	FetchDuration    prometheus.Histogram
	InFlight         prometheus.Gauge
	RunDuration      prometheus.Histogram
	RunsTotal        *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
	StoredDays       prometheus.Gauge
	MirrorErrors     prometheus.Counter
	PowerMixRefresh  *prometheus.CounterVec
	PowerMixTotalMW  prometheus.Gauge
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		DayOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcarbon_day_outcomes_total",
				Help: "Terminal outcomes of planned days, by outcome",
			},
			[]string{"outcome"},
		),
		FetchAttempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcarbon_fetch_attempts_total",
				Help: "Remote fetch attempts, by result",
			},
			[]string{"result"},
		),
		FetchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridcarbon_fetch_duration_seconds",
				Help:    "Duration of single fetch attempts",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 11), // 50ms to ~51s
			},
		),
		InFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridcarbon_fetches_in_flight",
				Help: "Day pipelines currently in their network stage",
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gridcarbon_run_duration_seconds",
				Help:    "Wall-clock duration of ingest runs",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
			},
		),
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcarbon_runs_total",
				Help: "Ingest runs, by status",
			},
			[]string{"status"},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridcarbon_last_run_timestamp_seconds",
				Help: "Unix time the last ingest run finished",
			},
		),
		StoredDays: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridcarbon_stored_days",
				Help: "Days present in the store as of the last run",
			},
		),
		MirrorErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gridcarbon_mirror_errors_total",
				Help: "Failed writes to the Postgres mirror",
			},
		),
		PowerMixRefresh: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridcarbon_power_mix_refresh_total",
				Help: "Power-mix snapshot refreshes, by status",
			},
			[]string{"status"},
		),
		PowerMixTotalMW: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gridcarbon_power_mix_total_mw",
				Help: "Total capacity of the latest power-mix snapshot",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveDay counts one terminal day outcome.
func (m *Metrics) ObserveDay(outcome string) {
	if m == nil {
		return
	}
	m.DayOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(seconds)
}

// FetchStarted and FetchDone track the in-flight gauge.
func (m *Metrics) FetchStarted() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) FetchDone() {
	if m != nil {
		m.InFlight.Dec()
	}
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(status string, seconds float64, finishedUnix float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(seconds)
	m.LastRunTimestamp.Set(finishedUnix)
}

// SetStoredDays sets the stored-days gauge.
func (m *Metrics) SetStoredDays(n int) {
	if m != nil {
		m.StoredDays.Set(float64(n))
	}
}

// MirrorFailed counts one mirror error.
func (m *Metrics) MirrorFailed() {
	if m != nil {
		m.MirrorErrors.Inc()
	}
}

// ObservePowerMix records one poller refresh.
func (m *Metrics) ObservePowerMix(status string, totalMW float64) {
	if m == nil {
		return
	}
	m.PowerMixRefresh.WithLabelValues(status).Inc()
	if status == "ok" {
		m.PowerMixTotalMW.Set(totalMW)
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gridcarbon/internal/dashboard"
	"gridcarbon/internal/domain"
	"gridcarbon/internal/gather/nsmo"
	"gridcarbon/internal/metrics"
)

// Deps are the collaborators behind the API. Nil fields disable the routes
// that need them (they answer 503).
type Deps struct {
	Days     DayReader
	Updater  Updater
	PowerMix SnapshotSource
	Runs     RunLister
	Metrics  *metrics.Metrics
	Log      *slog.Logger

	// Running reports whether an ingest run is in progress, for /healthz.
	Running func() bool

	// RunContext bounds runs started through the API; runs outlive the
	// request. Defaults to Background.
	RunContext context.Context
}

// Server serves the gridcarbon HTTP API.
type Server struct {
	deps   Deps
	log    *slog.Logger
	now    func() time.Time
	months int
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{deps: deps, log: log, now: time.Now, months: dashboard.DefaultMonths}
}

// RegisterRoutes registers all API routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/api/carbon-data", s.handleDays)
	r.Get("/api/carbon-data/summary", s.handleSummary)
	r.Post("/api/update-carbon-data", s.handleUpdate)
	r.Get("/api/power-mix", s.handlePowerMix)
	r.Get("/api/runs", s.handleRuns)
	r.Get("/api/runs/{id}", s.handleRun)
	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
}

// Handler returns the router with recovery and CORS middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	s.RegisterRoutes(r)
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parseBound normalizes an optional from/to query value.
func parseBound(r *http.Request, key string) (string, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return "", nil
	}
	return domain.NormalizeDay(v)
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	if s.deps.Days == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	from, err := parseBound(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseBound(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	if from != "" && to != "" && from > to {
		writeError(w, http.StatusBadRequest, "from is after to")
		return
	}

	days, err := s.deps.Days.ReadDays(r.Context())
	if err != nil {
		s.log.Error("reading day table", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read store")
		return
	}

	out := make([]domain.DayRecord, 0, len(days))
	for _, d := range days {
		// Canonical days compare lexically in date order.
		if (from != "" && d.Day < from) || (to != "" && d.Day > to) {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, DaysResponse{From: from, To: to, Count: len(out), Days: out})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.deps.Days == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	months := s.months
	if v := r.URL.Query().Get("months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 24 {
			writeError(w, http.StatusBadRequest, "months must be between 1 and 24")
			return
		}
		months = n
	}

	days, err := s.deps.Days.ReadDays(r.Context())
	if err != nil {
		s.log.Error("reading day table", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read store")
		return
	}
	writeJSON(w, http.StatusOK, dashboard.Summarize(days, s.now(), months))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Updater == nil {
		writeError(w, http.StatusServiceUnavailable, "updates not configured")
		return
	}
	runCtx := s.deps.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	id, err := s.deps.Updater.Trigger(runCtx)
	switch {
	case errors.Is(err, nsmo.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.Error("starting update", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.log.Info("update triggered", "run_id", id)
		writeJSON(w, http.StatusAccepted, UpdateResponse{RunID: id, Status: "started"})
	}
}

func (s *Server) handlePowerMix(w http.ResponseWriter, r *http.Request) {
	if s.deps.PowerMix == nil {
		writeError(w, http.StatusServiceUnavailable, "power mix not configured")
		return
	}
	snap, ok := s.deps.PowerMix.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no power mix snapshot yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 500)
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ol, ok := s.deps.Runs.(OutcomeLister)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "run ledger not configured")
		return
	}
	id := chi.URLParam(r, "id")
	days, err := ol.DayOutcomes(r.Context(), id)
	if err != nil {
		s.log.Error("listing day outcomes", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read run")
		return
	}
	if len(days) == 0 {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, RunDetailResponse{RunID: id, Days: days})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Time: s.now().UTC()}
	if s.deps.Running != nil {
		resp.Running = s.deps.Running()
	}
	writeJSON(w, http.StatusOK, resp)
}

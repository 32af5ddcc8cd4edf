package nsmo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/gather"
	"gridcarbon/internal/metrics"
	"gridcarbon/internal/store"
)

// ErrRunInProgress is returned when a run is requested while another one
// is still going in this process.
var ErrRunInProgress = errors.New("run already in progress")

var _ gather.Gatherer = (*DailyGatherer)(nil)

// Options are the run parameters of a DailyGatherer. They can be swapped
// between runs with Reconfigure.
type Options struct {
	StartDate       string         // any accepted day format
	EndDate         string         // empty means today in Location
	Location        *time.Location // nil means UTC
	MaxWorkers      int            // concurrent day pipelines (5)
	RefreshInterval time.Duration
}

// Deps are the collaborators of a DailyGatherer. Ledger, Mirror and Metrics
// are optional.
type Deps struct {
	Store   store.DayStore
	Fetcher PayloadFetcher
	Ledger  store.RunLedger
	Mirror  store.DayMirror
	Metrics *metrics.Metrics
	Log     *slog.Logger
}

// DailyGatherer runs the day pipeline (fetch, extract, append) for every
// pending day of a range, with at most MaxWorkers pipelines at once. One
// day's failure never affects another; failed days stay pending and are
// picked up by the next run.
type DailyGatherer struct {
	store   store.DayStore
	ledger  store.RunLedger
	mirror  store.DayMirror
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.RWMutex
	opts    Options
	fetcher PayloadFetcher

	running atomic.Bool
	bg      sync.WaitGroup
	retune  chan struct{}
}

// NewDailyGatherer creates a DailyGatherer.
func NewDailyGatherer(deps Deps, opts Options) *DailyGatherer {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	return &DailyGatherer{
		store:   deps.Store,
		ledger:  deps.Ledger,
		mirror:  deps.Mirror,
		metrics: deps.Metrics,
		log:     log.With("gatherer", "nsmo-daily"),
		opts:    opts,
		fetcher: deps.Fetcher,
		retune:  make(chan struct{}, 1),
	}
}

// Name returns the gatherer identifier.
func (g *DailyGatherer) Name() string { return "nsmo-daily" }

// Reconfigure replaces the run parameters, and the fetcher when f is not
// nil. A run in progress keeps the values it started with; a new refresh
// interval applies to the running loop at once.
func (g *DailyGatherer) Reconfigure(opts Options, f PayloadFetcher) {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	changed := g.opts.RefreshInterval != opts.RefreshInterval
	g.opts = opts
	if f != nil {
		g.fetcher = f
	}
	if changed {
		select {
		case g.retune <- struct{}{}:
		default:
		}
	}
	g.log.Info("reconfigured",
		"start", opts.StartDate,
		"end", opts.EndDate,
		"workers", opts.MaxWorkers,
		"interval", opts.RefreshInterval,
	)
}

func (g *DailyGatherer) snapshot() (Options, PayloadFetcher) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.opts, g.fetcher
}

// Running reports whether a run is in progress.
func (g *DailyGatherer) Running() bool { return g.running.Load() }

// Run refreshes the configured range immediately and then every refresh
// interval, following interval changes made by Reconfigure. A zero
// interval pauses the refresh. It blocks until ctx is cancelled.
func (g *DailyGatherer) Run(ctx context.Context) error {
	interval := func() time.Duration {
		opts, _ := g.snapshot()
		return opts.RefreshInterval
	}
	err := gather.EveryFunc(ctx, interval, g.retune, g.log, g.Name(), func(ctx context.Context) error {
		_, err := g.RunOnce(ctx)
		if errors.Is(err, ErrRunInProgress) {
			g.log.Info("skipping refresh, run in progress")
			return nil
		}
		return err
	})
	g.bg.Wait()
	return err
}

// RunOnce runs the configured range once.
func (g *DailyGatherer) RunOnce(ctx context.Context) (store.Run, error) {
	r, err := g.configuredRange()
	if err != nil {
		return store.Run{}, err
	}
	return g.RunRange(ctx, r)
}

// Trigger starts a run of the configured range in the background and
// returns its id at once. ctx bounds the run, not the call.
func (g *DailyGatherer) Trigger(ctx context.Context) (string, error) {
	r, err := g.configuredRange()
	if err != nil {
		return "", err
	}
	if !g.running.CompareAndSwap(false, true) {
		return "", ErrRunInProgress
	}

	id := uuid.NewString()
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		defer g.running.Store(false)
		if _, err := g.execute(ctx, id, r); err != nil {
			g.log.Error("triggered run failed", "run", id, "error", err)
		}
	}()
	return id, nil
}

// Wait blocks until background runs started by Trigger have finished.
func (g *DailyGatherer) Wait() { g.bg.Wait() }

// RunRange plans r against the store and processes every pending day. It
// returns an error only for run-fatal conditions (the store cannot be
// created or repaired) or cancellation; per-day failures are counted in the
// returned Run.
func (g *DailyGatherer) RunRange(ctx context.Context, r gather.DateRange) (store.Run, error) {
	if !g.running.CompareAndSwap(false, true) {
		return store.Run{}, ErrRunInProgress
	}
	defer g.running.Store(false)
	return g.execute(ctx, uuid.NewString(), r)
}

func (g *DailyGatherer) configuredRange() (gather.DateRange, error) {
	opts, _ := g.snapshot()
	return gather.ParseDateRange(opts.StartDate, opts.EndDate, opts.Location)
}

func (g *DailyGatherer) execute(ctx context.Context, id string, r gather.DateRange) (store.Run, error) {
	opts, fetcher := g.snapshot()
	runStart := time.Now()
	log := g.log.With("run", id)

	run := store.Run{
		ID:        id,
		StartDay:  domain.FormatDay(r.Start),
		EndDay:    domain.FormatDay(r.End),
		StartedAt: runStart.UTC(),
	}

	// 1. Plan against the store.
	pending, existing, err := gather.PlanFrom(ctx, g.store, r)
	if err != nil {
		return run, fmt.Errorf("reading existing days: %w", err)
	}
	run.Planned = len(pending)
	g.metrics.SetStoredDays(existing)

	if g.ledger != nil {
		if err := g.ledger.StartRun(ctx, run); err != nil {
			log.Warn("ledger start failed", "error", err)
		}
	}

	log.Info("starting nsmo-daily",
		"range", r.String(),
		"existing", existing,
		"pending", len(pending),
		"workers", opts.MaxWorkers,
	)

	// 2. Feed days to workers.
	dayCh := make(chan time.Time, len(pending))
	for _, d := range pending {
		dayCh <- d
	}
	close(dayCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		appended  atomic.Int64
		empty     atomic.Int64
		failed    atomic.Int64
		duplicate atomic.Int64
		invalid   atomic.Int64
		fatalOnce sync.Once
		fatalErr  error
	)

	workers := min(opts.MaxWorkers, len(pending))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for day := range dayCh {
				if runCtx.Err() != nil {
					return
				}

				out, err := g.processDay(runCtx, fetcher, day, log)
				if err != nil {
					fatalOnce.Do(func() {
						fatalErr = err
						cancel()
					})
					return
				}

				switch out.Outcome {
				case store.OutcomeAppended:
					appended.Add(1)
				case store.OutcomeEmpty:
					empty.Add(1)
				case store.OutcomeFailed:
					failed.Add(1)
				case store.OutcomeDuplicate:
					duplicate.Add(1)
				case store.OutcomeInvalid:
					invalid.Add(1)
				}
				g.metrics.ObserveDay(string(out.Outcome))

				if g.ledger != nil {
					if err := g.ledger.RecordDay(context.WithoutCancel(runCtx), id, out); err != nil {
						log.Warn("ledger record failed", "day", out.Day, "error", err)
					}
				}
			}
		}()
	}

	wg.Wait()

	// 3. Summarize.
	run.FinishedAt = time.Now().UTC()
	run.Appended = int(appended.Load())
	run.Empty = int(empty.Load())
	run.Failed = int(failed.Load())
	run.Duplicate = int(duplicate.Load())
	run.Invalid = int(invalid.Load())

	status := "ok"
	switch {
	case fatalErr != nil:
		status = "fatal"
	case ctx.Err() != nil:
		status = "cancelled"
	}

	if g.ledger != nil {
		if err := g.ledger.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			log.Warn("ledger finish failed", "error", err)
		}
	}
	elapsed := time.Since(runStart)
	g.metrics.ObserveRun(status, elapsed.Seconds(), float64(run.FinishedAt.Unix()))
	g.metrics.SetStoredDays(existing + run.Appended)

	log.Info("complete",
		"status", status,
		"planned", run.Planned,
		"appended", run.Appended,
		"empty", run.Empty,
		"failed", run.Failed,
		"skipped", len(r.Days())-run.Planned+run.Duplicate,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	if fatalErr != nil {
		return run, fatalErr
	}
	if ctx.Err() != nil {
		return run, ctx.Err()
	}
	return run, nil
}

// processDay runs fetch, extract and append for one day. The returned
// error is run-fatal; every other condition is an outcome.
func (g *DailyGatherer) processDay(ctx context.Context, fetcher PayloadFetcher, day time.Time, log *slog.Logger) (store.DayOutcome, error) {
	dayStr := domain.FormatDay(day)
	out := store.DayOutcome{Day: dayStr}

	g.metrics.FetchStarted()
	payload, err := fetcher.Fetch(ctx, day)
	g.metrics.FetchDone()

	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) {
			out.Attempts = fe.Attempts
		}
		out.Error = err.Error()
		if errors.Is(err, ErrEmptyResult) {
			out.Outcome = store.OutcomeEmpty
			log.Info("day empty", "day", dayStr)
		} else {
			out.Outcome = store.OutcomeFailed
			log.Warn("day fetch failed", "day", dayStr, "attempts", out.Attempts, "error", err)
		}
		out.RecordedAt = time.Now().UTC()
		return out, nil
	}
	out.Attempts = payload.Attempts

	rec, ok := Extract(payload.Body, dayStr)
	if !ok {
		out.Outcome = store.OutcomeEmpty
		out.Error = ErrEmptyResult.Error()
		out.RecordedAt = time.Now().UTC()
		log.Info("day empty", "day", dayStr, "reason", "no metrics in payload")
		return out, nil
	}

	res, err := g.store.Append(ctx, rec)
	if err != nil {
		return out, fmt.Errorf("appending %s: %w", dayStr, err)
	}

	switch res {
	case store.Appended:
		out.Outcome = store.OutcomeAppended
		full := rec.Complete()
		log.Info("day appended", "day", dayStr, "carbon_tco2", full.Emission, "sources", len(rec.Metrics))
		g.mirrorDay(ctx, full, log)
	case store.SkippedDuplicate:
		out.Outcome = store.OutcomeDuplicate
		log.Info("day duplicate", "day", dayStr)
	case store.SkippedInvalidDate:
		out.Outcome = store.OutcomeInvalid
		log.Warn("day invalid", "day", dayStr)
	}
	out.RecordedAt = time.Now().UTC()
	return out, nil
}

func (g *DailyGatherer) mirrorDay(ctx context.Context, rec domain.DayRecord, log *slog.Logger) {
	if g.mirror == nil {
		return
	}
	if err := g.mirror.MirrorDay(context.WithoutCancel(ctx), rec); err != nil {
		g.metrics.MirrorFailed()
		log.Error("mirror failed", "day", rec.Day, "error", err)
	}
}

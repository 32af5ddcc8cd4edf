// Package gather holds the pieces shared by every gatherer: the Gatherer
// interface, day ranges, planning against the store, and the refresh loop.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/store"
	"gridcarbon/internal/util"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run starts the data gathering process. It blocks until ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange builds a DateRange from two day strings in any accepted
// format. An empty end means today in loc (UTC when loc is nil).
func ParseDateRange(start, end string, loc *time.Location) (DateRange, error) {
	s, err := domain.ParseDay(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("start date %q: %w", start, err)
	}
	var e time.Time
	if end == "" {
		if loc == nil {
			loc = time.UTC
		}
		e = util.Today(loc)
	} else if e, err = domain.ParseDay(end); err != nil {
		return DateRange{}, fmt.Errorf("end date %q: %w", end, err)
	}
	return DateRange{Start: s, End: e}, nil
}

// Days returns every day of the range in order.
func (r DateRange) Days() []time.Time {
	return util.Days(r.Start, r.End)
}

func (r DateRange) String() string {
	return domain.FormatDay(r.Start) + ".." + domain.FormatDay(r.End)
}

// Plan returns the days of r not present in existing, in ascending order.
// For a fixed store state the result is always the same.
func Plan(r DateRange, existing store.DaySet) []time.Time {
	var pending []time.Time
	for _, d := range r.Days() {
		if existing.Has(domain.FormatDay(d)) {
			continue
		}
		pending = append(pending, d)
	}
	return pending
}

// PlanFrom reads the existing days from s and plans r against them.
func PlanFrom(ctx context.Context, s store.DayStore, r DateRange) ([]time.Time, int, error) {
	existing, err := s.ExistingDays(ctx)
	if err != nil {
		return nil, 0, err
	}
	return Plan(r, existing), len(existing), nil
}

// Every calls fn immediately and then every interval until ctx is
// cancelled. Errors from fn are logged and do not stop the loop. With a
// non-positive interval fn runs once.
func Every(ctx context.Context, interval time.Duration, log *slog.Logger, name string, fn func(context.Context) error) error {
	if interval <= 0 {
		runTick(ctx, log, name, fn)
		return nil
	}
	return EveryFunc(ctx, func() time.Duration { return interval }, nil, log, name, fn)
}

// EveryFunc is Every with an interval that may change. interval is read
// after each call and again whenever retune receives; the next call is due
// one interval after the previous one started. A non-positive interval
// pauses the loop until the next retune.
func EveryFunc(ctx context.Context, interval func() time.Duration, retune <-chan struct{}, log *slog.Logger, name string, fn func(context.Context) error) error {
	last := time.Now()
	runTick(ctx, log, name, fn)

	for {
		var (
			timer *time.Timer
			due   <-chan time.Time
		)
		if d := interval(); d > 0 {
			timer = time.NewTimer(time.Until(last.Add(d)))
			due = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case <-retune:
			if timer != nil {
				timer.Stop()
			}
		case <-due:
			last = time.Now()
			runTick(ctx, log, name, fn)
		}
	}
}

func runTick(ctx context.Context, log *slog.Logger, name string, fn func(context.Context) error) {
	if log == nil {
		log = slog.Default()
	}
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		log.Error("refresh failed", "job", name, "error", err)
	}
}

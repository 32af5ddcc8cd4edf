package gather

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/store"
)

func TestPlan(t *testing.T) {
	r, err := ParseDateRange("2024-01-01", "05-01-2024", nil)
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	existing := store.DaySet{"2024-01-02": {}, "2024-01-04": {}, "2023-12-31": {}}

	got := Plan(r, existing)
	want := []string{"2024-01-01", "2024-01-03", "2024-01-05"}
	if len(got) != len(want) {
		t.Fatalf("Plan returned %d days, want %d", len(got), len(want))
	}
	for i, d := range got {
		if domain.FormatDay(d) != want[i] {
			t.Errorf("day[%d] = %s, want %s", i, domain.FormatDay(d), want[i])
		}
	}

	// Same inputs, same plan.
	again := Plan(r, existing)
	for i := range got {
		if !got[i].Equal(again[i]) {
			t.Fatalf("plan not deterministic at %d", i)
		}
	}
}

func TestPlanEmptyRange(t *testing.T) {
	r := DateRange{
		Start: time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if got := Plan(r, nil); len(got) != 0 {
		t.Errorf("Plan on reversed range = %v, want empty", got)
	}
}

func TestPlanFrom(t *testing.T) {
	s := store.NewCSVStore(filepath.Join(t.TempDir(), "days.csv"), nil)
	ctx := context.Background()
	rec := domain.DayRecord{Day: "2024-03-02", Metrics: map[string]float64{"coal": 1}}
	if _, err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	r, _ := ParseDateRange("2024-03-01", "2024-03-03", nil)
	pending, existing, err := PlanFrom(ctx, s, r)
	if err != nil {
		t.Fatalf("PlanFrom: %v", err)
	}
	if existing != 1 {
		t.Errorf("existing = %d, want 1", existing)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d days, want 2", len(pending))
	}
}

func TestParseDateRangeInvalid(t *testing.T) {
	if _, err := ParseDateRange("nope", "", nil); !errors.Is(err, domain.ErrInvalidDate) {
		t.Errorf("err = %v, want ErrInvalidDate", err)
	}
	if _, err := ParseDateRange("2024-01-01", "nope", nil); !errors.Is(err, domain.ErrInvalidDate) {
		t.Errorf("err = %v, want ErrInvalidDate", err)
	}
	r, err := ParseDateRange("2024-01-01", "", nil)
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	if r.End.Before(r.Start) {
		t.Errorf("default end %v before start", r.End)
	}
}

func TestParseDateRangeTodayInLocation(t *testing.T) {
	// 26 hours apart, so "today" always differs.
	east := time.FixedZone("UTC+14", 14*60*60)
	west := time.FixedZone("UTC-12", -12*60*60)

	e, err := ParseDateRange("2024-01-01", "", east)
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	w, err := ParseDateRange("2024-01-01", "", west)
	if err != nil {
		t.Fatalf("ParseDateRange: %v", err)
	}
	if !e.End.After(w.End) {
		t.Errorf("end in UTC+14 = %s, want after end in UTC-12 = %s",
			domain.FormatDay(e.End), domain.FormatDay(w.End))
	}
}

func TestEvery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, 10*time.Millisecond, nil, "test", func(context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return errors.New("ignored")
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Every returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Every did not stop after cancel")
	}
	if calls.Load() < 3 {
		t.Errorf("calls = %d, want >= 3", calls.Load())
	}
}

func TestEveryRunsOnceWithoutInterval(t *testing.T) {
	calls := 0
	err := Every(context.Background(), 0, nil, "once", func(context.Context) error {
		calls++
		return nil
	})
	if err != nil || calls != 1 {
		t.Errorf("Every = %v after %d calls, want nil after 1", err, calls)
	}
}

func TestEveryFuncRetune(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interval atomic.Int64
	interval.Store(int64(time.Hour))
	retune := make(chan struct{}, 1)

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- EveryFunc(ctx, func() time.Duration { return time.Duration(interval.Load()) }, retune, nil, "retune",
			func(context.Context) error {
				calls.Add(1)
				return nil
			})
	}()

	waitFor(t, func() bool { return calls.Load() >= 1 })
	interval.Store(int64(10 * time.Millisecond))
	retune <- struct{}{}
	waitFor(t, func() bool { return calls.Load() >= 3 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("EveryFunc returned %v, want context.Canceled", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

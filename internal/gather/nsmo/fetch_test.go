package nsmo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFetcher(baseURL string, delay time.Duration) *Fetcher {
	return NewFetcher(FetchOptions{
		BaseURL:    baseURL,
		Retries:    3,
		RetryDelay: delay,
		Timeout:    2 * time.Second,
	}, nil, quietLogger())
}

func TestFetcherURL(t *testing.T) {
	f := testFetcher("https://example.test/HTDThongSoVH", time.Millisecond)
	got, err := f.URL(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if want := "https://example.test/HTDThongSoVH?day=01-02-2024"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
}

func TestFetcherSuccess(t *testing.T) {
	var gotDay string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDay = r.URL.Query().Get("day")
		io.WriteString(w, samplePage)
	}))
	defer srv.Close()

	p, err := testFetcher(srv.URL, time.Millisecond).Fetch(context.Background(), time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gotDay != "09-03-2024" {
		t.Errorf("day param = %q, want 09-03-2024", gotDay)
	}
	if p.Day != "2024-03-09" || p.Attempts != 1 || len(p.Body) == 0 {
		t.Errorf("payload = {%s %d %d bytes}", p.Day, p.Attempts, len(p.Body))
	}
}

func TestFetcherRetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	delay := 40 * time.Millisecond
	start := time.Now()
	_, err := testFetcher(srv.URL, delay).Fetch(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("err = %v, want ErrFetchFailure", err)
	}
	if errors.Is(err, ErrEmptyResult) {
		t.Error("failure should not be reported as empty")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server saw %d attempts, want 3", n)
	}
	var fe *FetchError
	if !errors.As(err, &fe) || fe.Attempts != 3 {
		t.Errorf("FetchError attempts = %v, want 3", fe)
	}
	if elapsed < 2*delay {
		t.Errorf("elapsed %v, want at least %v between attempts", elapsed, 2*delay)
	}
}

func TestFetcherRecovers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, samplePage)
	}))
	defer srv.Close()

	p, err := testFetcher(srv.URL, time.Millisecond).Fetch(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if p.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", p.Attempts)
	}
}

func TestFetcherEmptyResultNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, "  \n")
	}))
	defer srv.Close()

	_, err := testFetcher(srv.URL, time.Millisecond).Fetch(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("err = %v, want ErrEmptyResult", err)
	}
	if errors.Is(err, ErrFetchFailure) {
		t.Error("empty result should not be a fetch failure")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d attempts, want 1", n)
	}
}

func TestFetcherTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := testFetcher(url, time.Millisecond).Fetch(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("err = %v, want ErrFetchFailure", err)
	}
}

func TestFetcherTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(FetchOptions{
		BaseURL:    srv.URL,
		Retries:    2,
		RetryDelay: time.Millisecond,
		Timeout:    50 * time.Millisecond,
	}, nil, quietLogger())

	_, err := f.Fetch(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrFetchFailure) {
		t.Fatalf("err = %v, want ErrFetchFailure", err)
	}
}

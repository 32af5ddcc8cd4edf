// Package nsmo ingests the daily generation report of the national system
// operator: fetching one page per day, extracting per-source figures and
// appending them to the day store under a bounded worker pool.
package nsmo

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/metrics"
	"gridcarbon/internal/util"
)

// DefaultBaseURL is the daily report page; the day goes in the "day" query
// parameter as DD-MM-YYYY.
const DefaultBaseURL = "https://www.nsmo.vn/HTDThongSoVH"

// maxPayloadBytes caps a single response body.
const maxPayloadBytes = 8 << 20

var (
	// ErrFetchFailure means every attempt failed on transport, timeout or a
	// non-success status.
	ErrFetchFailure = errors.New("fetch failed")
	// ErrEmptyResult means the server answered successfully with nothing
	// usable. It is not retried.
	ErrEmptyResult = errors.New("empty result")
)

// FetchError is returned by Fetch. Kind is ErrFetchFailure or
// ErrEmptyResult, so errors.Is works on both.
type FetchError struct {
	Kind     error
	Day      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v after %d attempt(s)", e.Day, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%s: %v after %d attempt(s): %v", e.Day, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Payload is the raw body of one successful fetch.
type Payload struct {
	Day      string
	Body     []byte
	Attempts int
}

// PayloadFetcher retrieves the report page for one day.
type PayloadFetcher interface {
	Fetch(ctx context.Context, day time.Time) (*Payload, error)
}

// FetchOptions configures a Fetcher.
type FetchOptions struct {
	BaseURL            string
	Retries            int           // attempts per day, including the first
	RetryDelay         time.Duration // fixed pause between attempts
	Timeout            time.Duration // per attempt
	RateLimitPerMin    int           // 0 disables
	InsecureSkipVerify bool
}

// Fetcher fetches report pages over HTTP with fixed-delay retries.
type Fetcher struct {
	client  *http.Client
	baseURL string
	retries int
	delay   time.Duration
	limiter *util.RateLimiter
	metrics *metrics.Metrics
	log     *slog.Logger
}

var _ PayloadFetcher = (*Fetcher)(nil)

// NewFetcher builds a Fetcher. Zero options take the defaults: 3 attempts,
// 1s delay, 30s timeout.
func NewFetcher(opts FetchOptions, m *metrics.Metrics, log *slog.Logger) *Fetcher {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		// The operator's certificate chain is frequently incomplete.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Fetcher{
		client:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		baseURL: opts.BaseURL,
		retries: opts.Retries,
		delay:   opts.RetryDelay,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		metrics: m,
		log:     log,
	}
}

// URL returns the page address for day.
func (f *Fetcher) URL(day time.Time) (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}
	q := u.Query()
	q.Set("day", day.Format(domain.WireLayout))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Fetch retrieves the page for day. A transport error, timeout or
// non-success status is retried up to the attempt limit with a fixed delay;
// an empty successful body is returned at once as ErrEmptyResult.
func (f *Fetcher) Fetch(ctx context.Context, day time.Time) (*Payload, error) {
	dayStr := domain.FormatDay(day)
	target, err := f.URL(day)
	if err != nil {
		return nil, &FetchError{Kind: ErrFetchFailure, Day: dayStr, Attempts: 0, Err: err}
	}

	var (
		body     []byte
		attempts int
	)
	err = util.Retry(ctx, f.retries, f.delay, func(attempt int) error {
		attempts = attempt
		b, err := f.get(ctx, target)
		if err != nil {
			if errors.Is(err, ErrEmptyResult) {
				return util.Permanent(err)
			}
			f.log.Warn("fetch attempt failed",
				"day", dayStr,
				"attempt", fmt.Sprintf("%d/%d", attempt, f.retries),
				"error", err,
			)
			return err
		}
		body = b
		return nil
	})

	switch {
	case err == nil:
		return &Payload{Day: dayStr, Body: body, Attempts: attempts}, nil
	case errors.Is(err, ErrEmptyResult):
		return nil, &FetchError{Kind: ErrEmptyResult, Day: dayStr, Attempts: attempts}
	default:
		return nil, &FetchError{Kind: ErrFetchFailure, Day: dayStr, Attempts: attempts, Err: err}
	}
}

// get performs a single attempt.
func (f *Fetcher) get(ctx context.Context, target string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	result := "error"
	defer func() { f.metrics.ObserveFetch(result, time.Since(start).Seconds()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "gridcarbon/1.0")
	req.Header.Set("Accept", "text/html")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		result = "status"
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		result = "empty"
		return nil, ErrEmptyResult
	}
	result = "ok"
	return body, nil
}

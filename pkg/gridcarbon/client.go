// Package gridcarbon is a Go client for the gridcarbon daemon API.
package gridcarbon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrRunInProgress is returned by TriggerUpdate when the daemon is already
// running an update.
var ErrRunInProgress = errors.New("gridcarbon: run already in progress")

// ErrNotFound is returned when the requested resource does not exist yet.
var ErrNotFound = errors.New("gridcarbon: not found")

// Day is one stored day row.
type Day struct {
	Day      string             `json:"day"`
	Metrics  map[string]float64 `json:"metrics"`
	Emission float64            `json:"emission"`
}

// MonthExtremes is one month of the summary.
type MonthExtremes struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Summary is the monthly emission summary.
type Summary struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Days        int             `json:"days"`
	FirstDay    string          `json:"first_day,omitempty"`
	LastDay     string          `json:"last_day,omitempty"`
	Months      []MonthExtremes `json:"months"`
}

// Run is one ingest run recorded by the daemon.
type Run struct {
	ID         string    `json:"id"`
	StartDay   string    `json:"start_day"`
	EndDay     string    `json:"end_day"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Planned    int       `json:"planned"`
	Appended   int       `json:"appended"`
	Empty      int       `json:"empty"`
	Failed     int       `json:"failed"`
	Duplicate  int       `json:"duplicate"`
	Invalid    int       `json:"invalid"`
}

// PowerSource is one source of a power-mix snapshot.
type PowerSource struct {
	Name       string  `json:"source"`
	CapacityMW float64 `json:"capacity_mw"`
	SharePct   float64 `json:"share_pct"`
}

// PowerMix is the latest generation-mix snapshot.
type PowerMix struct {
	FetchedAt time.Time     `json:"fetched_at"`
	TotalMW   float64       `json:"total_mw"`
	Sources   []PowerSource `json:"sources"`
}

// Client provides a Go SDK for interacting with the gridcarbon daemon.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new gridcarbon API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Days returns the stored days between from and to inclusive. Empty bounds
// are open.
func (c *Client) Days(ctx context.Context, from, to string) ([]Day, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	var resp struct {
		Days []Day `json:"days"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/carbon-data", q, &resp); err != nil {
		return nil, err
	}
	return resp.Days, nil
}

// Summary returns the monthly emission summary.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	if err := c.do(ctx, http.MethodGet, "/api/carbon-data/summary", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TriggerUpdate starts a background ingest run and returns its id.
func (c *Client) TriggerUpdate(ctx context.Context) (string, error) {
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/update-carbon-data", nil, &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Runs returns up to limit recent runs, newest first. limit <= 0 uses the
// server default.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/runs", q, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// PowerMix returns the latest power-mix snapshot, or ErrNotFound before the
// daemon's first refresh.
func (c *Client) PowerMix(ctx context.Context) (*PowerMix, error) {
	var p PowerMix
	if err := c.do(ctx, http.MethodGet, "/api/power-mix", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrRunInProgress
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

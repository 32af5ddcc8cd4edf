// Package powermix polls the operator's current generation mix and keeps the
// latest snapshot in memory and on disk.
package powermix

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"gridcarbon/internal/domain"
	"gridcarbon/internal/gather"
	"gridcarbon/internal/metrics"
	"gridcarbon/internal/util"
)

// DefaultURL is the generation-mix endpoint.
const DefaultURL = "https://www.nsmo.vn/api/services/app/Pages/GetChartNguonDien"

// ErrNoSources is returned when the response lists no sources.
var ErrNoSources = errors.New("power mix: no sources in response")

var _ gather.Gatherer = (*Poller)(nil)

// Source is one generation source of a snapshot.
type Source struct {
	Name       string  `json:"source"`
	CapacityMW float64 `json:"capacity_mw"`
	SharePct   float64 `json:"share_pct"`
}

// Snapshot is the mix at one point in time.
type Snapshot struct {
	FetchedAt time.Time `json:"fetched_at"`
	TotalMW   float64   `json:"total_mw"`
	Sources   []Source  `json:"sources"`
}

// apiResponse mirrors the endpoint's JSON envelope.
type apiResponse struct {
	Result struct {
		Data struct {
			Sources []struct {
				Name     string  `json:"tenNguon"`
				Capacity float64 `json:"congSuat"`
			} `json:"nguonDiens"`
		} `json:"data"`
	} `json:"result"`
}

// Decode parses a response body into a snapshot. Shares are percentages of
// the total rounded to 2 decimals; a zero total gives zero shares.
func Decode(r io.Reader, at time.Time) (*Snapshot, error) {
	var resp apiResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding power mix: %w", err)
	}
	items := resp.Result.Data.Sources
	if len(items) == 0 {
		return nil, ErrNoSources
	}

	snap := &Snapshot{FetchedAt: at.UTC(), Sources: make([]Source, 0, len(items))}
	for _, it := range items {
		snap.TotalMW += it.Capacity
	}
	for _, it := range items {
		var share float64
		if snap.TotalMW != 0 {
			share = domain.Round2(it.Capacity / snap.TotalMW * 100)
		}
		snap.Sources = append(snap.Sources, Source{Name: it.Name, CapacityMW: it.Capacity, SharePct: share})
	}
	return snap, nil
}

// EncodeCSV renders a snapshot as a UTF-8 CSV with a BOM and the header
// source,capacity_mw,share_pct.
func EncodeCSV(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"source", "capacity_mw", "share_pct"}); err != nil {
		return nil, err
	}
	for _, s := range snap.Sources {
		row := []string{
			s.Name,
			strconv.FormatFloat(s.CapacityMW, 'f', -1, 64),
			strconv.FormatFloat(s.SharePct, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Options configures a Poller.
type Options struct {
	URL                string
	OutputPath         string // empty keeps the snapshot in memory only
	Interval           time.Duration
	Timeout            time.Duration
	InsecureSkipVerify bool
}

// Poller refreshes the snapshot on a fixed interval. A failed refresh keeps
// the previous snapshot.
type Poller struct {
	client   *http.Client
	url      string
	output   string
	interval time.Duration
	metrics  *metrics.Metrics
	log      *slog.Logger

	latest atomic.Pointer[Snapshot]
	now    func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(opts Options, m *metrics.Metrics, log *slog.Logger) *Poller {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Poller{
		client:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		url:      opts.URL,
		output:   opts.OutputPath,
		interval: opts.Interval,
		metrics:  m,
		log:      log.With("gatherer", "power-mix"),
		now:      time.Now,
	}
}

// Name returns the gatherer identifier.
func (p *Poller) Name() string { return "power-mix" }

// Latest returns the last good snapshot, or false before the first one.
func (p *Poller) Latest() (*Snapshot, bool) {
	s := p.latest.Load()
	return s, s != nil
}

// Run refreshes immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	return gather.Every(ctx, p.interval, p.log, p.Name(), func(ctx context.Context) error {
		_, err := p.Refresh(ctx)
		return err
	})
}

// Refresh fetches one snapshot, stores it and writes the CSV file.
func (p *Poller) Refresh(ctx context.Context) (*Snapshot, error) {
	snap, err := p.fetch(ctx)
	if err != nil {
		p.metrics.ObservePowerMix("error", 0)
		return nil, err
	}

	if p.output != "" {
		data, err := EncodeCSV(snap)
		if err != nil {
			p.metrics.ObservePowerMix("error", 0)
			return nil, err
		}
		if err := util.WriteFileAtomic(p.output, data); err != nil {
			p.metrics.ObservePowerMix("error", 0)
			return nil, fmt.Errorf("writing %s: %w", p.output, err)
		}
	}

	p.latest.Store(snap)
	p.metrics.ObservePowerMix("ok", snap.TotalMW)
	p.log.Info("power mix refreshed", "sources", len(snap.Sources), "total_mw", snap.TotalMW)
	return snap, nil
}

func (p *Poller) fetch(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gridcarbon/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching power mix: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching power mix: unexpected status %d", resp.StatusCode)
	}
	return Decode(io.LimitReader(resp.Body, 4<<20), p.now())
}

// Package app wires the configured pipeline components shared by the
// gridcarbon commands.
package app

import (
	"context"
	"log/slog"

	"gridcarbon/internal/config"
	"gridcarbon/internal/gather/nsmo"
	"gridcarbon/internal/gather/powermix"
	"gridcarbon/internal/metrics"
	"gridcarbon/internal/store"
)

// Pipeline holds the components of one configured ingest pipeline. Ledger
// and Mirror are nil when disabled or unavailable.
type Pipeline struct {
	Config   *config.Config
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Store    *store.CSVStore
	Ledger   *store.SQLiteStore
	Mirror   *store.PostgresMirror
	Gatherer *nsmo.DailyGatherer
}

// FetchOptions maps the carbon job config onto fetcher options.
func FetchOptions(cj config.CarbonJobConfig) nsmo.FetchOptions {
	return nsmo.FetchOptions{
		BaseURL:            cj.BaseURL,
		Retries:            cj.Retries,
		RetryDelay:         cj.RetryDelay,
		Timeout:            cj.Timeout,
		RateLimitPerMin:    cj.RateLimitPerMin,
		InsecureSkipVerify: cj.InsecureSkipVerify,
	}
}

// GatherOptions maps the carbon job config onto run parameters.
func GatherOptions(cj config.CarbonJobConfig) nsmo.Options {
	return nsmo.Options{
		StartDate:       cj.StartDate,
		EndDate:         cj.EndDate,
		Location:        cj.Location(),
		MaxWorkers:      cj.MaxWorkers,
		RefreshInterval: cj.RefreshInterval,
	}
}

// PowerMixOptions maps the power-mix job config onto poller options.
func PowerMixOptions(cfg *config.Config) powermix.Options {
	pm := cfg.Gather.PowerMix
	return powermix.Options{
		URL:                pm.URL,
		OutputPath:         pm.OutputPath,
		Interval:           pm.Interval,
		Timeout:            pm.Timeout,
		InsecureSkipVerify: cfg.Gather.Carbon.InsecureSkipVerify,
	}
}

// Open builds the pipeline described by cfg. The run ledger and the
// Postgres mirror are optional: when either cannot be opened the failure is
// logged and the pipeline runs without it.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		Config:  cfg,
		Log:     log,
		Metrics: m,
		Store:   store.NewCSVStore(cfg.Storage.StorePath, log),
	}

	deps := nsmo.Deps{
		Store:   p.Store,
		Fetcher: nsmo.NewFetcher(FetchOptions(cfg.Gather.Carbon), m, log),
		Metrics: m,
		Log:     log,
	}

	if cfg.Storage.SQLitePath != "" {
		ledger, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Warn("run ledger disabled", "path", cfg.Storage.SQLitePath, "error", err)
		} else {
			p.Ledger = ledger
			deps.Ledger = ledger
		}
	}

	if cfg.Storage.PostgresDSN != "" {
		mirror, err := store.NewPostgresMirror(ctx, cfg.Storage.PostgresDSN, 4)
		if err != nil {
			log.Warn("postgres mirror disabled", "error", err)
		} else {
			p.Mirror = mirror
			deps.Mirror = mirror
		}
	}

	p.Gatherer = nsmo.NewDailyGatherer(deps, GatherOptions(cfg.Gather.Carbon))
	return p
}

// Reconfigure applies a reloaded config to the gatherer. Storage paths are
// not reloaded; they need a restart.
func (p *Pipeline) Reconfigure(cfg *config.Config) {
	p.Gatherer.Reconfigure(GatherOptions(cfg.Gather.Carbon), nsmo.NewFetcher(FetchOptions(cfg.Gather.Carbon), p.Metrics, p.Log))
	p.Log.Info("config reloaded",
		"start", cfg.Gather.Carbon.StartDate,
		"end", cfg.Gather.Carbon.EndDate,
		"max_workers", cfg.Gather.Carbon.MaxWorkers,
	)
}

// Close releases the ledger and the mirror.
func (p *Pipeline) Close() {
	if p.Ledger != nil {
		if err := p.Ledger.Close(); err != nil {
			p.Log.Warn("closing run ledger", "error", err)
		}
	}
	if p.Mirror != nil {
		p.Mirror.Close()
	}
}

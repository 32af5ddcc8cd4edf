// One-shot ingest: fetch every day of the configured range that is not yet in
// the store, extract its generation metrics and append it.
//
// Usage:
//
//	carbon-daily [-start 2024-01-01] [-end 2024-06-30] [-workers 5] [-repair]
//
// Per-day failures are logged and counted; the days stay pending for the
// next run and the process still exits 0.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gridcarbon/internal/app"
	"gridcarbon/internal/config"
	"gridcarbon/internal/gather"
	"gridcarbon/internal/metrics"
	"gridcarbon/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", config.Path(), "config file")
	start := flag.String("start", "", "first day (overrides config)")
	end := flag.String("end", "", "last day, default today (overrides config)")
	workers := flag.Int("workers", 0, "concurrent day pipelines (overrides config)")
	repair := flag.Bool("repair", false, "repair the store file and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *start != "" {
		cfg.Gather.Carbon.StartDate = *start
	}
	if *end != "" {
		cfg.Gather.Carbon.EndDate = *end
	}
	if *workers > 0 {
		cfg.Gather.Carbon.MaxWorkers = *workers
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := gather.ParseDateRange(cfg.Gather.Carbon.StartDate, cfg.Gather.Carbon.EndDate, cfg.Gather.Carbon.Location())
	if err != nil && !*repair {
		logger.Error("invalid date range", "start", cfg.Gather.Carbon.StartDate,
			"end", cfg.Gather.Carbon.EndDate, "error", err)
		return 2
	}

	p := app.Open(ctx, cfg, metrics.New(), logger)
	defer p.Close()

	if *repair {
		rep, err := p.Store.Repair(ctx)
		if err != nil {
			logger.Error("repair failed", "error", err)
			return 1
		}
		logger.Info("store repaired", "path", p.Store.Path(),
			"repaired", rep.Repaired, "kept", rep.Kept, "dropped", rep.Dropped, "duplicates", rep.Duplicates)
		return 0
	}

	logger.Info("starting run", "gatherer", p.Gatherer.Name(), "range", r.String(),
		"workers", cfg.Gather.Carbon.MaxWorkers)
	run, err := p.Gatherer.RunRange(ctx, r)
	if err != nil {
		logger.Error("run aborted", "run", run.ID, "error", err)
		return 1
	}
	if run.Failed > 0 {
		logger.Warn("some days failed and remain pending", "failed", run.Failed)
	}
	return 0
}

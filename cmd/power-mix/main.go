// Poll the current generation mix and keep power_sources.csv up to date.
//
// Usage:
//
//	power-mix [-once] [-out data/power_sources.csv] [-interval 5m]
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridcarbon/internal/app"
	"gridcarbon/internal/config"
	"gridcarbon/internal/gather/powermix"
	"gridcarbon/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "config file")
	once := flag.Bool("once", false, "refresh once and exit")
	out := flag.String("out", "", "CSV output (overrides config)")
	interval := flag.Duration("interval", 0, "refresh interval (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	opts := app.PowerMixOptions(cfg)
	if *out != "" {
		opts.OutputPath = *out
	}
	if *interval > 0 {
		opts.Interval = *interval
	}
	poller := powermix.NewPoller(opts, nil, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		ctx, cancelTimeout := context.WithTimeout(ctx, opts.Timeout+5*time.Second)
		defer cancelTimeout()
		if _, err := poller.Refresh(ctx); err != nil {
			logger.Error("power mix refresh failed", "error", err)
			os.Exit(1)
		}
		return
	}

	logger.Info("starting power mix poller", "url", opts.URL, "interval", opts.Interval, "out", opts.OutputPath)
	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("poller stopped", "error", err)
		os.Exit(1)
	}
}

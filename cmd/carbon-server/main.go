package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gridcarbon/internal/app"
	"gridcarbon/internal/config"
	"gridcarbon/internal/gather/powermix"
	"gridcarbon/internal/httpapi"
	"gridcarbon/internal/metrics"
	"gridcarbon/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "config file")
	noRefresh := flag.Bool("no-refresh", false, "disable the periodic carbon refresh")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	p := app.Open(ctx, cfg, m, logger)
	defer p.Close()

	if days, err := p.Store.ExistingDays(ctx); err == nil {
		m.SetStoredDays(len(days))
	}

	poller := powermix.NewPoller(app.PowerMixOptions(cfg), m, logger)

	deps := httpapi.Deps{
		Days:       p.Store,
		Updater:    p.Gatherer,
		PowerMix:   poller,
		Metrics:    m,
		Log:        logger,
		Running:    p.Gatherer.Running,
		RunContext: ctx,
	}
	if p.Ledger != nil {
		deps.Runs = p.Ledger
	}
	api := httpapi.NewServer(deps)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("carbon server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down carbon server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if !*noRefresh {
		g.Go(func() error {
			return ignoreCanceled(p.Gatherer.Run(gctx))
		})
	}

	g.Go(func() error {
		return ignoreCanceled(poller.Run(gctx))
	})

	g.Go(func() error {
		err := config.Watch(gctx, *cfgPath, func(next *config.Config) {
			p.Reconfigure(next)
		})
		if err != nil {
			// The daemon keeps serving without hot reload.
			logger.Warn("config watch stopped", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("carbon server stopped", "error", err)
	}
	p.Gatherer.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Export the day table: a parquet copy for the forecast job, the monthly
// emission extremes as JSON and, with -pg, a backfill of the Postgres mirror.
//
// Usage:
//
//	carbon-export [-parquet path] [-summary path] [-months 3] [-csv path|-] [-pg]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"gridcarbon/internal/config"
	"gridcarbon/internal/dashboard"
	"gridcarbon/internal/domain"
	"gridcarbon/internal/store"
	"gridcarbon/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "config file")
	parquetPath := flag.String("parquet", "", "parquet output (default storage.parquet_path, \"-\" to skip)")
	summaryPath := flag.String("summary", "", "summary JSON output (default storage.summary_path, \"-\" to skip)")
	months := flag.Int("months", dashboard.DefaultMonths, "complete months in the summary")
	csvOut := flag.String("csv", "", "also write the canonical day table as CSV (\"-\" for stdout)")
	backfill := flag.Bool("pg", false, "backfill the Postgres mirror (needs storage.postgres_dsn)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *parquetPath == "" {
		*parquetPath = cfg.Storage.ParquetPath
	}
	if *summaryPath == "" {
		*summaryPath = cfg.Storage.SummaryPath
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	ctx := context.Background()

	csvStore := store.NewCSVStore(cfg.Storage.StorePath, logger)
	days, err := csvStore.ReadDays(ctx)
	if err != nil {
		logger.Error("reading store", "path", cfg.Storage.StorePath, "error", err)
		os.Exit(1)
	}
	logger.Info("store loaded", "path", cfg.Storage.StorePath, "days", len(days))

	if *parquetPath != "-" {
		n, err := store.NewParquetStore(*parquetPath).WriteDays(ctx, days)
		if err != nil {
			logger.Error("writing parquet", "path", *parquetPath, "error", err)
			os.Exit(1)
		}
		logger.Info("parquet written", "path", *parquetPath, "rows", n)
	}

	if *summaryPath != "-" {
		summary := dashboard.Summarize(days, time.Now(), *months)
		data, err := json.MarshalIndent(summary.Months, "", "  ")
		if err != nil {
			log.Fatalf("encoding summary: %v", err)
		}
		if err := util.WriteFileAtomic(*summaryPath, append(data, '\n')); err != nil {
			logger.Error("writing summary", "path", *summaryPath, "error", err)
			os.Exit(1)
		}
		logger.Info("summary written", "path", *summaryPath, "months", len(summary.Months))
	}

	if *csvOut != "" {
		if err := exportCSV(*csvOut, days); err != nil {
			logger.Error("writing csv", "path", *csvOut, "error", err)
			os.Exit(1)
		}
	}

	if *backfill {
		if cfg.Storage.PostgresDSN == "" {
			logger.Error("-pg needs storage.postgres_dsn or PG_DSN")
			os.Exit(2)
		}
		mirror, err := store.NewPostgresMirror(ctx, cfg.Storage.PostgresDSN, 4)
		if err != nil {
			logger.Error("connecting to postgres", "error", err)
			os.Exit(1)
		}

		inserted, err := mirror.Backfill(ctx, days, 500)
		if err != nil {
			mirror.Close()
			logger.Error("backfill failed", "inserted", inserted, "error", err)
			os.Exit(1)
		}
		total, _ := mirror.Count(ctx)
		mirror.Close()
		logger.Info("backfill complete", "inserted", inserted, "rows", total)
	}
}

func exportCSV(path string, days []domain.DayRecord) error {
	if path == "-" {
		return store.WriteCSV(os.Stdout, days)
	}
	var buf bytes.Buffer
	if err := store.WriteCSV(&buf, days); err != nil {
		return err
	}
	return util.WriteFileAtomic(path, buf.Bytes())
}

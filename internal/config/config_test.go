package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridcarbon.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  data_dir: "/tmp/gridcarbon/data"
  store_path: "/tmp/gridcarbon/data/days.csv"
  sqlite_path: "/tmp/gridcarbon/ledger.db"
server:
  host: "127.0.0.1"
  port: 8080
logging:
  level: "debug"
  format: "text"
gather:
  carbon:
    base_url: "http://localhost:9999/day"
    start_date: "2024-03-01"
    end_date: "2024-03-31"
    max_workers: 2
    retries: 4
    retry_delay: 250ms
    timeout: 10s
    rate_limit_per_min: 120
    insecure_skip_verify: true
    refresh_interval: 1h
  power_mix:
    url: "http://localhost:9999/mix"
    interval: 30s
`)

	for _, k := range []string{"DATA_DIR", "STORE_PATH", "SQLITE_PATH", "PG_DSN", "LOG_LEVEL",
		"NSMO_BASE_URL", "CARBON_START_DATE", "CARBON_END_DATE", "CARBON_MAX_WORKERS", "POWER_MIX_URL"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/gridcarbon/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/gridcarbon/data")
	}
	if cfg.Storage.StorePath != "/tmp/gridcarbon/data/days.csv" {
		t.Errorf("Storage.StorePath = %q", cfg.Storage.StorePath)
	}
	if cfg.Storage.ParquetPath != "/tmp/gridcarbon/data/electric_days.parquet" {
		t.Errorf("Storage.ParquetPath default = %q", cfg.Storage.ParquetPath)
	}

	// -- Server / Logging --
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Gather --
	cj := cfg.Gather.Carbon
	if cj.MaxWorkers != 2 {
		t.Errorf("Carbon.MaxWorkers = %d, want 2", cj.MaxWorkers)
	}
	if cj.Retries != 4 {
		t.Errorf("Carbon.Retries = %d, want 4", cj.Retries)
	}
	if cj.RetryDelay != 250*time.Millisecond {
		t.Errorf("Carbon.RetryDelay = %v, want 250ms", cj.RetryDelay)
	}
	if cj.Timeout != 10*time.Second {
		t.Errorf("Carbon.Timeout = %v, want 10s", cj.Timeout)
	}
	if cj.RefreshInterval != time.Hour {
		t.Errorf("Carbon.RefreshInterval = %v, want 1h", cj.RefreshInterval)
	}
	if !cj.InsecureSkipVerify {
		t.Error("Carbon.InsecureSkipVerify = false, want true")
	}
	if cj.EndDate != "2024-03-31" {
		t.Errorf("Carbon.EndDate = %q", cj.EndDate)
	}
	if cfg.Gather.PowerMix.Interval != 30*time.Second {
		t.Errorf("PowerMix.Interval = %v, want 30s", cfg.Gather.PowerMix.Interval)
	}
	if cfg.Gather.PowerMix.Timeout != DefaultTimeout {
		t.Errorf("PowerMix.Timeout default = %v, want %v", cfg.Gather.PowerMix.Timeout, DefaultTimeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeTempConfig(t, "{}\n")
	for _, k := range []string{"DATA_DIR", "STORE_PATH", "CARBON_MAX_WORKERS", "CARBON_START_DATE"} {
		t.Setenv(k, "")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	cj := cfg.Gather.Carbon
	if cj.MaxWorkers != DefaultMaxWorkers {
		t.Errorf("MaxWorkers = %d, want %d", cj.MaxWorkers, DefaultMaxWorkers)
	}
	if cj.Retries != DefaultRetries {
		t.Errorf("Retries = %d, want %d", cj.Retries, DefaultRetries)
	}
	if cj.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cj.RetryDelay)
	}
	if cj.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cj.Timeout)
	}
	if cj.StartDate != DefaultStartDate {
		t.Errorf("StartDate = %q, want %q", cj.StartDate, DefaultStartDate)
	}
	if cj.EndDate != "" {
		t.Errorf("EndDate = %q, want empty (today)", cj.EndDate)
	}
	if cfg.Storage.StorePath != "data/electric_async.csv" {
		t.Errorf("StorePath = %q", cfg.Storage.StorePath)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
storage:
  data_dir: "/base/data"
gather:
  carbon:
    max_workers: 3
    start_date: "2024-01-01"
`)

	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("STORE_PATH", "")
	t.Setenv("CARBON_MAX_WORKERS", "7")
	t.Setenv("CARBON_START_DATE", "")
	t.Setenv("PG_DSN", "postgres://localhost/carbon")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	// Derived default follows the overridden data dir.
	if cfg.Storage.StorePath != "/env/data/electric_async.csv" {
		t.Errorf("Storage.StorePath = %q", cfg.Storage.StorePath)
	}
	if cfg.Gather.Carbon.MaxWorkers != 7 {
		t.Errorf("MaxWorkers = %d, want 7 (env override)", cfg.Gather.Carbon.MaxWorkers)
	}
	if cfg.Gather.Carbon.StartDate != "2024-01-01" {
		t.Errorf("StartDate = %q, want from YAML", cfg.Gather.Carbon.StartDate)
	}
	if cfg.Storage.PostgresDSN != "postgres://localhost/carbon" {
		t.Errorf("PostgresDSN = %q", cfg.Storage.PostgresDSN)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "gather: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestWatchReload(t *testing.T) {
	t.Setenv("CARBON_MAX_WORKERS", "")
	path := writeTempConfig(t, "gather:\n  carbon:\n    max_workers: 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case changed <- c:
			default:
			}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("gather:\n  carbon:\n    max_workers: 9\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// A truncate-then-write save can surface an intermediate reload first.
	deadline := time.After(5 * time.Second)
	for seen := false; !seen; {
		select {
		case c := <-changed:
			seen = c.Gather.Carbon.MaxWorkers == 9
		case <-deadline:
			t.Fatal("no reload with max_workers 9 observed")
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func renameSave(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".swp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
}

func TestWatchRenameSaves(t *testing.T) {
	t.Setenv("CARBON_MAX_WORKERS", "")
	path := writeTempConfig(t, "gather:\n  carbon:\n    max_workers: 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan int, 16)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, path, 20*time.Millisecond, func(c *Config) {
			changed <- c.Gather.Carbon.MaxWorkers
		})
	}()
	time.Sleep(100 * time.Millisecond)

	// Each save replaces the inode; both must be picked up.
	for _, n := range []int{7, 8} {
		renameSave(t, path, fmt.Sprintf("gather:\n  carbon:\n    max_workers: %d\n", n))
		select {
		case got := <-changed:
			if got != n {
				t.Errorf("reloaded max_workers = %d, want %d", got, n)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no reload after save %d", n)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned %v", err)
	}
}

func TestWatchDebounce(t *testing.T) {
	t.Setenv("CARBON_MAX_WORKERS", "")
	path := writeTempConfig(t, "gather:\n  carbon:\n    max_workers: 2\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reloads atomic.Int32
	last := make(chan int, 16)
	go watch(ctx, path, 300*time.Millisecond, func(c *Config) {
		reloads.Add(1)
		last <- c.Gather.Carbon.MaxWorkers
	})
	time.Sleep(100 * time.Millisecond)

	// An invalid intermediate state is coalesced away with the rest.
	if err := os.WriteFile(path, []byte("gather: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for n := 3; n <= 6; n++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf("gather:\n  carbon:\n    max_workers: %d\n", n)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-last:
		if got != 6 {
			t.Errorf("reloaded max_workers = %d, want 6", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	time.Sleep(500 * time.Millisecond)
	if n := reloads.Load(); n != 1 {
		t.Errorf("reloads = %d, want 1", n)
	}
}

func TestCarbonTimezone(t *testing.T) {
	t.Setenv("CARBON_TIMEZONE", "")
	cfg, err := Load(writeTempConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Gather.Carbon.Timezone != DefaultTimezone {
		t.Errorf("Timezone = %q, want %q", cfg.Gather.Carbon.Timezone, DefaultTimezone)
	}
	at := time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC).In(cfg.Gather.Carbon.Location())
	if at.Day() != 2 || at.Hour() != 3 {
		t.Errorf("20:00 UTC in %s = %v, want 03:00 next day", DefaultTimezone, at)
	}

	t.Setenv("CARBON_TIMEZONE", "Mars/Olympus")
	if _, err := Load(writeTempConfig(t, "{}\n")); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

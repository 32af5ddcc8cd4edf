package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for gridcarbon.
type Config struct {
	Storage Storage      `yaml:"storage"`
	Server  Server       `yaml:"server"`
	Logging Logging      `yaml:"logging"`
	Gather  GatherConfig `yaml:"gather"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	StorePath   string `yaml:"store_path"`   // day table CSV
	ParquetPath string `yaml:"parquet_path"` // columnar export
	SummaryPath string `yaml:"summary_path"` // monthly extremes JSON
	SQLitePath  string `yaml:"sqlite_path"`  // run ledger
	PostgresDSN string `yaml:"postgres_dsn"` // optional mirror
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// GatherConfig groups the data gathering jobs.
type GatherConfig struct {
	Carbon   CarbonJobConfig   `yaml:"carbon"`
	PowerMix PowerMixJobConfig `yaml:"power_mix"`
}

// CarbonJobConfig holds the parameters of the daily generation ingest.
type CarbonJobConfig struct {
	BaseURL            string        `yaml:"base_url"`
	StartDate          string        `yaml:"start_date"`
	EndDate            string        `yaml:"end_date"` // empty means today in Timezone
	Timezone           string        `yaml:"timezone"` // IANA name of the source's calendar
	MaxWorkers         int           `yaml:"max_workers"`
	Retries            int           `yaml:"retries"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	Timeout            time.Duration `yaml:"timeout"`
	RateLimitPerMin    int           `yaml:"rate_limit_per_min"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	RefreshInterval    time.Duration `yaml:"refresh_interval"`
}

// PowerMixJobConfig holds the parameters of the power-mix snapshot poller.
type PowerMixJobConfig struct {
	URL        string        `yaml:"url"`
	OutputPath string        `yaml:"output_path"`
	Interval   time.Duration `yaml:"interval"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	DefaultBaseURL         = "https://www.nsmo.vn/HTDThongSoVH"
	DefaultStartDate       = "2024-01-01"
	DefaultTimezone        = "Asia/Ho_Chi_Minh"
	DefaultMaxWorkers      = 5
	DefaultRetries         = 3
	DefaultRetryDelay      = time.Second
	DefaultTimeout         = 30 * time.Second
	DefaultRefreshInterval = 6 * time.Hour
	DefaultPowerMixURL     = "https://www.nsmo.vn/api/services/app/Pages/GetChartNguonDien"
	DefaultPowerMixEvery   = 5 * time.Minute
)

// ApplyDefaults fills every zero-valued field with its default.
func (c *Config) ApplyDefaults() {
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.StorePath == "" {
		c.Storage.StorePath = c.Storage.DataDir + "/electric_async.csv"
	}
	if c.Storage.ParquetPath == "" {
		c.Storage.ParquetPath = c.Storage.DataDir + "/electric_days.parquet"
	}
	if c.Storage.SummaryPath == "" {
		c.Storage.SummaryPath = c.Storage.DataDir + "/carbon_extremes.json"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = c.Storage.DataDir + "/gridcarbon.db"
	}

	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	cj := &c.Gather.Carbon
	if cj.BaseURL == "" {
		cj.BaseURL = DefaultBaseURL
	}
	if cj.StartDate == "" {
		cj.StartDate = DefaultStartDate
	}
	if cj.Timezone == "" {
		cj.Timezone = DefaultTimezone
	}
	if cj.MaxWorkers <= 0 {
		cj.MaxWorkers = DefaultMaxWorkers
	}
	if cj.Retries <= 0 {
		cj.Retries = DefaultRetries
	}
	if cj.RetryDelay <= 0 {
		cj.RetryDelay = DefaultRetryDelay
	}
	if cj.Timeout <= 0 {
		cj.Timeout = DefaultTimeout
	}
	if cj.RefreshInterval <= 0 {
		cj.RefreshInterval = DefaultRefreshInterval
	}

	pm := &c.Gather.PowerMix
	if pm.URL == "" {
		pm.URL = DefaultPowerMixURL
	}
	if pm.OutputPath == "" {
		pm.OutputPath = c.Storage.DataDir + "/power_sources.csv"
	}
	if pm.Interval <= 0 {
		pm.Interval = DefaultPowerMixEvery
	}
	if pm.Timeout <= 0 {
		pm.Timeout = DefaultTimeout
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	cfg.ApplyDefaults()

	if _, err := time.LoadLocation(cfg.Gather.Carbon.Timezone); err != nil {
		return nil, fmt.Errorf("gather.carbon.timezone: %w", err)
	}

	return cfg, nil
}

// Location returns the zone that decides which day is "today". Load has
// already validated Timezone; an invalid name falls back to UTC.
func (cj CarbonJobConfig) Location() *time.Location {
	loc, err := time.LoadLocation(cj.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path: GRIDCARBON_CONFIG if set, otherwise
// config/gridcarbon.yaml.
func Path() string {
	if p := os.Getenv("GRIDCARBON_CONFIG"); p != "" {
		return p
	}
	return "config/gridcarbon.yaml"
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Storage.StorePath = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("PG_DSN"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("NSMO_BASE_URL"); v != "" {
		cfg.Gather.Carbon.BaseURL = v
	}
	if v := os.Getenv("CARBON_START_DATE"); v != "" {
		cfg.Gather.Carbon.StartDate = v
	}
	if v := os.Getenv("CARBON_END_DATE"); v != "" {
		cfg.Gather.Carbon.EndDate = v
	}
	if v := os.Getenv("CARBON_TIMEZONE"); v != "" {
		cfg.Gather.Carbon.Timezone = v
	}
	if v := os.Getenv("CARBON_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gather.Carbon.MaxWorkers = n
		}
	}

	if v := os.Getenv("POWER_MIX_URL"); v != "" {
		cfg.Gather.PowerMix.URL = v
	}
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"intrabar/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for intrabar.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Calendar  Calendar  `yaml:"calendar"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Retry     Retry     `yaml:"retry"`
	Backfill  Backfill  `yaml:"backfill"`
	Quality   Quality   `yaml:"quality"`
	Report    Report    `yaml:"report"`
	Schedule  Schedule  `yaml:"schedule"`
}

// Storage selects the bar store backend.
type Storage struct {
	Driver      string `yaml:"driver"` // sqlite, postgres or parquet
	DataDir     string `yaml:"data_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	BaseURL    string `yaml:"base_url"`
	DataURL    string `yaml:"data_url"`
	Feed       string `yaml:"feed"`
	Adjustment string `yaml:"adjustment"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   bool   `yaml:"file"` // also write a dated file under the temp dir
}

// Calendar defines the exchange session window.
type Calendar struct {
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`
	Close    string `yaml:"close"`
}

// RateLimit configures the shared admission gate.
type RateLimit struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Backend           string        `yaml:"backend"` // memory or redis
	RedisAddr         string        `yaml:"redis_addr"`
	RedisKey          string        `yaml:"redis_key"`
}

// Retry is the provider retry policy.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// Backfill controls a backfill or load run.
type Backfill struct {
	Timeframe    string        `yaml:"timeframe"`
	StartDate    string        `yaml:"start_date"`
	EndDate      string        `yaml:"end_date"` // empty: latest finished session
	Workers      int           `yaml:"workers"`
	RunBudget    time.Duration `yaml:"run_budget"` // 0: unlimited
	UniverseFile string        `yaml:"universe_file"`
	Symbols      []string      `yaml:"symbols"`
}

// Quality holds classification thresholds and coverage policies.
type Quality struct {
	MaxIncompleteDays  int              `yaml:"max_incomplete_days"`
	MaxInconsistencies int              `yaml:"max_inconsistencies"`
	CloseTolerance     string           `yaml:"close_tolerance"`
	Coverage           []CoveragePolicy `yaml:"coverage"`
}

// CoveragePolicy is one named minimum-history requirement.
type CoveragePolicy struct {
	Name      string `yaml:"name"`
	MinBars   int    `yaml:"min_bars"`
	MinDays   int    `yaml:"min_days"`
	MinMonths int    `yaml:"min_months"`
}

// Report configures run outputs.
type Report struct {
	CSVPath           string `yaml:"csv_path"`
	ParquetPath       string `yaml:"parquet_path"`
	ExportDir         string `yaml:"export_dir"` // recoverable-symbol export, empty disables
	ValidationCSVPath string `yaml:"validation_csv_path"`
}

// Schedule configures daemon mode.
type Schedule struct {
	Cron string `yaml:"cron"`
}

// ---------------------------------------------------------------------------
// Defaults and accessors
// ---------------------------------------------------------------------------

// Defaults returns a configuration that works against a local SQLite file.
func Defaults() *Config {
	return &Config{
		Storage: Storage{
			Driver:     "sqlite",
			DataDir:    "data",
			SQLitePath: "data/intrabar.db",
		},
		Alpaca: Alpaca{
			BaseURL:    "https://api.alpaca.markets",
			Feed:       "sip",
			Adjustment: "all",
		},
		Logging:  Logging{Level: "info", Format: "text"},
		Calendar: Calendar{Timezone: "America/New_York", Open: "09:30", Close: "16:00"},
		RateLimit: RateLimit{
			RequestsPerWindow: 200,
			Window:            time.Minute,
			Backend:           "memory",
			RedisKey:          "intrabar:rate-gate",
		},
		Retry: Retry{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
		Backfill: Backfill{
			Timeframe: string(domain.FiveMin),
			StartDate: "2023-01-01",
			Workers:   4,
		},
		Quality: Quality{
			MaxIncompleteDays:  5,
			MaxInconsistencies: 10,
			CloseTolerance:     "0.01",
			Coverage: []CoveragePolicy{
				{Name: "high_quality", MinBars: 50000, MinDays: 540},
				{Name: "backtest_ready", MinBars: 50000, MinMonths: 18},
			},
		},
		Report: Report{
			CSVPath:           "quality_report.csv",
			ValidationCSVPath: "validation_report.csv",
		},
	}
}

// Tolerance returns the close-price tolerance as a decimal.
func (q Quality) Tolerance() decimal.Decimal {
	d, err := decimal.NewFromString(q.CloseTolerance)
	if err != nil {
		return decimal.RequireFromString("0.01")
	}
	return d
}

// ParsedTimeframe returns the backfill timeframe.
func (b Backfill) ParsedTimeframe() (domain.Timeframe, error) {
	return domain.ParseTimeframe(b.Timeframe)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads a .env file from the working directory if one exists, then the
// YAML configuration file at the given path on top of Defaults, applies
// environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "parquet":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("storage.postgres_dsn is required for the postgres driver")
	}
	if _, err := c.Backfill.ParsedTimeframe(); err != nil {
		return fmt.Errorf("backfill.timeframe: %w", err)
	}
	if _, err := time.Parse("2006-01-02", c.Backfill.StartDate); err != nil {
		return fmt.Errorf("backfill.start_date: %w", err)
	}
	if c.Backfill.EndDate != "" {
		if _, err := time.Parse("2006-01-02", c.Backfill.EndDate); err != nil {
			return fmt.Errorf("backfill.end_date: %w", err)
		}
	}
	if c.Backfill.Workers < 1 {
		return fmt.Errorf("backfill.workers must be >= 1, got %d", c.Backfill.Workers)
	}
	if c.RateLimit.RequestsPerWindow < 1 || c.RateLimit.Window <= 0 {
		return errors.New("rate_limit: requests_per_window and window must be positive")
	}
	if c.RateLimit.Backend == "redis" && c.RateLimit.RedisAddr == "" {
		return errors.New("rate_limit.redis_addr is required for the redis backend")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	tol, err := decimal.NewFromString(c.Quality.CloseTolerance)
	if err != nil {
		return fmt.Errorf("quality.close_tolerance: %w", err)
	}
	if tol.IsNegative() {
		return errors.New("quality.close_tolerance must not be negative")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.PostgresDSN = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RateLimit.RedisAddr = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerWindow = n
			cfg.RateLimit.Window = time.Minute
		}
	}
	if v := os.Getenv("BACKFILL_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backfill.Workers = n
		}
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

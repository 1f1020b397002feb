// Package app wires configuration into the runtime pieces shared by the
// intrabar commands: logger, store, calendar, rate gate and provider client.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"intrabar/internal/config"
	"intrabar/internal/domain"
	"intrabar/internal/gather"
	"intrabar/internal/gather/us"
	"intrabar/internal/store"
	"intrabar/internal/util"
)

// ConfigPath returns the configuration file path, overridable with
// INTRABAR_CONFIG.
func ConfigPath() string {
	if p := os.Getenv("INTRABAR_CONFIG"); p != "" {
		return p
	}
	return "config/intrabar.yaml"
}

// Env holds everything a command needs once configuration is loaded.
type Env struct {
	Cfg       *config.Config
	Log       *slog.Logger
	Store     store.Store
	Cal       *util.TradingCalendar
	Timeframe domain.Timeframe

	gate    util.Gate
	closers []func() error
}

// Setup loads the configuration, installs the default logger and opens the
// store. name tags the log file when file logging is enabled.
func Setup(ctx context.Context, name string) (*Env, error) {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	env := &Env{Cfg: cfg}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, nil)
	if cfg.Logging.File {
		f, tee, err := util.OpenLogFile(name)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		env.closers = append(env.closers, f.Close)
		logger = util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, tee)
	}
	util.SetDefault(logger)
	env.Log = logger

	env.Cal, err = util.NewTradingCalendar(cfg.Calendar.Timezone, cfg.Calendar.Open, cfg.Calendar.Close)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Timeframe, err = cfg.Backfill.ParsedTimeframe()
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Store, err = store.Open(ctx, store.Options{
		Driver:      cfg.Storage.Driver,
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		DataDir:     cfg.Storage.DataDir,
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Driver, err)
	}
	env.closers = append(env.closers, env.Store.Close)
	return env, nil
}

// Close releases everything Setup and Client opened, last first.
func (e *Env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// Gate returns the process-wide admission gate, built on first use:
// in-process by default, or a Redis sliding window when several processes
// share one provider budget.
func (e *Env) Gate(ctx context.Context) (util.Gate, error) {
	if e.gate != nil {
		return e.gate, nil
	}
	rl := e.Cfg.RateLimit
	if rl.Backend != "redis" {
		e.gate = util.NewRateLimiter(rl.RequestsPerWindow, rl.Window, nil)
		return e.gate, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: rl.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", rl.RedisAddr, err)
	}
	e.closers = append(e.closers, rdb.Close)
	e.gate = util.NewRedisRateLimiter(rdb, rl.RedisKey, rl.RequestsPerWindow, rl.Window, nil)
	return e.gate, nil
}

// Client builds the retrying Alpaca client. The source admits every HTTP
// request, pages included, through the shared gate.
func (e *Env) Client(ctx context.Context) (*gather.Client, error) {
	gate, err := e.Gate(ctx)
	if err != nil {
		return nil, err
	}
	a := e.Cfg.Alpaca
	src := us.NewAlpacaSource(a.APIKey, a.APISecret, a.DataURL, a.Feed, e.Cal.Location(), gate)
	r := e.Cfg.Retry
	backoff := util.Backoff{MaxAttempts: r.MaxAttempts, BaseDelay: r.BaseDelay, Multiplier: r.Multiplier, MaxDelay: r.MaxDelay}
	return gather.NewClient(src, nil, backoff, e.Log), nil
}

// Symbols resolves the configured universe.
func (e *Env) Symbols(ctx context.Context) ([]string, error) {
	return us.Universe(ctx, e.Cfg.Backfill.Symbols, e.Cfg.Backfill.UniverseFile, e.Store)
}

// Range resolves the run range from the configured dates. Without an end
// date the latest finished session is used, asking the Alpaca calendar when
// credentials are configured.
func (e *Env) Range(now time.Time) (time.Time, time.Time, error) {
	start, err := us.ParseDate(e.Cfg.Backfill.StartDate, e.Cal.Location())
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var dates us.SessionDatesFunc
	if a := e.Cfg.Alpaca; a.APIKey != "" {
		gate, err := e.Gate(context.Background())
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		dates = us.AlpacaSessionDates(a.APIKey, a.APISecret, a.BaseURL, gate)
	}
	end, err := us.ResolveEndDate(e.Cfg.Backfill.EndDate, now, e.Cal, dates, e.Log)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"intrabar/internal/domain"
	"intrabar/internal/gather"
	"intrabar/internal/integrity"
	"intrabar/internal/store"
	"intrabar/internal/util"
)

// Fetcher is the rate-limited, retrying provider access the loader needs.
// *gather.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req gather.Request) ([]domain.Bar, error)
	FetchDaily(ctx context.Context, req gather.Request) ([]domain.DailyBar, error)
}

var _ Fetcher = (*gather.Client)(nil)

// LoaderConfig configures an IntradayLoader.
type LoaderConfig struct {
	Symbols     []string
	Range       gather.DateRange
	Timeframe   domain.Timeframe
	Adjustment  string
	Workers     int
	ProgressDir string // holds .loaded, .tried-empty and .last-completed
	UniverseDir string // per-session symbol listings; empty disables them
	Truncate    bool   // wipe both tables and progress before loading
}

// IntradayLoader performs the initial bulk load of a symbol universe: every
// symbol's intraday bars month by month, then its daily bars. Progress files
// let an interrupted load resume without refetching finished symbols.
type IntradayLoader struct {
	fetch    Fetcher
	store    store.Store
	cal      *util.TradingCalendar
	cfg      LoaderConfig
	universe *sessionListing
	log      *slog.Logger
}

var _ gather.Gatherer = (*IntradayLoader)(nil)

// NewIntradayLoader creates a loader writing into s.
func NewIntradayLoader(f Fetcher, s store.Store, cal *util.TradingCalendar, cfg LoaderConfig) *IntradayLoader {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	g := &IntradayLoader{
		fetch: f,
		store: s,
		cal:   cal,
		cfg:   cfg,
		log:   slog.Default().With("gatherer", "us-intraday-load", "timeframe", cfg.Timeframe.String()),
	}
	if cfg.UniverseDir != "" {
		g.universe = newSessionListing(cfg.UniverseDir, cal.Location())
	}
	return g
}

// Name returns the gatherer identifier.
func (g *IntradayLoader) Name() string { return "us-intraday-load" }

// Run loads every configured symbol. Per-symbol failures are logged and do
// not stop the others; the load is marked completed only when none failed.
func (g *IntradayLoader) Run(ctx context.Context) error {
	endStr := g.cfg.Range.End.Format("2006-01-02")

	// 1. Progress tracker.
	tracker, err := newProgressTracker(g.cfg.ProgressDir)
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	// 2. Optional truncate.
	if g.cfg.Truncate {
		for _, table := range []string{store.TableIntraday, store.TableDaily} {
			if err := g.store.Truncate(ctx, table); err != nil {
				return fmt.Errorf("truncating %s: %w", table, err)
			}
		}
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
		g.log.Info("tables truncated")
	}

	// 3. Idempotency.
	if tracker.IsCompleted(endStr) {
		g.log.Info("already completed", "endDate", endStr)
		return nil
	}
	if last := tracker.LastCompleted(); last != "" && last != endStr {
		// A new end date: stale progress, start fresh.
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	// 4. Remaining symbols.
	var remaining []string
	for _, sym := range g.cfg.Symbols {
		if tracker.IsLoaded(sym) || tracker.IsTriedEmpty(sym) {
			continue
		}
		remaining = append(remaining, sym)
	}
	g.log.Info("starting load",
		"start", g.cfg.Range.Start.Format("2006-01-02"),
		"endDate", endStr,
		"total", len(g.cfg.Symbols),
		"remaining", len(remaining),
	)

	// 5. Feed symbols to workers.
	symCh := make(chan string, len(remaining))
	for _, sym := range remaining {
		symCh <- sym
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		loaded   atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		rows     atomic.Int64
		runStart = time.Now()
	)

	workers := min(g.cfg.Workers, max(len(remaining), 1))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.loadSymbol(ctx, sym)
				switch {
				case err != nil:
					failed.Add(1)
					g.log.Error("symbol load failed", "symbol", sym, "err", err)
					continue
				case n == 0:
					empty.Add(1)
					if err := tracker.MarkEmpty([]string{sym}); err != nil {
						g.log.Error("marking empty failed", "err", err)
					}
				default:
					loaded.Add(1)
					rows.Add(int64(n))
					if g.universe != nil {
						if err := g.universe.Flush(); err != nil {
							g.log.Error("flushing universe failed", "err", err)
						}
					}
					if err := tracker.MarkLoaded([]string{sym}); err != nil {
						g.log.Error("marking loaded failed", "err", err)
					}
				}
				g.log.Info("symbol done",
					"symbol", sym,
					"bars", n,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if g.universe != nil {
		sessions, err := g.universe.Finalize()
		if err != nil {
			return fmt.Errorf("finalizing universe: %w", err)
		}
		g.log.Info("session listings written", "sessions", sessions, "dir", g.cfg.UniverseDir)
	}

	g.log.Info("complete",
		"loaded", loaded.Load(),
		"empty", empty.Load(),
		"failed", failed.Load(),
		"bars", rows.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)

	// 6. Mark completed.
	if failed.Load() > 0 {
		return fmt.Errorf("%d symbols failed to load", failed.Load())
	}
	if err := tracker.MarkCompleted(endStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}
	return nil
}

// loadSymbol stores the intraday and daily bars of one symbol and returns
// the number of intraday bars stored.
func (g *IntradayLoader) loadSymbol(ctx context.Context, sym string) (int, error) {
	stored := 0
chunks:
	for _, chunk := range g.cfg.Range.Months() {
		bars, err := g.fetch.Fetch(ctx, gather.Request{
			Symbol:     sym,
			Timeframe:  g.cfg.Timeframe,
			Start:      chunk.Start,
			End:        chunk.End,
			Adjustment: g.cfg.Adjustment,
		})
		if err != nil {
			if domain.IsProviderKind(err, domain.ErrKindNotFound) {
				break chunks
			}
			return stored, fmt.Errorf("fetching %s: %w", chunk.Start.Format("2006-01"), err)
		}

		valid, rejected := integrity.Partition(bars, chunk.Start, chunk.End, g.cfg.Timeframe, g.cal)
		if len(rejected) > 0 {
			g.log.Debug("dropped bars", "symbol", sym, "month", chunk.Start.Format("2006-01"),
				"reasons", integrity.RejectionCounts(rejected))
		}
		if len(valid) == 0 {
			continue
		}
		if err := g.store.UpsertBars(ctx, sym, valid); err != nil {
			return stored, err
		}
		stored += len(valid)
		if g.universe != nil {
			g.universe.AddBars(valid)
		}
	}
	if stored == 0 {
		return 0, nil
	}

	daily, err := g.fetch.FetchDaily(ctx, gather.Request{
		Symbol:     sym,
		Start:      g.cfg.Range.Start,
		End:        g.cfg.Range.End,
		Adjustment: g.cfg.Adjustment,
	})
	if err != nil {
		return stored, fmt.Errorf("fetching daily: %w", err)
	}
	if len(daily) > 0 {
		if err := g.store.UpsertDailyBars(ctx, sym, daily); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

// ProgressDir returns the default progress directory for a timeframe.
func ProgressDir(dataDir string, tf domain.Timeframe) string {
	return filepath.Join(dataDir, "us", "progress", tf.String())
}

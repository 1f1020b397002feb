package quality

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"intrabar/internal/domain"
	"intrabar/internal/integrity"
	"intrabar/internal/store"
	"intrabar/internal/util"
)

// Reader is the read side of a store the assessor needs.
type Reader interface {
	BarsFor(ctx context.Context, symbol string) ([]domain.Bar, error)
	DailyBarsFor(ctx context.Context, symbol string) ([]domain.DailyBar, error)
}

var _ Reader = (store.Store)(nil)

// Assessor re-reads a symbol after a backfill and classifies what is left.
type Assessor struct {
	Store      Reader
	Cal        *util.TradingCalendar
	TF         domain.Timeframe
	Thresholds Thresholds
	Tolerance  decimal.Decimal
	Log        *slog.Logger
}

// Assess builds the quality report for symbol over [start, end]. expected
// must be the calendar's timestamps for that range. A read failure marks the
// symbol problematic with the error attached.
func (a *Assessor) Assess(ctx context.Context, symbol string, expected []time.Time, start, end time.Time) domain.SymbolQualityReport {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	loc := a.Cal.Location()

	bars, err := a.Store.BarsFor(ctx, symbol)
	if err != nil {
		log.Error("assess: reading bars", "symbol", symbol, "error", err)
		return domain.SymbolQualityReport{Symbol: symbol, Status: domain.StatusProblematic, Error: err.Error()}
	}
	inRange := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
			inRange = append(inRange, b)
		}
	}
	spans := integrity.DetectGaps(symbol, a.TF, expected, integrity.Timestamps(inRange))

	daily, err := a.Store.DailyBarsFor(ctx, symbol)
	if err != nil {
		log.Error("assess: reading daily bars", "symbol", symbol, "error", err)
		return domain.SymbolQualityReport{Symbol: symbol, Status: domain.StatusProblematic, Error: err.Error()}
	}
	daily = a.dailyInRange(daily, start, end)

	flags := integrity.Reconcile(symbol, inRange, daily, a.Tolerance, loc)
	report := Classify(symbol, spans, flags, a.Thresholds, loc)
	log.Debug("assessed symbol",
		"symbol", symbol,
		"status", report.Status,
		"gaps", report.GapCount,
		"incomplete_days", report.IncompleteDays,
		"inconsistencies", report.InconsistencyCount,
	)
	return report
}

// dailyInRange keeps daily bars on trading dates within the local dates of
// [start, end]. Daily dates are civil dates, so they are compared as text.
func (a *Assessor) dailyInRange(daily []domain.DailyBar, start, end time.Time) []domain.DailyBar {
	loc := a.Cal.Location()
	first := start.In(loc).Format("2006-01-02")
	last := end.In(loc).Format("2006-01-02")
	out := make([]domain.DailyBar, 0, len(daily))
	for _, d := range daily {
		key := d.Date.Format("2006-01-02")
		if key < first || key > last {
			continue
		}
		local := time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), 0, 0, 0, 0, loc)
		if !a.Cal.IsTradingDay(local) {
			continue
		}
		out = append(out, d)
	}
	return out
}

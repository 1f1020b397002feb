package integrity

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"intrabar/internal/domain"
)

// DefaultTolerance is the largest close difference, in price units, that
// does not raise a price_mismatch flag.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Reconcile compares each daily close with the close of the last intraday
// bar of the same exchange-local date. A price_mismatch flag is raised when
// the absolute difference strictly exceeds tolerance, and a missing_close
// flag when the date has no intraday bar at all. Prices are compared as
// decimals so the boundary is exact.
func Reconcile(symbol string, intraday []domain.Bar, daily []domain.DailyBar, tolerance decimal.Decimal, loc *time.Location) []domain.ReconciliationFlag {
	type last struct {
		ts    time.Time
		close float64
	}
	lastByDate := make(map[string]last)
	for _, b := range intraday {
		key := b.Timestamp.In(loc).Format("2006-01-02")
		if l, ok := lastByDate[key]; !ok || b.Timestamp.After(l.ts) {
			lastByDate[key] = last{ts: b.Timestamp, close: b.Close}
		}
	}

	days := append([]domain.DailyBar(nil), daily...)
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })

	var flags []domain.ReconciliationFlag
	for _, d := range days {
		key := d.Date.Format("2006-01-02")
		l, ok := lastByDate[key]
		if !ok {
			flags = append(flags, domain.ReconciliationFlag{
				Symbol: symbol,
				Date:   d.Date,
				Kind:   domain.FlagMissingClose,
				Detail: fmt.Sprintf("daily close %v has no intraday bar", d.Close),
			})
			continue
		}

		dailyClose := decimal.NewFromFloat(d.Close)
		intraClose := decimal.NewFromFloat(l.close)
		diff := dailyClose.Sub(intraClose).Abs()
		if diff.GreaterThan(tolerance) {
			flags = append(flags, domain.ReconciliationFlag{
				Symbol: symbol,
				Date:   d.Date,
				Kind:   domain.FlagPriceMismatch,
				Detail: fmt.Sprintf("daily=%s intraday=%s diff=%s at %s",
					dailyClose, intraClose, diff, l.ts.In(loc).Format("15:04")),
			})
		}
	}
	return flags
}

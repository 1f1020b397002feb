// Package gather fetches bars from market-data providers. Every request goes
// through Client, which enforces the shared admission gate and the retry
// policy.
package gather

import (
	"context"
	"time"

	"intrabar/internal/domain"
)

// Gatherer is the interface for long-running data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs the gathering process. It returns when the work is done
	// or ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Months splits the range into calendar-month chunks in the location of
// Start. The first and last chunk are clipped to the range.
func (r DateRange) Months() []DateRange {
	var out []DateRange
	for cur := r.Start; !cur.After(r.End); {
		next := time.Date(cur.Year(), cur.Month()+1, 1, 0, 0, 0, 0, cur.Location())
		end := next.Add(-time.Nanosecond)
		if end.After(r.End) {
			end = r.End
		}
		out = append(out, DateRange{Start: cur, End: end})
		cur = next
	}
	return out
}

// Request asks a provider for the bars of one symbol in [Start, End].
type Request struct {
	Symbol     string
	Timeframe  domain.Timeframe
	Start      time.Time
	End        time.Time
	Adjustment string // e.g. "raw", "split", "all"
}

// Source is one provider API call. Implementations do not retry and do not
// rate limit; they report failures as *domain.ProviderError when the kind is
// known, any other error is treated as transient.
type Source interface {
	Name() string
	Bars(ctx context.Context, req Request) ([]domain.Bar, error)
	DailyBars(ctx context.Context, req Request) ([]domain.DailyBar, error)
}

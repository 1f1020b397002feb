package us

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"intrabar/internal/util"
)

// settleDelay is how long after the close a session counts as finished, so
// late prints have landed at the provider.
const settleDelay = 5 * time.Minute

// SessionDatesFunc lists the exchange session dates ("2006-01-02") between
// start and end inclusive.
type SessionDatesFunc func(start, end time.Time) ([]string, error)

// AlpacaSessionDates returns a SessionDatesFunc backed by the Alpaca trading
// calendar API, which knows holidays the naive calendar does not. Its
// requests are admitted by gate like every other provider call.
func AlpacaSessionDates(apiKey, apiSecret, baseURL string, gate util.Gate) SessionDatesFunc {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:     apiKey,
		APISecret:  apiSecret,
		BaseURL:    baseURL,
		RetryLimit: sdkRetryOff,
		HTTPClient: gatedHTTPClient(context.Background(), gate, newBaseTransport()),
	})
	return func(start, end time.Time) ([]string, error) {
		days, err := client.GetCalendar(alpaca.GetCalendarRequest{
			Start: start,
			End:   end,
		})
		if err != nil {
			return nil, fmt.Errorf("GetCalendar: %w", err)
		}
		out := make([]string, 0, len(days))
		for _, d := range days {
			out = append(out, d.Date)
		}
		return out, nil
	}
}

// LatestFinishedTradingDay returns local midnight of the most recent session
// that had closed, plus settleDelay, by now.
func LatestFinishedTradingDay(now time.Time, cal *util.TradingCalendar, dates SessionDatesFunc) (time.Time, error) {
	loc := cal.Location()
	now = now.In(loc)

	calendar, err := dates(now.AddDate(0, 0, -10), now)
	if err != nil {
		return time.Time{}, err
	}
	if len(calendar) == 0 {
		return time.Time{}, fmt.Errorf("no trading days returned from calendar")
	}

	for i := len(calendar) - 1; i >= 0; i-- {
		day, err := time.ParseInLocation("2006-01-02", calendar[i], loc)
		if err != nil {
			continue
		}
		if finished(now, day, cal) {
			return day, nil
		}
	}
	return time.Time{}, fmt.Errorf("could not determine latest finished trading day")
}

// NaiveLatestFinishedTradingDay is LatestFinishedTradingDay using only the
// weekday calendar.
func NaiveLatestFinishedTradingDay(now time.Time, cal *util.TradingCalendar) time.Time {
	today := cal.SessionDate(now)
	if cal.IsTradingDay(today) && finished(now, today, cal) {
		return today
	}
	return cal.PreviousTradingDay(now)
}

func finished(now, day time.Time, cal *util.TradingCalendar) bool {
	sessions, err := cal.Sessions(day, day)
	if err != nil || len(sessions) == 0 {
		// Holiday-aware sources may list a date the naive calendar rejects;
		// treat it as finished once the day itself is over.
		return !now.Before(day.AddDate(0, 0, 1))
	}
	return !now.Before(sessions[0].Close.Add(settleDelay))
}

// ParseDate parses a "2006-01-02" date as local midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return t, nil
}

// EndOfDay returns the last instant of the local date of t.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location()).Add(-time.Nanosecond)
}

// ResolveEndDate returns the end of the run range. An explicit endDate wins;
// otherwise the latest finished session from dates is used, falling back to
// the naive calendar when dates is nil or fails.
func ResolveEndDate(endDate string, now time.Time, cal *util.TradingCalendar, dates SessionDatesFunc, log *slog.Logger) (time.Time, error) {
	if endDate != "" {
		d, err := ParseDate(endDate, cal.Location())
		if err != nil {
			return time.Time{}, err
		}
		return EndOfDay(d), nil
	}
	if dates != nil {
		d, err := LatestFinishedTradingDay(now, cal, dates)
		if err == nil {
			return EndOfDay(d), nil
		}
		if log != nil {
			log.Warn("trading calendar unavailable, using weekday calendar", "error", err)
		}
	}
	return EndOfDay(NaiveLatestFinishedTradingDay(now, cal)), nil
}

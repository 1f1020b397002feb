package util

import (
	"fmt"
	"time"

	"intrabar/internal/domain"
)

// TradingCalendar decides which timestamps are expected to carry a bar. It
// is a naive weekday calendar: Monday to Friday are sessions, exchange
// holidays and half days are not modeled, so they surface as gaps.
//
// Every session is built from local civil time in the exchange location, so
// DST transitions shift the UTC offset without moving the local window.
type TradingCalendar struct {
	loc       *time.Location
	openMins  int // minutes after local midnight
	closeMins int
}

// NewTradingCalendar creates a calendar for the given IANA timezone and
// "HH:MM" session window, e.g. ("America/New_York", "09:30", "16:00").
func NewTradingCalendar(timezone, open, close string) (*TradingCalendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &domain.CalendarError{Reason: fmt.Sprintf("loading timezone %q: %v", timezone, err)}
	}
	o, err := parseClock(open)
	if err != nil {
		return nil, err
	}
	c, err := parseClock(close)
	if err != nil {
		return nil, err
	}
	if c <= o {
		return nil, &domain.CalendarError{Reason: fmt.Sprintf("session close %s not after open %s", close, open)}
	}
	return &TradingCalendar{loc: loc, openMins: o, closeMins: c}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, &domain.CalendarError{Reason: fmt.Sprintf("parsing session time %q: %v", s, err)}
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the exchange timezone.
func (tc *TradingCalendar) Location() *time.Location { return tc.loc }

// SessionDate returns local midnight of the exchange date containing ts.
func (tc *TradingCalendar) SessionDate(ts time.Time) time.Time {
	l := ts.In(tc.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, tc.loc)
}

// IsTradingDay reports whether the exchange date of ts is a weekday.
func (tc *TradingCalendar) IsTradingDay(ts time.Time) bool {
	switch ts.In(tc.loc).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// session builds the session for the local date of day.
func (tc *TradingCalendar) session(day time.Time) domain.TradingSession {
	d := tc.SessionDate(day)
	return domain.TradingSession{
		Date:  d,
		Open:  time.Date(d.Year(), d.Month(), d.Day(), 0, tc.openMins, 0, 0, tc.loc),
		Close: time.Date(d.Year(), d.Month(), d.Day(), 0, tc.closeMins, 0, 0, tc.loc),
	}
}

// Sessions returns every session whose date falls within the local dates of
// [start, end], in order.
func (tc *TradingCalendar) Sessions(start, end time.Time) ([]domain.TradingSession, error) {
	if start.After(end) {
		return nil, &domain.CalendarError{Reason: fmt.Sprintf("start %s after end %s",
			start.Format(time.RFC3339), end.Format(time.RFC3339))}
	}
	var out []domain.TradingSession
	last := tc.SessionDate(end)
	for d := tc.SessionDate(start); !d.After(last); d = d.AddDate(0, 0, 1) {
		if tc.IsTradingDay(d) {
			out = append(out, tc.session(d))
		}
	}
	return out, nil
}

// InSession reports whether ts lies inside [open, close) of a session.
func (tc *TradingCalendar) InSession(ts time.Time) bool {
	if !tc.IsTradingDay(ts) {
		return false
	}
	s := tc.session(ts)
	return !ts.Before(s.Open) && ts.Before(s.Close)
}

// IsExpected reports whether a bar of timeframe tf is expected at ts.
func (tc *TradingCalendar) IsExpected(ts time.Time, tf domain.Timeframe) bool {
	if !tf.Valid() || !tc.IsTradingDay(ts) {
		return false
	}
	if tf == domain.OneDay {
		return ts.Equal(tc.SessionDate(ts))
	}
	if !tc.InSession(ts) {
		return false
	}
	off := ts.Sub(tc.session(ts).Open)
	return off%tf.Step() == 0
}

// BarsPerSession is the number of bars of timeframe tf in a full session.
func (tc *TradingCalendar) BarsPerSession(tf domain.Timeframe) int {
	if tf == domain.OneDay {
		return 1
	}
	if !tf.Valid() {
		return 0
	}
	return int(time.Duration(tc.closeMins-tc.openMins) * time.Minute / tf.Step())
}

// ExpectedTimestamps returns, in order, every timestamp within [start, end]
// at which a bar of timeframe tf should exist. Intraday bars are keyed by
// their start time, so a session yields open, open+step, ..., close-step.
// Daily bars are keyed by local midnight of the session date.
func (tc *TradingCalendar) ExpectedTimestamps(start, end time.Time, tf domain.Timeframe) ([]time.Time, error) {
	if !tf.Valid() {
		return nil, &domain.CalendarError{Reason: fmt.Sprintf("unknown timeframe %q", tf)}
	}
	sessions, err := tc.Sessions(start, end)
	if err != nil {
		return nil, err
	}

	if tf == domain.OneDay {
		out := make([]time.Time, 0, len(sessions))
		for _, s := range sessions {
			out = append(out, s.Date)
		}
		return out, nil
	}

	out := make([]time.Time, 0, len(sessions)*tc.BarsPerSession(tf))
	step := tf.Step()
	for _, s := range sessions {
		for ts := s.Open; ts.Before(s.Close); ts = ts.Add(step) {
			if ts.Before(start) || ts.After(end) {
				continue
			}
			out = append(out, ts)
		}
	}
	return out, nil
}

// PreviousTradingDay returns local midnight of the last weekday strictly
// before the exchange date of t.
func (tc *TradingCalendar) PreviousTradingDay(t time.Time) time.Time {
	d := tc.SessionDate(t).AddDate(0, 0, -1)
	for !tc.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

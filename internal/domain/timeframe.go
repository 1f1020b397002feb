package domain

import (
	"fmt"
	"time"
)

// Timeframe is a bar granularity.
type Timeframe string

const (
	OneMin  Timeframe = "1Min"
	FiveMin Timeframe = "5Min"
	OneDay  Timeframe = "1Day"
)

// ParseTimeframe accepts the canonical names plus a few common aliases.
func ParseTimeframe(s string) (Timeframe, error) {
	switch s {
	case "1Min", "1min", "1m":
		return OneMin, nil
	case "5Min", "5min", "5m":
		return FiveMin, nil
	case "1Day", "1day", "1d", "day":
		return OneDay, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Step is the nominal distance between consecutive bars. For OneDay it is
// 24h, but Next should be used for stepping across DST transitions.
func (tf Timeframe) Step() time.Duration {
	switch tf {
	case OneMin:
		return time.Minute
	case FiveMin:
		return 5 * time.Minute
	case OneDay:
		return 24 * time.Hour
	}
	return 0
}

// Intraday reports whether bars of this timeframe live inside a session.
func (tf Timeframe) Intraday() bool {
	return tf == OneMin || tf == FiveMin
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	return tf.Step() > 0
}

// Next returns the timestamp one step after t. Daily steps advance the civil
// date in t's location so local midnight stays local midnight.
func (tf Timeframe) Next(t time.Time) time.Time {
	if tf == OneDay {
		return t.AddDate(0, 0, 1)
	}
	return t.Add(tf.Step())
}

func (tf Timeframe) String() string { return string(tf) }

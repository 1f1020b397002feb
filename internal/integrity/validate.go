package integrity

import (
	"errors"
	"time"

	"intrabar/internal/domain"
)

// SessionChecker decides whether a bar is expected at a timestamp.
// *util.TradingCalendar implements it.
type SessionChecker interface {
	IsExpected(ts time.Time, tf domain.Timeframe) bool
}

// Rejection is a fetched bar that will not be stored, with the reason.
type Rejection struct {
	Bar    domain.Bar
	Reason string
}

// Partition splits fetched bars into those safe to store and those to drop.
// A bar is kept only if it lies in [start, end], sits on an expected session
// timestamp, passes Bar.Validate and is the first bar seen at its timestamp.
func Partition(bars []domain.Bar, start, end time.Time, tf domain.Timeframe, cal SessionChecker) (valid []domain.Bar, rejected []Rejection) {
	seen := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		switch {
		case b.Timestamp.Before(start) || b.Timestamp.After(end):
			rejected = append(rejected, Rejection{Bar: b, Reason: "outside requested span"})
		case !cal.IsExpected(b.Timestamp, tf):
			rejected = append(rejected, Rejection{Bar: b, Reason: "not an expected session timestamp"})
		default:
			if err := b.Validate(); err != nil {
				reason := err.Error()
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					reason = ve.Reason
				}
				rejected = append(rejected, Rejection{Bar: b, Reason: reason})
				continue
			}
			key := b.Timestamp.UnixNano()
			if _, dup := seen[key]; dup {
				rejected = append(rejected, Rejection{Bar: b, Reason: "duplicate timestamp"})
				continue
			}
			seen[key] = struct{}{}
			valid = append(valid, b)
		}
	}
	return valid, rejected
}

// RejectionCounts tallies rejections by reason for logging.
func RejectionCounts(rejected []Rejection) map[string]int {
	counts := make(map[string]int)
	for _, r := range rejected {
		counts[r.Reason]++
	}
	return counts
}

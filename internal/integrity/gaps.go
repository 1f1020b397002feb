// Package integrity checks a stored bar series against the trading calendar
// and a secondary daily source: gap detection, batch validation of fetched
// bars and close-price reconciliation. Everything here is pure.
package integrity

import (
	"sort"
	"time"

	"intrabar/internal/domain"
)

// DetectGaps returns the maximal runs of expected timestamps that are absent
// from stored, sorted by start. Two missing timestamps belong to the same
// span only when the second is exactly one timeframe step after the first,
// so spans never cross a session boundary. Stored timestamps outside the
// expected set are ignored.
func DetectGaps(symbol string, tf domain.Timeframe, expected, stored []time.Time) []domain.GapSpan {
	if len(expected) == 0 {
		return nil
	}
	if !sort.SliceIsSorted(expected, func(i, j int) bool { return expected[i].Before(expected[j]) }) {
		expected = append([]time.Time(nil), expected...)
		sort.Slice(expected, func(i, j int) bool { return expected[i].Before(expected[j]) })
	}

	have := make(map[int64]struct{}, len(stored))
	for _, ts := range stored {
		have[ts.UnixNano()] = struct{}{}
	}

	var (
		spans []domain.GapSpan
		cur   *domain.GapSpan
	)
	for _, ts := range expected {
		if _, ok := have[ts.UnixNano()]; ok {
			cur = nil
			continue
		}
		if cur != nil && tf.Next(cur.End).Equal(ts) {
			cur.End = ts
			cur.Missing++
			continue
		}
		spans = append(spans, domain.GapSpan{Symbol: symbol, Start: ts, End: ts, Missing: 1})
		cur = &spans[len(spans)-1]
	}
	return spans
}

// Timestamps extracts bar timestamps.
func Timestamps(bars []domain.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Timestamp
	}
	return out
}

// Within returns the sub-slice of the sorted slice ts that lies in
// [start, end].
func Within(ts []time.Time, start, end time.Time) []time.Time {
	lo := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(start) })
	hi := sort.Search(len(ts), func(i int) bool { return ts[i].After(end) })
	if lo >= hi {
		return nil
	}
	return ts[lo:hi]
}

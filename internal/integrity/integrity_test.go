package integrity

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"intrabar/internal/domain"
	"intrabar/internal/util"
)

func newYorkCalendar(t *testing.T) *util.TradingCalendar {
	t.Helper()
	cal, err := util.NewTradingCalendar("America/New_York", "09:30", "16:00")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return cal
}

// ---------------------------------------------------------------------------
// DetectGaps
// ---------------------------------------------------------------------------

func TestDetectGapsCoalescesInteriorRun(t *testing.T) {
	T := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	step := 5 * time.Minute
	expected := []time.Time{T, T.Add(step), T.Add(2 * step), T.Add(3 * step)}
	stored := []time.Time{T, T.Add(3 * step)}

	spans := DetectGaps("AAPL", domain.FiveMin, expected, stored)
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1: %v", len(spans), spans)
	}
	got := spans[0]
	if !got.Start.Equal(T.Add(step)) || !got.End.Equal(T.Add(2*step)) || got.Missing != 2 {
		t.Errorf("span = %v, want [T+5m..T+10m] with 2 missing", got)
	}
	if got.Symbol != "AAPL" {
		t.Errorf("span symbol = %q", got.Symbol)
	}
}

func TestDetectGapsSeparatedByPresentBar(t *testing.T) {
	T := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	step := 5 * time.Minute
	expected := []time.Time{T, T.Add(step), T.Add(2 * step)}
	stored := []time.Time{T.Add(step)}

	spans := DetectGaps("AAPL", domain.FiveMin, expected, stored)
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2: %v", len(spans), spans)
	}
	if spans[0].Missing != 1 || spans[1].Missing != 1 {
		t.Errorf("spans = %v, want two single-bar spans", spans)
	}
}

func TestDetectGapsSplitsAtSessionBoundary(t *testing.T) {
	cal := newYorkCalendar(t)
	loc := cal.Location()
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, loc)
	end := time.Date(2024, 6, 4, 23, 59, 0, 0, loc)
	expected, err := cal.ExpectedTimestamps(start, end, domain.FiveMin)
	if err != nil {
		t.Fatal(err)
	}

	spans := DetectGaps("MSFT", domain.FiveMin, expected, nil)
	if len(spans) != 2 {
		t.Fatalf("empty store over two sessions gave %d spans, want 2", len(spans))
	}
	for i, s := range spans {
		if s.Missing != 78 {
			t.Errorf("span %d missing %d, want 78", i, s.Missing)
		}
		if l := s.Start.In(loc); l.Hour() != 9 || l.Minute() != 30 {
			t.Errorf("span %d starts %v, want 09:30", i, l)
		}
		if l := s.End.In(loc); l.Hour() != 15 || l.Minute() != 55 {
			t.Errorf("span %d ends %v, want 15:55", i, l)
		}
	}
	if !spans[0].End.Before(spans[1].Start) {
		t.Error("spans not sorted and disjoint")
	}
}

func TestDetectGapsIgnoresUnexpectedStored(t *testing.T) {
	T := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	expected := []time.Time{T, T.Add(5 * time.Minute)}
	stored := []time.Time{T, T.Add(5 * time.Minute), T.Add(-time.Hour), T.Add(2 * time.Minute)}

	if spans := DetectGaps("AAPL", domain.FiveMin, expected, stored); len(spans) != 0 {
		t.Errorf("got spans %v, want none", spans)
	}
}

func TestDetectGapsMatchesAcrossLocations(t *testing.T) {
	cal := newYorkCalendar(t)
	ts := time.Date(2024, 6, 3, 9, 30, 0, 0, cal.Location())
	// Stores return UTC; the calendar works in exchange time.
	if spans := DetectGaps("AAPL", domain.FiveMin, []time.Time{ts}, []time.Time{ts.UTC()}); len(spans) != 0 {
		t.Errorf("same instant in different locations treated as missing: %v", spans)
	}
}

func TestWithin(t *testing.T) {
	T := time.Date(2024, 6, 3, 13, 30, 0, 0, time.UTC)
	ts := []time.Time{T, T.Add(time.Minute), T.Add(2 * time.Minute), T.Add(3 * time.Minute)}
	got := Within(ts, T.Add(time.Minute), T.Add(2*time.Minute))
	if len(got) != 2 || !got[0].Equal(ts[1]) {
		t.Errorf("Within = %v", got)
	}
	if got := Within(ts, T.Add(time.Hour), T.Add(2*time.Hour)); got != nil {
		t.Errorf("Within outside range = %v, want nil", got)
	}
}

// ---------------------------------------------------------------------------
// Partition
// ---------------------------------------------------------------------------

func TestPartition(t *testing.T) {
	cal := newYorkCalendar(t)
	loc := cal.Location()
	at := func(h, m int) time.Time { return time.Date(2024, 6, 3, h, m, 0, 0, loc) }
	bar := func(ts time.Time) domain.Bar {
		return domain.Bar{Symbol: "AAPL", Timestamp: ts, Open: 10, High: 11, Low: 9, Close: 10, Volume: 100}
	}

	bad := bar(at(9, 40))
	bad.High = math.NaN()
	inverted := bar(at(9, 45))
	inverted.Low = 12

	bars := []domain.Bar{
		bar(at(9, 30)),
		bar(at(9, 35)),
		bar(at(9, 35)), // duplicate
		bad,
		inverted,
		bar(at(9, 32)),  // off-grid for 5Min
		bar(at(8, 0)),   // pre-market and outside span
		bar(at(10, 30)), // after span end
	}

	valid, rejected := Partition(bars, at(9, 30), at(10, 0), domain.FiveMin, cal)
	if len(valid) != 2 {
		t.Fatalf("kept %d bars, want 2: %+v", len(valid), valid)
	}
	if len(rejected) != 6 {
		t.Fatalf("rejected %d bars, want 6", len(rejected))
	}
	counts := RejectionCounts(rejected)
	if counts["duplicate timestamp"] != 1 {
		t.Errorf("duplicate rejections = %d, want 1", counts["duplicate timestamp"])
	}
	if counts["outside requested span"] != 2 {
		t.Errorf("outside-span rejections = %d, want 2", counts["outside requested span"])
	}
	if counts["not an expected session timestamp"] != 1 {
		t.Errorf("off-grid rejections = %d, want 1", counts["not an expected session timestamp"])
	}
}

// ---------------------------------------------------------------------------
// Reconcile
// ---------------------------------------------------------------------------

func TestReconcileTolerance(t *testing.T) {
	cal := newYorkCalendar(t)
	loc := cal.Location()
	date := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		intraClose float64
		dailyClose float64
		wantFlag   bool
	}{
		{"within tolerance", 100.00, 100.005, false},
		{"beyond tolerance", 100.00, 100.02, true},
		{"exactly at tolerance", 100.00, 100.01, false},
		{"identical", 187.25, 187.25, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intraday := []domain.Bar{
				{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 3, 15, 50, 0, 0, loc), Close: 1},
				{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 3, 15, 55, 0, 0, loc), Close: tt.intraClose},
			}
			daily := []domain.DailyBar{{Symbol: "AAPL", Date: date, Close: tt.dailyClose}}

			flags := Reconcile("AAPL", intraday, daily, DefaultTolerance, loc)
			if got := len(flags) == 1; got != tt.wantFlag {
				t.Fatalf("flags = %v, want flag=%v", flags, tt.wantFlag)
			}
			if tt.wantFlag && flags[0].Kind != domain.FlagPriceMismatch {
				t.Errorf("flag kind = %s, want price_mismatch", flags[0].Kind)
			}
		})
	}
}

func TestReconcileMissingClose(t *testing.T) {
	cal := newYorkCalendar(t)
	loc := cal.Location()
	intraday := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 3, 15, 55, 0, 0, loc), Close: 100},
	}
	daily := []domain.DailyBar{
		{Symbol: "AAPL", Date: time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC), Close: 101},
		{Symbol: "AAPL", Date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), Close: 100},
	}

	flags := Reconcile("AAPL", intraday, daily, DefaultTolerance, loc)
	if len(flags) != 1 {
		t.Fatalf("flags = %v, want exactly one", flags)
	}
	if flags[0].Kind != domain.FlagMissingClose || flags[0].Date.Day() != 4 {
		t.Errorf("flag = %v, want missing_close on Jun 4", flags[0])
	}
}

func TestReconcileUsesExchangeDate(t *testing.T) {
	cal := newYorkCalendar(t)
	loc := cal.Location()
	// 15:55 New York on Jun 3 is 19:55 UTC, still Jun 3 in both zones, but
	// an after-hours UTC stamp from Jun 4 00:30 belongs to Jun 3 locally.
	intraday := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 3, 19, 55, 0, 0, time.UTC), Close: 100},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 6, 4, 0, 30, 0, 0, time.UTC), Close: 105},
	}
	daily := []domain.DailyBar{{Symbol: "AAPL", Date: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC), Close: 105}}

	if flags := Reconcile("AAPL", intraday, daily, decimal.Zero, loc); len(flags) != 0 {
		t.Errorf("flags = %v, want none: last local bar closes at 105", flags)
	}
}

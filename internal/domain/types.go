// Package domain defines the core value types shared across intrabar: bars,
// timeframes, gap spans, reconciliation flags and quality reports.
package domain

import (
	"fmt"
	"math"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single OHLCV bar keyed by (Symbol, Timestamp). For intraday
// timeframes Timestamp is the bar start time.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64   // 0 when the provider does not report it
	VWAP       float64 // 0 when the provider does not report it
}

// Validate checks the per-bar invariants: finite non-negative prices, low at
// or below open and close, high at or above them, non-negative volume.
func (b Bar) Validate() error {
	prices := [...]struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}}
	for _, p := range prices {
		if math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: p.name + " not finite"}
		}
		if p.v < 0 {
			return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: p.name + " negative"}
		}
	}
	if math.IsNaN(b.VWAP) || math.IsInf(b.VWAP, 0) || b.VWAP < 0 {
		return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "vwap invalid"}
	}
	if b.Volume < 0 {
		return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "volume negative"}
	}
	if b.Low > b.High {
		return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp,
			Reason: fmt.Sprintf("low %.4f above high %.4f", b.Low, b.High)}
	}
	if b.Open < b.Low || b.Open > b.High {
		return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "open outside low-high range"}
	}
	if b.Close < b.Low || b.Close > b.High {
		return &ValidationError{Symbol: b.Symbol, Timestamp: b.Timestamp, Reason: "close outside low-high range"}
	}
	return nil
}

// DailyBar is one row of the secondary daily table, keyed by (Symbol, Date).
// Date is the exchange session date as a civil date at UTC midnight.
type DailyBar struct {
	Symbol   string
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
	Volume   int64
}

// TradingSession is one exchange session, computed on demand.
type TradingSession struct {
	Date  time.Time // local midnight
	Open  time.Time
	Close time.Time
}

// GapSpan is a maximal run of consecutive expected timestamps that are
// missing from storage. Start and End are both inclusive.
type GapSpan struct {
	Symbol  string
	Start   time.Time
	End     time.Time
	Missing int
}

func (g GapSpan) String() string {
	return fmt.Sprintf("%s[%s..%s]#%d", g.Symbol,
		g.Start.Format(time.RFC3339), g.End.Format(time.RFC3339), g.Missing)
}

// FlagKind classifies a reconciliation disagreement.
type FlagKind string

const (
	FlagMissingClose  FlagKind = "missing_close"
	FlagPriceMismatch FlagKind = "price_mismatch"
)

// ReconciliationFlag records a disagreement between the intraday series and
// the daily table for one session date. Flags are never persisted.
type ReconciliationFlag struct {
	Symbol string
	Date   time.Time
	Kind   FlagKind
	Detail string
}

func (f ReconciliationFlag) String() string {
	return fmt.Sprintf("%s@%s:%s(%s)", f.Symbol, f.Date.Format("2006-01-02"), f.Kind, f.Detail)
}

// QualityStatus is the per-symbol classification outcome.
type QualityStatus string

const (
	StatusOK          QualityStatus = "ok"
	StatusRecoverable QualityStatus = "recoverable"
	StatusProblematic QualityStatus = "problematic"
)

// SymbolState tracks a symbol through one backfill run.
type SymbolState string

const (
	StatePending    SymbolState = "PENDING"
	StateDetecting  SymbolState = "DETECTING"
	StateFetching   SymbolState = "FETCHING"
	StateValidating SymbolState = "VALIDATING"
	StateDone       SymbolState = "DONE"
	StateFailed     SymbolState = "FAILED"
)

// Terminal reports whether no further transition is possible within a run.
func (s SymbolState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// SymbolQualityReport is recomputed in full on every run.
type SymbolQualityReport struct {
	Symbol             string
	Status             QualityStatus
	GapCount           int
	IncompleteDays     int
	InconsistencyCount int
	Spans              []GapSpan
	Flags              []ReconciliationFlag
	State              SymbolState // orchestrator outcome, empty outside a run
	Error              string
}

// Package quality turns gap spans and reconciliation flags into per-symbol
// quality reports, evaluates coverage policies and writes report files.
package quality

import (
	"time"

	"intrabar/internal/domain"
)

// Thresholds bound the damage a symbol may have and still be recoverable.
type Thresholds struct {
	MaxIncompleteDays  int
	MaxInconsistencies int
}

// DefaultThresholds allows five incomplete days and ten inconsistencies.
var DefaultThresholds = Thresholds{MaxIncompleteDays: 5, MaxInconsistencies: 10}

// Classify builds the report for one symbol. A symbol is ok with no gaps and
// no flags, recoverable while both counts stay within the thresholds, and
// problematic otherwise.
func Classify(symbol string, spans []domain.GapSpan, flags []domain.ReconciliationFlag, th Thresholds, loc *time.Location) domain.SymbolQualityReport {
	r := domain.SymbolQualityReport{
		Symbol:             symbol,
		GapCount:           len(spans),
		IncompleteDays:     IncompleteDays(spans, loc),
		InconsistencyCount: len(flags),
		Spans:              spans,
		Flags:              flags,
	}
	switch {
	case r.GapCount == 0 && r.InconsistencyCount == 0:
		r.Status = domain.StatusOK
	case r.IncompleteDays <= th.MaxIncompleteDays && r.InconsistencyCount <= th.MaxInconsistencies:
		r.Status = domain.StatusRecoverable
	default:
		r.Status = domain.StatusProblematic
	}
	return r
}

// IncompleteDays counts the distinct exchange dates touched by any span.
func IncompleteDays(spans []domain.GapSpan, loc *time.Location) int {
	days := make(map[string]struct{})
	for _, s := range spans {
		start := s.Start.In(loc)
		last := s.End.In(loc).Format("2006-01-02")
		for d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc); ; d = d.AddDate(0, 0, 1) {
			key := d.Format("2006-01-02")
			days[key] = struct{}{}
			if key >= last {
				break
			}
		}
	}
	return len(days)
}

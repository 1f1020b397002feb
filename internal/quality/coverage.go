package quality

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"intrabar/internal/domain"
)

// Policy is a named minimum-history requirement. A zero MinDays or
// MinMonths disables that range check.
type Policy struct {
	Name      string
	MinBars   int
	MinDays   int
	MinMonths int
}

// Coverage failure reasons, checked in this order.
const (
	ReasonNoData          = "no data"
	ReasonNoSessionData   = "no data in trading hours"
	ReasonShortRange      = "insufficient date range"
	ReasonInsufficientBar = "insufficient bars"
	ReasonInvalidValues   = "invalid values"
)

// CoverageResult is the outcome of one policy for one symbol.
type CoverageResult struct {
	Symbol string
	Policy string
	Passed bool
	Reason string
	Bars   int
	First  time.Time
	Last   time.Time
	Days   int
}

// SessionFilter reports whether ts falls inside a trading session.
// *util.TradingCalendar implements it.
type SessionFilter interface {
	InSession(ts time.Time) bool
}

// Evaluate checks bars against p. Only bars inside trading sessions count.
func Evaluate(symbol string, bars []domain.Bar, p Policy, cal SessionFilter) CoverageResult {
	res := CoverageResult{Symbol: symbol, Policy: p.Name}
	if len(bars) == 0 {
		res.Reason = ReasonNoData
		return res
	}

	in := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if cal.InSession(b.Timestamp) {
			in = append(in, b)
		}
	}
	if len(in) == 0 {
		res.Reason = ReasonNoSessionData
		return res
	}

	res.Bars = len(in)
	res.First, res.Last = in[0].Timestamp, in[0].Timestamp
	for _, b := range in[1:] {
		if b.Timestamp.Before(res.First) {
			res.First = b.Timestamp
		}
		if b.Timestamp.After(res.Last) {
			res.Last = b.Timestamp
		}
	}
	res.Days = int(res.Last.Sub(res.First).Hours() / 24)

	switch {
	case p.MinDays > 0 && res.Days < p.MinDays,
		p.MinMonths > 0 && res.Last.Before(res.First.AddDate(0, p.MinMonths, 0)):
		res.Reason = ReasonShortRange
		return res
	case res.Bars < p.MinBars:
		res.Reason = ReasonInsufficientBar
		return res
	}

	for _, b := range in {
		if err := b.Validate(); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				res.Reason = fmt.Sprintf("%s: %s", ReasonInvalidValues, ve.Reason)
			} else {
				res.Reason = ReasonInvalidValues
			}
			return res
		}
	}

	res.Passed = true
	return res
}

// WriteCoverageCSV writes coverage results to path.
func WriteCoverageCSV(path string, results []CoverageResult) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating coverage report %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"symbol", "policy", "status", "reason", "bars", "first", "last", "days"}); err != nil {
		return err
	}
	for _, r := range results {
		status := "invalid"
		if r.Passed {
			status = "valid"
		}
		first, last := "", ""
		if !r.First.IsZero() {
			first = r.First.UTC().Format(time.RFC3339)
			last = r.Last.UTC().Format(time.RFC3339)
		}
		row := []string{r.Symbol, r.Policy, status, r.Reason,
			strconv.Itoa(r.Bars), first, last, strconv.Itoa(r.Days)}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

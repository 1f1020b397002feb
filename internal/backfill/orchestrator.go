// Package backfill drives gap repair for a symbol universe: detect missing
// bars, fetch them through the rate-limited client, validate and upsert,
// then hand each symbol to the quality assessment.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"intrabar/internal/domain"
	"intrabar/internal/gather"
	"intrabar/internal/integrity"
	"intrabar/internal/store"
	"intrabar/internal/util"
)

// Fetcher retrieves bars for one request. *gather.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req gather.Request) ([]domain.Bar, error)
}

// Orchestrator runs one backfill pass over a set of symbols.
type Orchestrator struct {
	Store      store.BarStore
	Fetcher    Fetcher
	Cal        *util.TradingCalendar
	Timeframe  domain.Timeframe
	Adjustment string
	Workers    int
	// RunBudget bounds the whole run. When it expires, symbols still
	// fetching stop issuing requests and end FAILED with their remaining
	// spans unresolved. Zero means no budget.
	RunBudget time.Duration
	Log       *slog.Logger

	now func() time.Time
}

// SymbolResult is the outcome of one symbol. A FAILED symbol always has at
// least one unresolved span.
type SymbolResult struct {
	Symbol     string
	State      domain.SymbolState
	Spans      []domain.GapSpan // detected before fetching
	Unresolved []domain.GapSpan // failed to fetch or store; the whole range if the store could not be read
	Unfilled   []domain.GapSpan // fetched, but the provider had no bars
	Upserted   int
	Batches    int
	Dropped    map[string]int // rejected bars by reason
	Err        error
}

// RunResult summarizes a run.
type RunResult struct {
	RunID        string
	Start        time.Time
	End          time.Time
	Expected     []time.Time
	Results      []SymbolResult
	UpsertCalls  int
	UpsertedRows int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Failed returns the symbols that ended FAILED.
func (r *RunResult) Failed() []string {
	var out []string
	for _, s := range r.Results {
		if s.State == domain.StateFailed {
			out = append(out, s.Symbol)
		}
	}
	return out
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

// Run backfills symbols over [start, end]. A symbol's failure never affects
// another symbol. Only an invalid range or timeframe, reported as
// *domain.CalendarError, fails the run as a whole. Cancelling ctx stops new
// fetches; symbols interrupted that way end FAILED.
func (o *Orchestrator) Run(ctx context.Context, symbols []string, start, end time.Time) (*RunResult, error) {
	expected, err := o.Cal.ExpectedTimestamps(start, end, o.Timeframe)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		RunID:     uuid.NewString(),
		Start:     start,
		End:       end,
		Expected:  expected,
		StartedAt: o.clock(),
	}
	log := o.logger().With("run_id", res.RunID)

	symbols = dedupe(symbols)
	res.Results = make([]SymbolResult, len(symbols))
	for i, sym := range symbols {
		res.Results[i] = SymbolResult{Symbol: sym, State: domain.StatePending}
	}

	// The budget only stops fetching; reads and writes already underway
	// finish against the caller's ctx.
	fetchCtx := ctx
	if o.RunBudget > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, o.RunBudget)
		defer cancel()
	}

	log.Info("backfill started",
		"symbols", len(symbols),
		"timeframe", o.Timeframe.String(),
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
		"expected_per_symbol", len(expected),
	)

	var g errgroup.Group
	g.SetLimit(max(o.Workers, 1))
	for i := range res.Results {
		r := &res.Results[i]
		g.Go(func() error {
			o.runSymbol(ctx, fetchCtx, r, expected, log)
			return nil
		})
	}
	g.Wait()

	res.FinishedAt = o.clock()
	done := 0
	for _, r := range res.Results {
		res.UpsertCalls += r.Batches
		res.UpsertedRows += r.Upserted
		if r.State == domain.StateDone {
			done++
		}
	}
	log.Info("backfill finished",
		"done", done,
		"failed", len(res.Results)-done,
		"upsert_calls", res.UpsertCalls,
		"upserted_rows", res.UpsertedRows,
		"elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
	)
	return res, nil
}

// runSymbol moves one symbol through DETECTING, FETCHING and VALIDATING to a
// terminal state.
func (o *Orchestrator) runSymbol(ctx, fetchCtx context.Context, r *SymbolResult, expected []time.Time, log *slog.Logger) {
	log = log.With("symbol", r.Symbol)
	fail := func(err error) {
		r.State = domain.StateFailed
		r.Err = err
		log.Error("symbol failed", "err", err, "unresolved", len(r.Unresolved))
	}

	if len(expected) == 0 {
		r.State = domain.StateDone
		return
	}
	// Failing before detection leaves the whole range unverified.
	failUnread := func(err error) {
		r.Unresolved = integrity.DetectGaps(r.Symbol, o.Timeframe, expected, nil)
		fail(err)
	}

	if err := ctx.Err(); err != nil {
		failUnread(err)
		return
	}

	// DETECTING
	r.State = domain.StateDetecting
	stored, err := o.Store.BarsFor(ctx, r.Symbol)
	if err != nil {
		failUnread(err)
		return
	}
	r.Spans = integrity.DetectGaps(r.Symbol, o.Timeframe, expected, integrity.Timestamps(stored))
	if len(r.Spans) == 0 {
		r.State = domain.StateDone
		log.Debug("no gaps")
		return
	}
	log.Info("gaps detected", "spans", len(r.Spans), "missing", missingBars(r.Spans))

	var firstErr error
	for i, span := range r.Spans {
		// FETCHING
		r.State = domain.StateFetching
		if err := fetchCtx.Err(); err != nil {
			r.Unresolved = append(r.Unresolved, r.Spans[i:]...)
			if firstErr == nil {
				firstErr = fmt.Errorf("stopped before fetching %d span(s): %w", len(r.Spans)-i, err)
			}
			break
		}
		bars, err := o.Fetcher.Fetch(fetchCtx, gather.Request{
			Symbol:     r.Symbol,
			Timeframe:  o.Timeframe,
			Start:      span.Start,
			End:        span.End,
			Adjustment: o.Adjustment,
		})
		if err != nil {
			log.Warn("span fetch failed", "span", span.String(), "err", err)
			r.Unresolved = append(r.Unresolved, span)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		// VALIDATING
		r.State = domain.StateValidating
		valid, rejected := integrity.Partition(bars, span.Start, span.End, o.Timeframe, o.Cal)
		if len(rejected) > 0 {
			counts := integrity.RejectionCounts(rejected)
			if r.Dropped == nil {
				r.Dropped = make(map[string]int)
			}
			for reason, n := range counts {
				r.Dropped[reason] += n
			}
			log.Warn("dropped fetched bars", "span", span.String(), "reasons", counts)
		}
		if len(valid) > 0 {
			if err := o.Store.UpsertBars(ctx, r.Symbol, valid); err != nil {
				r.Unresolved = append(r.Unresolved, r.Spans[i:]...)
				fail(err)
				return
			}
			r.Batches++
			r.Upserted += len(valid)
		}

		// An empty or partial answer is a valid outcome; what the provider
		// could not supply is left for the quality report.
		r.Unfilled = append(r.Unfilled, integrity.DetectGaps(r.Symbol, o.Timeframe,
			integrity.Within(expected, span.Start, span.End), integrity.Timestamps(valid))...)
	}

	if len(r.Unresolved) == 0 {
		r.State = domain.StateDone
		log.Info("symbol done", "upserted", r.Upserted, "unfilled", missingBars(r.Unfilled))
		return
	}
	fail(firstErr)
}

func missingBars(spans []domain.GapSpan) int {
	n := 0
	for _, s := range spans {
		n += s.Missing
	}
	return n
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// IsFatal reports whether err from Run aborted the whole run.
func IsFatal(err error) bool {
	var ce *domain.CalendarError
	return errors.As(err, &ce)
}

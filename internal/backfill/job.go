package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"intrabar/internal/domain"
	"intrabar/internal/quality"
	"intrabar/internal/store"
)

// Outputs names the files a run writes. Empty fields are skipped.
type Outputs struct {
	CSVPath     string
	ParquetPath string
	ExportDir   string // ok and recoverable symbols are copied here
}

// Job is one complete pass: backfill, assess every symbol, write reports
// and export the usable symbols.
type Job struct {
	Orchestrator *Orchestrator
	Assessor     *quality.Assessor
	Store        store.Store
	Outputs      Outputs
	Log          *slog.Logger

	// Symbols resolves the universe at the start of every run.
	Symbols func(ctx context.Context) ([]string, error)
	// Range resolves [start, end] at the start of every run.
	Range func(now time.Time) (start, end time.Time, err error)
}

// Report is what a Job produces.
type Report struct {
	Run      *RunResult
	Symbols  []domain.SymbolQualityReport
	Exported []string
}

func (j *Job) logger() *slog.Logger {
	if j.Log != nil {
		return j.Log
	}
	return slog.Default()
}

// Run executes the job once. Every attempted symbol gets a quality report,
// FAILED ones included; errors are returned only for a fatal range problem
// or when an output file cannot be written.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	symbols, err := j.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving symbols: %w", err)
	}
	start, end, err := j.Range(time.Now())
	if err != nil {
		return nil, fmt.Errorf("resolving range: %w", err)
	}

	run, err := j.Orchestrator.Run(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	log := j.logger().With("run_id", run.RunID)

	rep := &Report{Run: run}
	for _, r := range run.Results {
		// Assessment reads through the caller's ctx even after a budget
		// cut, so the report covers every attempted symbol.
		q := j.Assessor.Assess(context.WithoutCancel(ctx), r.Symbol, run.Expected, start, end)
		q.State = r.State
		if r.Err != nil {
			if q.Error != "" {
				q.Error = r.Err.Error() + "; " + q.Error
			} else {
				q.Error = r.Err.Error()
			}
		}
		rep.Symbols = append(rep.Symbols, q)
	}

	counts := make(map[domain.QualityStatus]int)
	for _, q := range rep.Symbols {
		counts[q.Status]++
	}
	log.Info("quality assessed",
		"ok", counts[domain.StatusOK],
		"recoverable", counts[domain.StatusRecoverable],
		"problematic", counts[domain.StatusProblematic],
	)

	if p := j.Outputs.CSVPath; p != "" {
		if err := quality.WriteCSV(p, run.RunID, rep.Symbols); err != nil {
			return rep, fmt.Errorf("writing csv report: %w", err)
		}
		log.Info("report written", "path", p)
	}
	if p := j.Outputs.ParquetPath; p != "" {
		if err := quality.WriteParquet(p, run.RunID, rep.Symbols); err != nil {
			return rep, fmt.Errorf("writing parquet report: %w", err)
		}
		log.Info("report written", "path", p)
	}
	if dir := j.Outputs.ExportDir; dir != "" {
		exported, err := Export(context.WithoutCancel(ctx), j.Store, store.NewParquetStore(dir), quality.Usable(rep.Symbols), start, end)
		rep.Exported = exported
		if err != nil {
			return rep, fmt.Errorf("exporting: %w", err)
		}
		log.Info("usable symbols exported", "dir", dir, "symbols", len(exported))
	}
	return rep, nil
}

// Export copies the bars of symbols within [start, end], and their daily
// bars, from src into dst. It returns the symbols copied.
func Export(ctx context.Context, src store.Store, dst store.Store, symbols []string, start, end time.Time) ([]string, error) {
	var out []string
	for _, sym := range symbols {
		bars, err := src.BarsFor(ctx, sym)
		if err != nil {
			return out, err
		}
		inRange := bars[:0]
		for _, b := range bars {
			if !b.Timestamp.Before(start) && !b.Timestamp.After(end) {
				inRange = append(inRange, b)
			}
		}
		if len(inRange) == 0 {
			continue
		}
		if err := dst.UpsertBars(ctx, sym, inRange); err != nil {
			return out, err
		}
		daily, err := src.DailyBarsFor(ctx, sym)
		if err != nil {
			return out, err
		}
		if len(daily) > 0 {
			if err := dst.UpsertDailyBars(ctx, sym, daily); err != nil {
				return out, err
			}
		}
		out = append(out, sym)
	}
	return out, nil
}

// Schedule runs job on the cron expression, evaluated in loc, until ctx is
// done. Runs never overlap: a tick that arrives while a run is going is
// skipped.
func Schedule(ctx context.Context, cron string, loc *time.Location, job func(ctx context.Context)) error {
	s := gocron.NewScheduler(loc)
	s.SingletonModeAll()

	j, err := s.Cron(cron).Do(func() { job(ctx) })
	if err != nil {
		return fmt.Errorf("scheduling %q: %w", cron, err)
	}

	s.StartAsync()
	slog.Info("scheduler started", "cron", cron, "next_run", j.NextRun())
	<-ctx.Done()
	s.Stop()
	slog.Info("scheduler stopped")
	return nil
}

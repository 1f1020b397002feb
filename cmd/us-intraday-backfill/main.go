package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"intrabar/internal/app"
	"intrabar/internal/backfill"
	"intrabar/internal/quality"
)

func main() {
	schedule := flag.Bool("schedule", false, "stay running and backfill on schedule.cron")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "us-intraday-backfill")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	client, err := env.Client(ctx)
	if err != nil {
		log.Fatalf("provider client: %v", err)
	}

	cfg := env.Cfg
	job := &backfill.Job{
		Orchestrator: &backfill.Orchestrator{
			Store:      env.Store,
			Fetcher:    client,
			Cal:        env.Cal,
			Timeframe:  env.Timeframe,
			Adjustment: cfg.Alpaca.Adjustment,
			Workers:    cfg.Backfill.Workers,
			RunBudget:  cfg.Backfill.RunBudget,
			Log:        env.Log,
		},
		Assessor: &quality.Assessor{
			Store: env.Store,
			Cal:   env.Cal,
			TF:    env.Timeframe,
			Thresholds: quality.Thresholds{
				MaxIncompleteDays:  cfg.Quality.MaxIncompleteDays,
				MaxInconsistencies: cfg.Quality.MaxInconsistencies,
			},
			Tolerance: cfg.Quality.Tolerance(),
			Log:       env.Log,
		},
		Store: env.Store,
		Outputs: backfill.Outputs{
			CSVPath:     cfg.Report.CSVPath,
			ParquetPath: cfg.Report.ParquetPath,
			ExportDir:   cfg.Report.ExportDir,
		},
		Log:     env.Log,
		Symbols: env.Symbols,
		Range:   env.Range,
	}

	if !*schedule {
		rep, err := job.Run(ctx)
		if err != nil {
			log.Fatalf("backfill: %v", err)
		}
		if failed := rep.Run.Failed(); len(failed) > 0 {
			slog.Warn("symbols failed", "count", len(failed), "symbols", failed)
		}
		return
	}

	if cfg.Schedule.Cron == "" {
		log.Fatalf("-schedule needs schedule.cron in %s", app.ConfigPath())
	}
	err = backfill.Schedule(ctx, cfg.Schedule.Cron, env.Cal.Location(), func(ctx context.Context) {
		if _, err := job.Run(ctx); err != nil {
			slog.Error("scheduled backfill failed", "err", err)
		}
	})
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}
}

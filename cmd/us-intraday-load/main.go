package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"intrabar/internal/app"
	"intrabar/internal/gather"
	"intrabar/internal/gather/us"
)

func main() {
	truncate := flag.Bool("truncate", false, "wipe both bar tables and the load progress first")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "us-intraday-load")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	client, err := env.Client(ctx)
	if err != nil {
		log.Fatalf("provider client: %v", err)
	}
	symbols, err := env.Symbols(ctx)
	if err != nil {
		log.Fatalf("symbols: %v", err)
	}
	start, end, err := env.Range(time.Now())
	if err != nil {
		log.Fatalf("range: %v", err)
	}

	cfg := env.Cfg
	loader := us.NewIntradayLoader(client, env.Store, env.Cal, us.LoaderConfig{
		Symbols:     symbols,
		Range:       gather.DateRange{Start: start, End: end},
		Timeframe:   env.Timeframe,
		Adjustment:  cfg.Alpaca.Adjustment,
		Workers:     cfg.Backfill.Workers,
		ProgressDir: us.ProgressDir(cfg.Storage.DataDir, env.Timeframe),
		UniverseDir: us.UniverseDir(cfg.Storage.DataDir, env.Timeframe),
		Truncate:    *truncate,
	})

	slog.Info("starting load", "symbols", len(symbols), "truncate", *truncate)
	if err := loader.Run(ctx); err != nil {
		log.Fatalf("load: %v", err)
	}
}

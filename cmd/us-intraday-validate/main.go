package main

import (
	"context"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"intrabar/internal/app"
	"intrabar/internal/quality"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	env, err := app.Setup(ctx, "us-intraday-validate")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()

	cfg := env.Cfg
	policies := make([]quality.Policy, 0, len(cfg.Quality.Coverage))
	for _, p := range cfg.Quality.Coverage {
		policies = append(policies, quality.Policy{Name: p.Name, MinBars: p.MinBars, MinDays: p.MinDays, MinMonths: p.MinMonths})
	}
	if len(policies) == 0 {
		log.Fatalf("no quality.coverage policies in %s", app.ConfigPath())
	}

	symbols, err := env.Store.DistinctSymbols(ctx)
	if err != nil {
		log.Fatalf("symbols: %v", err)
	}

	var results []quality.CoverageResult
	passed := make(map[string]int)
	for _, sym := range symbols {
		if ctx.Err() != nil {
			log.Fatalf("interrupted after %d symbols", len(results)/len(policies))
		}
		bars, err := env.Store.BarsFor(ctx, sym)
		if err != nil {
			log.Fatalf("reading %s: %v", sym, err)
		}
		for _, p := range policies {
			r := quality.Evaluate(sym, bars, p, env.Cal)
			if r.Passed {
				passed[p.Name]++
			}
			results = append(results, r)
		}
	}

	for _, p := range policies {
		slog.Info("coverage evaluated", "policy", p.Name, "symbols", len(symbols), "valid", passed[p.Name])
	}
	if err := quality.WriteCoverageCSV(cfg.Report.ValidationCSVPath, results); err != nil {
		log.Fatalf("writing %s: %v", cfg.Report.ValidationCSVPath, err)
	}
	slog.Info("validation report written", "path", cfg.Report.ValidationCSVPath)
}

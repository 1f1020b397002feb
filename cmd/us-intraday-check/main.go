// Command us-intraday-check inspects the configured store.
//
//	us-intraday-check ping
//	us-intraday-check count SYMBOL
//	us-intraday-check symbols
//	us-intraday-check truncate intraday_bars|daily_bars
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"intrabar/internal/app"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: us-intraday-check ping | count SYMBOL | symbols | truncate TABLE")
	os.Exit(2)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	ctx := context.Background()
	env, err := app.Setup(ctx, "us-intraday-check")
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	defer env.Close()
	s := env.Store

	switch args[0] {
	case "ping":
		if err := s.Ping(ctx); err != nil {
			log.Fatalf("ping %s: %v", env.Cfg.Storage.Driver, err)
		}
		fmt.Printf("%s store reachable\n", env.Cfg.Storage.Driver)
	case "count":
		if len(args) != 2 {
			usage()
		}
		sym := strings.ToUpper(args[1])
		n, err := s.CountBars(ctx, sym)
		if err != nil {
			log.Fatalf("count %s: %v", sym, err)
		}
		daily, err := s.DailyBarsFor(ctx, sym)
		if err != nil {
			log.Fatalf("daily bars %s: %v", sym, err)
		}
		fmt.Printf("%s\tintraday=%d\tdaily=%d\n", sym, n, len(daily))
	case "symbols":
		syms, err := s.DistinctSymbols(ctx)
		if err != nil {
			log.Fatalf("symbols: %v", err)
		}
		for _, sym := range syms {
			fmt.Println(sym)
		}
		fmt.Fprintf(os.Stderr, "%d symbols\n", len(syms))
	case "truncate":
		if len(args) != 2 {
			usage()
		}
		if err := s.Truncate(ctx, args[1]); err != nil {
			log.Fatalf("truncate: %v", err)
		}
		fmt.Printf("truncated %s\n", args[1])
	default:
		usage()
	}
}

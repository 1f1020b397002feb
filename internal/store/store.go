// Package store defines storage interfaces for persisting and retrieving
// intraday and daily bars, with SQLite, PostgreSQL and Parquet backends.
package store

import (
	"context"
	"fmt"

	"intrabar/internal/domain"
)

// Table names shared by all backends.
const (
	TableIntraday = "intraday_bars"
	TableDaily    = "daily_bars"
)

// BarStore persists intraday bars keyed by (symbol, timestamp).
type BarStore interface {
	// BarsFor returns every stored bar for symbol ordered by timestamp.
	BarsFor(ctx context.Context, symbol string) ([]domain.Bar, error)

	// UpsertBars inserts bars or overwrites the OHLCV fields of existing rows
	// with the same (symbol, timestamp). A call is atomic: either every bar
	// is stored or none is.
	UpsertBars(ctx context.Context, symbol string, bars []domain.Bar) error

	// DistinctSymbols returns all symbols with at least one intraday bar.
	DistinctSymbols(ctx context.Context) ([]string, error)

	// CountBars returns the number of intraday rows stored for symbol.
	CountBars(ctx context.Context, symbol string) (int, error)
}

// DailyBarStore persists the secondary daily table keyed by (symbol, date).
type DailyBarStore interface {
	// DailyBarsFor returns every daily bar for symbol ordered by date.
	DailyBarsFor(ctx context.Context, symbol string) ([]domain.DailyBar, error)

	// UpsertDailyBars inserts or overwrites daily rows atomically.
	UpsertDailyBars(ctx context.Context, symbol string, bars []domain.DailyBar) error
}

// Store is a complete backend.
type Store interface {
	BarStore
	DailyBarStore

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Truncate deletes every row of the named table.
	Truncate(ctx context.Context, table string) error

	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string // sqlite, postgres or parquet
	SQLitePath  string
	PostgresDSN string
	DataDir     string
}

// Open creates the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "sqlite":
		return NewSQLiteStore(opts.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresDSN)
	case "parquet":
		return NewParquetStore(opts.DataDir), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
}

func checkTable(table string) error {
	switch table {
	case TableIntraday, TableDaily:
		return nil
	}
	return &domain.StorageError{Op: "truncate", Err: fmt.Errorf("unknown table %q", table)}
}

func storageErr(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StorageError{Op: op, Symbol: symbol, Err: err}
}

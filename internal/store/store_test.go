package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"intrabar/internal/domain"
)

func testBars(symbol string) []domain.Bar {
	return []domain.Bar{
		{
			Symbol:     symbol,
			Timestamp:  time.Date(2023, 12, 29, 20, 55, 0, 0, time.UTC),
			Open:       192.0,
			High:       192.5,
			Low:        191.8,
			Close:      192.2,
			Volume:     1200000,
			TradeCount: 9000,
			VWAP:       192.1,
		},
		{
			Symbol:     symbol,
			Timestamp:  time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
			Open:       185.0,
			High:       186.5,
			Low:        184.0,
			Close:      185.5,
			Volume:     500000,
			TradeCount: 5000,
			VWAP:       185.25,
		},
	}
}

// runStoreContract exercises the behaviour every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.UpsertBars(ctx, "AAPL", testBars("AAPL")); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}

	got, err := s.BarsFor(ctx, "AAPL")
	if err != nil {
		t.Fatalf("BarsFor: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("BarsFor returned %d bars, want 2", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Errorf("BarsFor not ordered: %v, %v", got[0].Timestamp, got[1].Timestamp)
	}
	if got[1].Close != 185.5 || got[1].VWAP != 185.25 || got[1].TradeCount != 5000 {
		t.Errorf("second bar = %+v", got[1])
	}

	// Upsert overwrites the existing key and adds the new one.
	revised := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC),
			Open: 185.0, High: 187.0, Low: 184.0, Close: 186.9, Volume: 510000},
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 14, 35, 0, 0, time.UTC),
			Open: 186.9, High: 187.2, Low: 186.5, Close: 187.0, Volume: 300000},
	}
	if err := s.UpsertBars(ctx, "AAPL", revised); err != nil {
		t.Fatalf("UpsertBars (revised): %v", err)
	}
	got, err = s.BarsFor(ctx, "AAPL")
	if err != nil {
		t.Fatalf("BarsFor: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("BarsFor returned %d bars after upsert, want 3", len(got))
	}
	if got[1].Close != 186.9 || got[1].Volume != 510000 {
		t.Errorf("overwritten bar = %+v, want close 186.9 volume 510000", got[1])
	}

	// Same batch again changes nothing.
	if err := s.UpsertBars(ctx, "AAPL", revised); err != nil {
		t.Fatalf("UpsertBars (repeat): %v", err)
	}
	if n, err := s.CountBars(ctx, "AAPL"); err != nil || n != 3 {
		t.Errorf("CountBars = %d, %v; want 3", n, err)
	}

	if err := s.UpsertBars(ctx, "MSFT", testBars("MSFT")[:1]); err != nil {
		t.Fatalf("UpsertBars (MSFT): %v", err)
	}
	symbols, err := s.DistinctSymbols(ctx)
	if err != nil {
		t.Fatalf("DistinctSymbols: %v", err)
	}
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("DistinctSymbols = %v, want [AAPL MSFT]", symbols)
	}

	daily := []domain.DailyBar{
		{Symbol: "AAPL", Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open: 187.15, High: 188.44, Low: 183.89, Close: 185.64, AdjClose: 184.9, Volume: 82488700},
		{Symbol: "AAPL", Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open: 184.22, High: 185.88, Low: 183.43, Close: 184.25, AdjClose: 183.5, Volume: 58414500},
	}
	if err := s.UpsertDailyBars(ctx, "AAPL", daily); err != nil {
		t.Fatalf("UpsertDailyBars: %v", err)
	}
	daily[0].Close = 185.7
	if err := s.UpsertDailyBars(ctx, "AAPL", daily[:1]); err != nil {
		t.Fatalf("UpsertDailyBars (revised): %v", err)
	}
	gotDaily, err := s.DailyBarsFor(ctx, "AAPL")
	if err != nil {
		t.Fatalf("DailyBarsFor: %v", err)
	}
	if len(gotDaily) != 2 {
		t.Fatalf("DailyBarsFor returned %d rows, want 2", len(gotDaily))
	}
	if gotDaily[0].Date.Format("2006-01-02") != "2024-01-02" || gotDaily[0].Close != 185.7 {
		t.Errorf("first daily row = %+v", gotDaily[0])
	}

	if err := s.Truncate(ctx, TableIntraday); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if n, err := s.CountBars(ctx, "AAPL"); err != nil || n != 0 {
		t.Errorf("CountBars after truncate = %d, %v; want 0", n, err)
	}
	if rows, err := s.DailyBarsFor(ctx, "AAPL"); err != nil || len(rows) != 2 {
		t.Errorf("daily table touched by intraday truncate: %d rows, %v", len(rows), err)
	}

	var se *domain.StorageError
	if err := s.Truncate(ctx, "users"); !errors.As(err, &se) {
		t.Errorf("Truncate(users) = %v, want *domain.StorageError", err)
	}
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "bars.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	runStoreContract(t, s)
}

func TestParquetStoreContract(t *testing.T) {
	runStoreContract(t, NewParquetStore(t.TempDir()))
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("INTRABAR_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("INTRABAR_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	for _, table := range []string{TableIntraday, TableDaily} {
		if err := s.Truncate(ctx, table); err != nil {
			t.Fatalf("Truncate(%s): %v", table, err)
		}
	}
	runStoreContract(t, s)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	got := ps.yearPath(TableIntraday, "aapl", 2024)
	want := filepath.Join("/data", "us", "intraday_bars", "AAPL", "2024.parquet")
	if got != want {
		t.Errorf("yearPath mismatch:\n  got  %s\n  want %s", got, want)
	}

	got = ps.yearPath(TableDaily, "TSLA", 2023)
	want = filepath.Join("/data", "us", "daily_bars", "TSLA", "2023.parquet")
	if got != want {
		t.Errorf("yearPath mismatch:\n  got  %s\n  want %s", got, want)
	}
}

func TestParquetStoreSplitsYears(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	if err := ps.UpsertBars(context.Background(), "AAPL", testBars("AAPL")); err != nil {
		t.Fatalf("UpsertBars: %v", err)
	}
	for _, year := range []int{2023, 2024} {
		if _, err := os.Stat(ps.yearPath(TableIntraday, "AAPL", year)); err != nil {
			t.Errorf("missing %d file: %v", year, err)
		}
	}
	leftovers, _ := filepath.Glob(filepath.Join(ps.symbolDir(TableIntraday, "AAPL"), "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("staging files left behind: %v", leftovers)
	}
}

func TestMergeBarRecordsPrefersIncoming(t *testing.T) {
	existing := []BarRecord{{Timestamp: 2, Close: 1}, {Timestamp: 1, Close: 1}}
	incoming := []BarRecord{{Timestamp: 2, Close: 9}, {Timestamp: 3, Close: 3}}
	merged := mergeBarRecords(existing, incoming)
	if len(merged) != 3 {
		t.Fatalf("merged %d records, want 3", len(merged))
	}
	if merged[0].Timestamp != 1 || merged[1].Close != 9 || merged[2].Timestamp != 3 {
		t.Errorf("merged = %+v", merged)
	}
}

func TestSQLiteStoreOpen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q) returned error: %v", dbPath, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()

	// Verify the store is usable by pinging the database.
	if err := store.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}
}

func TestSQLiteStoreErrorsAreStorageErrors(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	var se *domain.StorageError
	if _, err := s.BarsFor(context.Background(), "AAPL"); !errors.As(err, &se) {
		t.Errorf("BarsFor on closed db = %v, want *domain.StorageError", err)
	}
	if err := s.UpsertBars(context.Background(), "AAPL", testBars("AAPL")); !errors.As(err, &se) {
		t.Errorf("UpsertBars on closed db = %v, want *domain.StorageError", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "oracle"}); err == nil {
		t.Error("Open(oracle) should fail")
	}
	s, err := Open(context.Background(), Options{Driver: "parquet", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Open(parquet): %v", err)
	}
	if _, ok := s.(*ParquetStore); !ok {
		t.Errorf("Open(parquet) returned %T", s)
	}
}

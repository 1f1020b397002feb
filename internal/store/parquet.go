package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"intrabar/internal/domain"
)

// Compile-time interface checks.
var _ Store = (*ParquetStore)(nil)

// ParquetStore implements Store using Parquet files on disk, one file per
// symbol and year. Writes replace whole files, so they are serialized.
type ParquetStore struct {
	DataDir string

	mu sync.Mutex
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for intraday bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

// DailyRecord is the Parquet schema for the daily table.
type DailyRecord struct {
	Symbol   string  `parquet:"symbol"`
	Date     string  `parquet:"date"` // YYYY-MM-DD
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	AdjClose float64 `parquet:"adj_close"`
	Volume   int64   `parquet:"volume"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// BarsFor reads every year file of symbol.
func (s *ParquetStore) BarsFor(_ context.Context, symbol string) ([]domain.Bar, error) {
	records, err := readSymbolDir[BarRecord](s.symbolDir(TableIntraday, symbol))
	if err != nil {
		return nil, storageErr("read bars", symbol, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			Volume:     r.Volume,
			TradeCount: r.TradeCount,
			VWAP:       r.VWAP,
		})
	}
	return bars, nil
}

// UpsertBars merges bars into the per-year files of symbol. All affected
// files are staged before any is replaced.
//
//	<DataDir>/us/intraday_bars/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) UpsertBars(_ context.Context, symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Timestamp.UTC().Year()
		groups[year] = append(groups[year], BarRecord{
			Symbol:     symbol,
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			TradeCount: b.TradeCount,
			VWAP:       b.VWAP,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files := make(map[string][]BarRecord, len(groups))
	for year, records := range groups {
		path := s.yearPath(TableIntraday, symbol, year)
		existing, err := readParquetFile[BarRecord](path)
		if err != nil {
			return storageErr("upsert bars", symbol, err)
		}
		files[path] = mergeBarRecords(existing, records)
	}
	return storageErr("upsert bars", symbol, replaceAll(files))
}

// DistinctSymbols lists symbol directories that hold intraday data.
func (s *ParquetStore) DistinctSymbols(_ context.Context) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(domain.MarketUS), TableIntraday)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storageErr("distinct symbols", "", err)
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// CountBars returns the number of stored intraday rows for symbol.
func (s *ParquetStore) CountBars(ctx context.Context, symbol string) (int, error) {
	bars, err := s.BarsFor(ctx, symbol)
	return len(bars), err
}

// Truncate removes the directory tree backing table.
func (s *ParquetStore) Truncate(_ context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return storageErr("truncate "+table, "", os.RemoveAll(filepath.Join(s.DataDir, string(domain.MarketUS), table)))
}

// Ping checks that the data directory exists or can be created.
func (s *ParquetStore) Ping(_ context.Context) error {
	return storageErr("ping", "", os.MkdirAll(s.DataDir, 0o755))
}

func (s *ParquetStore) Close() error { return nil }

// ---------------------------------------------------------------------------
// DailyBarStore implementation
// ---------------------------------------------------------------------------

func (s *ParquetStore) DailyBarsFor(_ context.Context, symbol string) ([]domain.DailyBar, error) {
	records, err := readSymbolDir[DailyRecord](s.symbolDir(TableDaily, symbol))
	if err != nil {
		return nil, storageErr("read daily", symbol, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date < records[j].Date })

	bars := make([]domain.DailyBar, 0, len(records))
	for _, r := range records {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			return nil, storageErr("read daily", symbol, err)
		}
		bars = append(bars, domain.DailyBar{
			Symbol:   symbol,
			Date:     date,
			Open:     r.Open,
			High:     r.High,
			Low:      r.Low,
			Close:    r.Close,
			AdjClose: r.AdjClose,
			Volume:   r.Volume,
		})
	}
	return bars, nil
}

// UpsertDailyBars merges daily rows into the per-year files of symbol.
//
//	<DataDir>/us/daily_bars/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) UpsertDailyBars(_ context.Context, symbol string, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	groups := make(map[int][]DailyRecord)
	for _, b := range bars {
		groups[b.Date.Year()] = append(groups[b.Date.Year()], DailyRecord{
			Symbol:   symbol,
			Date:     b.Date.Format("2006-01-02"),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			AdjClose: b.AdjClose,
			Volume:   b.Volume,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	files := make(map[string][]DailyRecord, len(groups))
	for year, records := range groups {
		path := s.yearPath(TableDaily, symbol, year)
		existing, err := readParquetFile[DailyRecord](path)
		if err != nil {
			return storageErr("upsert daily", symbol, err)
		}
		files[path] = mergeDailyRecords(existing, records)
	}
	return storageErr("upsert daily", symbol, replaceAll(files))
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// symbolDir returns <DataDir>/us/<table>/<SYMBOL>.
func (s *ParquetStore) symbolDir(table, symbol string) string {
	return filepath.Join(s.DataDir, string(domain.MarketUS), table, strings.ToUpper(symbol))
}

// yearPath returns the file holding one year of a symbol's rows.
func (s *ParquetStore) yearPath(table, symbol string, year int) string {
	return filepath.Join(s.symbolDir(table, symbol), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

// WriteParquetFile writes records to path, creating parent directories.
func WriteParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns the rows of path, or nil if it does not exist.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[T](path)
}

func readSymbolDir[T any](dir string) ([]T, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	var out []T
	for _, p := range paths {
		rows, err := readParquetFile[T](p)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", p, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}

// replaceAll stages every file under a temporary name and renames them into
// place only once all writes have succeeded.
func replaceAll[T any](files map[string][]T) error {
	staged := make(map[string]string, len(files))
	cleanup := func() {
		for tmp := range staged {
			os.Remove(tmp)
		}
	}
	for path, records := range files {
		tmp := path + ".tmp"
		if err := WriteParquetFile(tmp, records); err != nil {
			cleanup()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		staged[tmp] = path
	}
	for tmp, path := range staged {
		if err := os.Rename(tmp, path); err != nil {
			cleanup()
			return fmt.Errorf("replacing %s: %w", path, err)
		}
		delete(staged, tmp)
	}
	return nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeDailyRecords deduplicates daily records by date, preferring new
// records over existing ones.
func mergeDailyRecords(existing, incoming []DailyRecord) []DailyRecord {
	seen := make(map[string]DailyRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]DailyRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date < merged[j].Date })
	return merged
}

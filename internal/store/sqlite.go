package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"intrabar/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS intraday_bars (
	symbol      TEXT    NOT NULL,
	ts          INTEGER NOT NULL, -- Unix ms, bar start
	open        REAL    NOT NULL,
	high        REAL    NOT NULL,
	low         REAL    NOT NULL,
	close       REAL    NOT NULL,
	volume      INTEGER NOT NULL,
	trade_count INTEGER NOT NULL DEFAULT 0,
	vwap        REAL    NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, ts)
);
CREATE TABLE IF NOT EXISTS daily_bars (
	symbol    TEXT    NOT NULL,
	date      TEXT    NOT NULL, -- YYYY-MM-DD exchange date
	open      REAL    NOT NULL,
	high      REAL    NOT NULL,
	low       REAL    NOT NULL,
	close     REAL    NOT NULL,
	adj_close REAL    NOT NULL,
	volume    INTEGER NOT NULL,
	PRIMARY KEY (symbol, date)
);`

// SQLiteStore implements Store backed by a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// bar tables if needed and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, storageErr("open", "", err)
	}
	// One connection serializes writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, storageErr("migrate", "", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return storageErr("ping", "", s.db.PingContext(ctx))
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// BarsFor returns all intraday bars for symbol ordered by timestamp.
func (s *SQLiteStore) BarsFor(ctx context.Context, symbol string) ([]domain.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume, trade_count, vwap
		FROM intraday_bars WHERE symbol = ? ORDER BY ts`, symbol)
	if err != nil {
		return nil, storageErr("read bars", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		var ms int64
		b := domain.Bar{Symbol: symbol}
		if err := rows.Scan(&ms, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, storageErr("read bars", symbol, err)
		}
		b.Timestamp = time.UnixMilli(ms).UTC()
		bars = append(bars, b)
	}
	return bars, storageErr("read bars", symbol, rows.Err())
}

// UpsertBars writes bars in one transaction.
func (s *SQLiteStore) UpsertBars(ctx context.Context, symbol string, bars []domain.Bar) (err error) {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("upsert bars", symbol, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO intraday_bars (symbol, ts, open, high, low, close, volume, trade_count, vwap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume,
			trade_count = excluded.trade_count, vwap = excluded.vwap`)
	if err != nil {
		return storageErr("upsert bars", symbol, err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err = stmt.ExecContext(ctx, symbol, b.Timestamp.UnixMilli(),
			b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP); err != nil {
			return storageErr("upsert bars", symbol, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return storageErr("upsert bars", symbol, err)
	}
	return nil
}

// DistinctSymbols lists symbols with intraday data.
func (s *SQLiteStore) DistinctSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM intraday_bars ORDER BY symbol`)
	if err != nil {
		return nil, storageErr("distinct symbols", "", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, storageErr("distinct symbols", "", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, storageErr("distinct symbols", "", rows.Err())
}

// CountBars returns the number of intraday rows for symbol.
func (s *SQLiteStore) CountBars(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intraday_bars WHERE symbol = ?`, symbol).Scan(&n)
	return n, storageErr("count bars", symbol, err)
}

// Truncate deletes every row of table.
func (s *SQLiteStore) Truncate(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table))
	return storageErr("truncate "+table, "", err)
}

// ---------------------------------------------------------------------------
// DailyBarStore implementation
// ---------------------------------------------------------------------------

// DailyBarsFor returns the daily rows for symbol ordered by date.
func (s *SQLiteStore) DailyBarsFor(ctx context.Context, symbol string) ([]domain.DailyBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, open, high, low, close, adj_close, volume
		FROM daily_bars WHERE symbol = ? ORDER BY date`, symbol)
	if err != nil {
		return nil, storageErr("read daily", symbol, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var date string
		b := domain.DailyBar{Symbol: symbol}
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
			return nil, storageErr("read daily", symbol, err)
		}
		if b.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, storageErr("read daily", symbol, err)
		}
		bars = append(bars, b)
	}
	return bars, storageErr("read daily", symbol, rows.Err())
}

// UpsertDailyBars writes daily rows in one transaction.
func (s *SQLiteStore) UpsertDailyBars(ctx context.Context, symbol string, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("upsert daily", symbol, err)
	}
	for _, b := range bars {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_bars (symbol, date, open, high, low, close, adj_close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, date) DO UPDATE SET
				open = excluded.open, high = excluded.high, low = excluded.low,
				close = excluded.close, adj_close = excluded.adj_close, volume = excluded.volume`,
			symbol, b.Date.Format("2006-01-02"), b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume)
		if err != nil {
			return storageErr("upsert daily", symbol, errors.Join(err, tx.Rollback()))
		}
	}
	return storageErr("upsert daily", symbol, tx.Commit())
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"intrabar/internal/domain"
)

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS intraday_bars (
	symbol      TEXT             NOT NULL,
	ts          TIMESTAMPTZ      NOT NULL,
	open        DOUBLE PRECISION NOT NULL,
	high        DOUBLE PRECISION NOT NULL,
	low         DOUBLE PRECISION NOT NULL,
	close       DOUBLE PRECISION NOT NULL,
	volume      BIGINT           NOT NULL,
	trade_count BIGINT           NOT NULL DEFAULT 0,
	vwap        DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, ts)
);
CREATE TABLE IF NOT EXISTS daily_bars (
	symbol    TEXT             NOT NULL,
	date      DATE             NOT NULL,
	open      DOUBLE PRECISION NOT NULL,
	high      DOUBLE PRECISION NOT NULL,
	low       DOUBLE PRECISION NOT NULL,
	close     DOUBLE PRECISION NOT NULL,
	adj_close DOUBLE PRECISION NOT NULL,
	volume    BIGINT           NOT NULL,
	PRIMARY KEY (symbol, date)
);`

var intradayColumns = []string{"symbol", "ts", "open", "high", "low", "close", "volume", "trade_count", "vwap"}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and creates the bar tables if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, storageErr("open", "", fmt.Errorf("parse pgx config: %w", err))
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, storageErr("open", "", fmt.Errorf("create pgx pool: %w", err))
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, storageErr("migrate", "", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return storageErr("ping", "", s.pool.Ping(ctx))
}

// BarsFor returns all intraday bars for symbol ordered by timestamp.
func (s *PostgresStore) BarsFor(ctx context.Context, symbol string) ([]domain.Bar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts, open, high, low, close, volume, trade_count, vwap
		FROM intraday_bars WHERE symbol = $1 ORDER BY ts`, symbol)
	if err != nil {
		return nil, storageErr("read bars", symbol, err)
	}
	defer rows.Close()

	var bars []domain.Bar
	for rows.Next() {
		b := domain.Bar{Symbol: symbol}
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradeCount, &b.VWAP); err != nil {
			return nil, storageErr("read bars", symbol, err)
		}
		bars = append(bars, b)
	}
	return bars, storageErr("read bars", symbol, rows.Err())
}

// UpsertBars copies bars into a transaction-scoped temp table and merges
// them into intraday_bars with a single INSERT ... ON CONFLICT.
func (s *PostgresStore) UpsertBars(ctx context.Context, symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("upsert bars", symbol, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `CREATE TEMP TABLE incoming_bars (LIKE intraday_bars) ON COMMIT DROP`); err != nil {
		return storageErr("upsert bars", symbol, err)
	}

	rows := make([][]any, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, []any{symbol, b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume, b.TradeCount, b.VWAP})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"incoming_bars"}, intradayColumns, pgx.CopyFromRows(rows)); err != nil {
		return storageErr("upsert bars", symbol, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO intraday_bars SELECT * FROM incoming_bars
		ON CONFLICT (symbol, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			close = EXCLUDED.close, volume = EXCLUDED.volume,
			trade_count = EXCLUDED.trade_count, vwap = EXCLUDED.vwap`); err != nil {
		return storageErr("upsert bars", symbol, err)
	}
	return storageErr("upsert bars", symbol, tx.Commit(ctx))
}

func (s *PostgresStore) DistinctSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM intraday_bars ORDER BY symbol`)
	if err != nil {
		return nil, storageErr("distinct symbols", "", err)
	}
	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return symbols, storageErr("distinct symbols", "", err)
}

func (s *PostgresStore) CountBars(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM intraday_bars WHERE symbol = $1`, symbol).Scan(&n)
	return n, storageErr("count bars", symbol, err)
}

func (s *PostgresStore) Truncate(ctx context.Context, table string) error {
	if err := checkTable(table); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, "TRUNCATE TABLE "+pgx.Identifier{table}.Sanitize())
	return storageErr("truncate "+table, "", err)
}

func (s *PostgresStore) DailyBarsFor(ctx context.Context, symbol string) ([]domain.DailyBar, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date, open, high, low, close, adj_close, volume
		FROM daily_bars WHERE symbol = $1 ORDER BY date`, symbol)
	if err != nil {
		return nil, storageErr("read daily", symbol, err)
	}
	defer rows.Close()

	var bars []domain.DailyBar
	for rows.Next() {
		var date time.Time
		b := domain.DailyBar{Symbol: symbol}
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.AdjClose, &b.Volume); err != nil {
			return nil, storageErr("read daily", symbol, err)
		}
		b.Date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
		bars = append(bars, b)
	}
	return bars, storageErr("read daily", symbol, rows.Err())
}

// UpsertDailyBars queues one upsert per row in a batch sent inside a
// transaction.
func (s *PostgresStore) UpsertDailyBars(ctx context.Context, symbol string, bars []domain.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("upsert daily", symbol, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(`
			INSERT INTO daily_bars (symbol, date, open, high, low, close, adj_close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (symbol, date) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, adj_close = EXCLUDED.adj_close, volume = EXCLUDED.volume`,
			symbol, b.Date, b.Open, b.High, b.Low, b.Close, b.AdjClose, b.Volume)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return storageErr("upsert daily", symbol, err)
	}
	return storageErr("upsert daily", symbol, tx.Commit(ctx))
}

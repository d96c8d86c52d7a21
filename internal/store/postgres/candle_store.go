package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// CandleStore implements domain.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a new CandleStore backed by the given connection pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// upsertCandleSQL widens the stored range on conflict.
const upsertCandleSQL = `
	INSERT INTO candles (ts, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (ts) DO UPDATE SET
		open   = EXCLUDED.open,
		high   = GREATEST(candles.high, EXCLUDED.high),
		low    = LEAST(candles.low, EXCLUDED.low),
		close  = EXCLUDED.close,
		volume = EXCLUDED.volume`

// reconcileCandleSQL overwrites only rows that disagree, so the affected
// row count is the number of inserted or corrected bars.
const reconcileCandleSQL = `
	INSERT INTO candles (ts, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (ts) DO UPDATE SET
		open   = EXCLUDED.open,
		high   = EXCLUDED.high,
		low    = EXCLUDED.low,
		close  = EXCLUDED.close,
		volume = EXCLUDED.volume
	WHERE ABS(candles.close - EXCLUDED.close) > $7
	   OR ABS(candles.high - EXCLUDED.high) > $7
	   OR ABS(candles.low - EXCLUDED.low) > $7`

// UpsertCandle inserts or merges one bar.
func (s *CandleStore) UpsertCandle(ctx context.Context, c domain.Candle) error {
	_, err := s.pool.Exec(ctx, upsertCandleSQL, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("postgres: upsert candle %s: %w", c.Timestamp.UTC().Format("2006-01-02T15:04"), err)
	}
	return nil
}

// UpsertCandles upserts bars in one batch.
func (s *CandleStore) UpsertCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(upsertCandleSQL, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range candles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert candle batch item %d: %w", i, err)
		}
	}
	return nil
}

// LatestCandles returns up to n bars, oldest first.
func (s *CandleStore) LatestCandles(ctx context.Context, n int) ([]domain.Candle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, open, high, low, close, volume FROM candles ORDER BY ts DESC LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest candles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("postgres: scan candle: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: latest candles rows: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}

// MaxHigh returns the highest high over the latest n bars, or zero.
func (s *CandleStore) MaxHigh(ctx context.Context, n int) (float64, error) {
	var high float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(t.high), 0)
		FROM (SELECT high FROM candles ORDER BY ts DESC LIMIT $1) AS t`, n,
	).Scan(&high)
	if err != nil {
		return 0, fmt.Errorf("postgres: max high: %w", err)
	}
	return high, nil
}

// Reconcile inserts missing bars and overwrites disagreeing ones inside a
// single transaction.
func (s *CandleStore) Reconcile(ctx context.Context, authoritative []domain.Candle) (int, error) {
	if len(authoritative) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: reconcile begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range authoritative {
		batch.Queue(reconcileCandleSQL,
			c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume, domain.ReconcileTolerance)
	}
	br := tx.SendBatch(ctx, batch)
	fixed := 0
	for i := range authoritative {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("postgres: reconcile item %d: %w", i, err)
		}
		fixed += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("postgres: reconcile batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: reconcile commit: %w", err)
	}
	return fixed, nil
}

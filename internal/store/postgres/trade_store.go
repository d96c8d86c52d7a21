package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Save inserts one closed round trip.
func (s *TradeStore) Save(ctx context.Context, t domain.TradeRecord) error {
	const query = `
		INSERT INTO trade_records (
			mode, entry_time, exit_time, entry_price, exit_price,
			qty, pnl, pnl_pct, holding_bars, reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		t.Mode, t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice,
		t.Qty, t.PnL, t.PnLPct, t.HoldingBars, t.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: save trade: %w", err)
	}
	return nil
}

// List returns trades ordered by exit time, newest first.
func (s *TradeStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := listQuery(`
		SELECT mode, entry_time, exit_time, entry_price, exit_price,
		       qty, pnl, pnl_pct, holding_bars, reason
		FROM trade_records WHERE 1=1`, "exit_time", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		if err := rows.Scan(
			&t.Mode, &t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice,
			&t.Qty, &t.PnL, &t.PnLPct, &t.HoldingBars, &t.Reason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return trades, nil
}

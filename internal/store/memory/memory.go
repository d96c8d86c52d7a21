// Package memory implements the store contracts in process memory. It backs
// backtests, runs without a database, and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// CandleStore keeps bars keyed by bucket start.
type CandleStore struct {
	mu   sync.RWMutex
	bars map[int64]domain.Candle
}

// NewCandleStore returns an empty CandleStore.
func NewCandleStore() *CandleStore {
	return &CandleStore{bars: make(map[int64]domain.Candle)}
}

// UpsertCandle inserts c or merges it into the stored bar.
func (s *CandleStore) UpsertCandle(_ context.Context, c domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(c)
	return nil
}

// UpsertCandles upserts every bar.
func (s *CandleStore) UpsertCandles(_ context.Context, candles []domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		s.upsert(c)
	}
	return nil
}

func (s *CandleStore) upsert(c domain.Candle) {
	key := c.Timestamp.UnixMilli()
	if old, ok := s.bars[key]; ok {
		c = old.Merge(c)
	}
	c.Timestamp = c.Timestamp.UTC()
	s.bars[key] = c
}

// LatestCandles returns up to n bars, oldest first.
func (s *CandleStore) LatestCandles(_ context.Context, n int) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest(n), nil
}

func (s *CandleStore) latest(n int) []domain.Candle {
	keys := make([]int64, 0, len(s.bars))
	for k := range s.bars {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	out := make([]domain.Candle, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.bars[k])
	}
	return out
}

// MaxHigh returns the highest high over the latest n bars.
func (s *CandleStore) MaxHigh(_ context.Context, n int) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var high float64
	for _, c := range s.latest(n) {
		high = max(high, c.High)
	}
	return high, nil
}

// Reconcile inserts missing bars and overwrites disagreeing ones.
func (s *CandleStore) Reconcile(_ context.Context, authoritative []domain.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fixed := 0
	for _, c := range authoritative {
		key := c.Timestamp.UnixMilli()
		old, ok := s.bars[key]
		if ok && !old.Disagrees(c) {
			continue
		}
		c.Timestamp = c.Timestamp.UTC()
		s.bars[key] = c
		fixed++
	}
	return fixed, nil
}

// Len returns the number of stored bars.
func (s *CandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bars)
}

// AuditStore is an append-only in-memory audit log.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore { return &AuditStore{} }

// Log appends an entry and assigns its id.
func (s *AuditStore) Log(_ context.Context, e domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.entries) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		if inWindow(s.entries[i].CreatedAt, opts) {
			out = append(out, s.entries[i])
		}
	}
	return page(out, opts), nil
}

// TradeStore keeps closed round trips.
type TradeStore struct {
	mu     sync.RWMutex
	trades []domain.TradeRecord
}

// NewTradeStore returns an empty TradeStore.
func NewTradeStore() *TradeStore { return &TradeStore{} }

// Save appends a trade.
func (s *TradeStore) Save(_ context.Context, t domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, t)
	return nil
}

// List returns trades newest exit first.
func (s *TradeStore) List(_ context.Context, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TradeRecord
	for i := len(s.trades) - 1; i >= 0; i-- {
		if inWindow(s.trades[i].ExitTime, opts) {
			out = append(out, s.trades[i])
		}
	}
	return page(out, opts), nil
}

func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

// Package candle turns trade ticks into fixed-width OHLCV bars and loads
// historical bars from CSV.
package candle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// DefaultWidth is the bar width used across the bot.
const DefaultWidth = 5 * time.Minute

// Stats counts aggregator activity.
type Stats struct {
	TickCount    int64 `json:"tick_count"`
	DroppedCount int64 `json:"dropped_count"`
}

// Aggregator keeps at most one open bar. Feed and the flush methods may be
// called from different goroutines; onClose always runs outside the lock.
type Aggregator struct {
	width   time.Duration
	onClose func(domain.Candle)
	logger  *slog.Logger

	mu         sync.Mutex
	current    *domain.Candle
	lastClosed time.Time
	stats      Stats
}

// NewAggregator returns an aggregator that reports closed bars to onClose.
func NewAggregator(width time.Duration, onClose func(domain.Candle), logger *slog.Logger) *Aggregator {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Aggregator{
		width:   width,
		onClose: onClose,
		logger:  logger.With(slog.String("component", "aggregator")),
	}
}

// BucketStart floors ts to the start of its bar.
func (a *Aggregator) BucketStart(ts time.Time) time.Time {
	w := a.width.Milliseconds()
	ms := ts.UnixMilli()
	return time.UnixMilli(ms - ms%w).UTC()
}

// Feed applies one tick. Ticks older than the open bar, or belonging to an
// already closed bar, are dropped.
func (a *Aggregator) Feed(t domain.Tick) {
	if t.Price <= 0 || t.Volume <= 0 {
		return
	}
	bucket := a.BucketStart(t.Timestamp)

	a.mu.Lock()
	var closed *domain.Candle
	switch {
	case !a.lastClosed.IsZero() && !bucket.After(a.lastClosed):
		a.drop(t, bucket)
		a.mu.Unlock()
		return
	case a.current == nil:
		a.start(bucket, t)
	case bucket.Equal(a.current.Timestamp):
		c := a.current
		c.High = max(c.High, t.Price)
		c.Low = min(c.Low, t.Price)
		c.Close = t.Price
		c.Volume += t.Volume
	case bucket.Before(a.current.Timestamp):
		a.drop(t, bucket)
		a.mu.Unlock()
		return
	default:
		closed = a.closeCurrent()
		a.start(bucket, t)
	}
	a.stats.TickCount++
	a.mu.Unlock()

	a.emit(closed)
}

// FlushIfExpired closes the open bar when now is past its window.
func (a *Aggregator) FlushIfExpired(now time.Time) (domain.Candle, bool) {
	a.mu.Lock()
	if a.current == nil || now.Before(a.current.Timestamp.Add(a.width)) {
		a.mu.Unlock()
		return domain.Candle{}, false
	}
	closed := a.closeCurrent()
	a.mu.Unlock()

	a.emit(closed)
	return *closed, true
}

// Flush closes the open bar unconditionally.
func (a *Aggregator) Flush() (domain.Candle, bool) {
	a.mu.Lock()
	if a.current == nil {
		a.mu.Unlock()
		return domain.Candle{}, false
	}
	closed := a.closeCurrent()
	a.mu.Unlock()

	a.emit(closed)
	return *closed, true
}

// Stats returns tick counters.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// LastClosed returns the start of the most recently closed bar.
func (a *Aggregator) LastClosed() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastClosed
}

// SetLastClosed marks bars up to ts as closed, used after warmup or backfill
// so late ticks cannot reopen them.
func (a *Aggregator) SetLastClosed(ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ts.After(a.lastClosed) {
		a.lastClosed = ts
	}
}

// Width returns the bar width.
func (a *Aggregator) Width() time.Duration { return a.width }

func (a *Aggregator) start(bucket time.Time, t domain.Tick) {
	a.current = &domain.Candle{
		Timestamp: bucket,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
	}
}

func (a *Aggregator) closeCurrent() *domain.Candle {
	c := a.current
	a.current = nil
	a.lastClosed = c.Timestamp
	return c
}

func (a *Aggregator) drop(t domain.Tick, bucket time.Time) {
	a.stats.DroppedCount++
	a.logger.Debug("stale tick dropped",
		slog.Time("bucket", bucket),
		slog.Float64("price", t.Price),
	)
}

func (a *Aggregator) emit(c *domain.Candle) {
	if c != nil && a.onClose != nil {
		a.onClose(*c)
	}
}

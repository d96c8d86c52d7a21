// Package feed turns the live market stream into closed candles for the
// engines. Ticks are aggregated into bars, bars are persisted and delivered
// in order from a single goroutine, and gaps left by disconnects are
// backfilled from exchange history.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/candle"
	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	defaultFlushInterval = 10 * time.Second
	maxBackfillBars      = 200
	cacheWriteTimeout    = 500 * time.Millisecond
	shutdownStoreTimeout = 2 * time.Second
)

// CandleSink consumes closed bars and book snapshots. The paper and live
// engines satisfy it.
type CandleSink interface {
	OnCandle(ctx context.Context, c domain.Candle)
	OnOrderBook(snap domain.OrderbookSnapshot)
}

// History serves exchange-side candles and book snapshots for backfill.
type History interface {
	Candles(ctx context.Context, n int) ([]domain.Candle, error)
	OrderBook(ctx context.Context) (domain.OrderbookSnapshot, error)
}

// Observer receives read-only feed updates, typically the dashboard.
type Observer interface {
	OnCandle(c domain.Candle)
	OnPrice(price float64, ts time.Time)
	OnConnState(state string)
}

// FeederConfig configures an EngineFeeder.
type FeederConfig struct {
	Market        string
	Width         time.Duration
	FlushInterval time.Duration
}

// FeederDeps are the EngineFeeder collaborators. Only Sink is required.
type FeederDeps struct {
	Sink     CandleSink
	Store    domain.CandleStore
	Prices   domain.PriceCache
	Books    domain.OrderbookCache
	History  History
	Audit    *audit.Recorder
	Observer Observer
	Logger   *slog.Logger
}

// EngineFeeder aggregates ticks into bars and feeds them to the sink. Handle*
// methods may be called from the socket goroutine; the sink only ever sees
// calls from Run.
type EngineFeeder struct {
	cfg  FeederConfig
	deps FeederDeps
	agg  *candle.Aggregator

	mu       sync.Mutex
	queue    []domain.Candle
	backfill int
	wake     chan struct{}

	disconnectedAt time.Time
	lastDelivered  time.Time
	now            func() time.Time
	logger         *slog.Logger
}

// NewEngineFeeder creates an EngineFeeder.
func NewEngineFeeder(cfg FeederConfig, deps FeederDeps) *EngineFeeder {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := &EngineFeeder{
		cfg:    cfg,
		deps:   deps,
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: logger.With(slog.String("component", "engine_feeder")),
	}
	f.agg = candle.NewAggregator(cfg.Width, f.enqueue, logger)
	return f
}

// Aggregator exposes the tick aggregator for stats reporting.
func (f *EngineFeeder) Aggregator() *candle.Aggregator { return f.agg }

// MarkWarm records the last bar replayed during warmup so the stream does
// not deliver it again.
func (f *EngineFeeder) MarkWarm(last time.Time) {
	f.agg.SetLastClosed(last)
	f.mu.Lock()
	if last.After(f.lastDelivered) {
		f.lastDelivered = last
	}
	f.mu.Unlock()
}

// HandleTick feeds one trade print.
func (f *EngineFeeder) HandleTick(ctx context.Context, t domain.Tick) {
	if f.deps.Prices != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
		if err := f.deps.Prices.SetPrice(cctx, f.cfg.Market, t.Price, t.Timestamp); err != nil {
			f.logger.Debug("price cache write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	if f.deps.Observer != nil {
		f.deps.Observer.OnPrice(t.Price, t.Timestamp)
	}
	f.agg.Feed(t)
}

// HandleOrderbook forwards a book snapshot to the sink and the cache.
func (f *EngineFeeder) HandleOrderbook(ctx context.Context, snap domain.OrderbookSnapshot) {
	if snap.Market == "" {
		snap.Market = f.cfg.Market
	}
	if f.deps.Books != nil {
		cctx, cancel := context.WithTimeout(ctx, cacheWriteTimeout)
		if err := f.deps.Books.SetSnapshot(cctx, f.cfg.Market, snap); err != nil {
			f.logger.Debug("orderbook cache write failed", slog.String("error", err.Error()))
		}
		cancel()
	}
	f.deps.Sink.OnOrderBook(snap)
}

// HandleConnState tracks disconnects. On reconnect after a gap of at least
// one bar, the missed bars are scheduled for backfill.
func (f *EngineFeeder) HandleConnState(ctx context.Context, state string) {
	if f.deps.Observer != nil {
		f.deps.Observer.OnConnState(state)
	}
	f.deps.Audit.Info(ctx, "ws", "STATE_CHANGE", map[string]any{"state": state})

	f.mu.Lock()
	defer f.mu.Unlock()
	switch state {
	case "RECONNECTING":
		if f.disconnectedAt.IsZero() {
			f.disconnectedAt = f.now()
		}
	case "CONNECTED":
		if f.disconnectedAt.IsZero() {
			return
		}
		gap := f.now().Sub(f.disconnectedAt)
		f.disconnectedAt = time.Time{}
		if gap < f.agg.Width() {
			return
		}
		bars := min(int((gap+f.agg.Width()-1)/f.agg.Width())+2, maxBackfillBars)
		f.backfill = max(f.backfill, bars)
		f.logger.InfoContext(ctx, "scheduling candle backfill",
			slog.Duration("gap", gap),
			slog.Int("bars", bars),
		)
		f.signal()
	}
}

// Run delivers closed bars until ctx is cancelled. Expired bars are flushed
// on a timer so a quiet market still closes candles. On cancellation the
// open bar is flushed and persisted but not traded on.
func (f *EngineFeeder) Run(ctx context.Context) error {
	f.logger.InfoContext(ctx, "engine feeder started")
	defer f.logger.Info("engine feeder stopped")

	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return nil
		case <-ticker.C:
			f.agg.FlushIfExpired(f.now())
			f.drain(ctx)
		case <-f.wake:
			f.drain(ctx)
		}
	}
}

// shutdown flushes the forming bar and stores whatever is still queued.
// The sink is stopping, so nothing more reaches it; the periodic reconcile
// corrects a partial bar on the next run.
func (f *EngineFeeder) shutdown() {
	f.agg.Flush()

	f.mu.Lock()
	queue := f.queue
	f.queue = nil
	f.mu.Unlock()
	if len(queue) == 0 || f.deps.Store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownStoreTimeout)
	defer cancel()
	if err := f.deps.Store.UpsertCandles(ctx, queue); err != nil {
		f.logger.Warn("persist open bars on shutdown failed", slog.String("error", err.Error()))
		return
	}
	f.logger.Info("open bars persisted on shutdown", slog.Int("count", len(queue)))
}

// enqueue runs under the aggregator's close callback; it must not block.
func (f *EngineFeeder) enqueue(c domain.Candle) {
	f.mu.Lock()
	f.queue = append(f.queue, c)
	f.signal()
	f.mu.Unlock()
}

// signal wakes Run. Caller must hold f.mu.
func (f *EngineFeeder) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *EngineFeeder) drain(ctx context.Context) {
	f.mu.Lock()
	queue := f.queue
	f.queue = nil
	bars := f.backfill
	f.backfill = 0
	f.mu.Unlock()

	if bars > 0 {
		f.runBackfill(ctx, bars)
	}
	for _, c := range queue {
		f.deliver(ctx, c)
	}
}

func (f *EngineFeeder) runBackfill(ctx context.Context, bars int) {
	if f.deps.History == nil {
		return
	}
	candles, err := f.deps.History.Candles(ctx, bars)
	if err != nil {
		f.logger.ErrorContext(ctx, "candle backfill failed", slog.String("error", err.Error()))
		return
	}
	if f.deps.Store != nil && len(candles) > 0 {
		fixed, err := f.deps.Store.Reconcile(ctx, candles)
		if err != nil {
			f.logger.WarnContext(ctx, "backfill reconcile failed", slog.String("error", err.Error()))
		} else if fixed > 0 {
			f.deps.Audit.Info(ctx, "backfill", "FIXED", map[string]any{"candles": fixed})
		}
	}

	// Only completed buckets are replayed; the forming bar belongs to the
	// aggregator.
	cutoff := f.agg.BucketStart(f.now())
	fed := 0
	for _, c := range candles {
		if !c.Timestamp.Before(cutoff) {
			continue
		}
		if f.deliver(ctx, c) {
			fed++
			f.agg.SetLastClosed(c.Timestamp)
		}
	}
	f.logger.InfoContext(ctx, "backfill complete",
		slog.Int("total", len(candles)),
		slog.Int("fed", fed),
	)

	if snap, err := f.deps.History.OrderBook(ctx); err == nil {
		f.HandleOrderbook(ctx, snap)
	}
}

// deliver persists and forwards one bar. Bars at or before the last
// delivered one are skipped so the sink sees strictly increasing times.
func (f *EngineFeeder) deliver(ctx context.Context, c domain.Candle) bool {
	f.mu.Lock()
	if !c.Timestamp.After(f.lastDelivered) {
		f.mu.Unlock()
		return false
	}
	f.lastDelivered = c.Timestamp
	f.mu.Unlock()

	if f.deps.Store != nil {
		if err := f.deps.Store.UpsertCandle(ctx, c); err != nil {
			f.logger.WarnContext(ctx, "candle persist failed",
				slog.Time("ts", c.Timestamp),
				slog.String("error", err.Error()),
			)
		}
	}
	if f.deps.Observer != nil {
		f.deps.Observer.OnCandle(c)
	}
	f.logger.DebugContext(ctx, "candle closed",
		slog.Time("ts", c.Timestamp),
		slog.Float64("o", c.Open),
		slog.Float64("h", c.High),
		slog.Float64("l", c.Low),
		slog.Float64("c", c.Close),
		slog.Float64("v", c.Volume),
	)
	f.deps.Sink.OnCandle(ctx, c)
	return true
}

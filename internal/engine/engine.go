// Package engine binds strategy signals to orders under state machine, risk
// and kill switch governance. Backtest replays a finite candle slice; Paper
// and Live react to closed candles from the market feed and differ only in
// where fills come from.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/eventbus"
	"github.com/suhyunle/coin-trader/internal/indicator"
	"github.com/suhyunle/coin-trader/internal/killswitch"
	"github.com/suhyunle/coin-trader/internal/position"
	"github.com/suhyunle/coin-trader/internal/risk"
	"github.com/suhyunle/coin-trader/internal/statemachine"
	"github.com/suhyunle/coin-trader/internal/strategy"
)

// Deps are the collaborators shared by the paper and live engines. Trades,
// Observer, Alerter and Auto are optional.
type Deps struct {
	Strategy   strategy.Strategy
	Machine    *statemachine.Machine
	Risk       *risk.Manager
	KillSwitch *killswitch.Switch
	Audit      *audit.Recorder
	Trades     domain.TradeStore
	Observer   Observer
	Alerter    Alerter
	// Auto reports whether order placement is enabled. Signals are still
	// computed and logged when it returns false. Nil means always enabled.
	Auto   func() bool
	Logger *slog.Logger
}

// Config holds the settings shared by the paper and live engines.
type Config struct {
	InitialEquity float64
	ATRPeriod     int
	TrailingMult  float64
}

// core is the state common to Paper and Live. Only the candle goroutine
// mutates it; snapshot fields are guarded by mu for outside readers.
type core struct {
	mode   domain.TradingMode
	strat  strategy.Strategy
	closer strategy.PositionCloser
	atr    *indicator.ATR
	bus    *eventbus.Bus
	pos    *position.Manager

	sm       *statemachine.Machine
	risk     *risk.Manager
	ks       *killswitch.Switch
	audit    *audit.Recorder
	trades   domain.TradeStore
	observer Observer
	alerter  Alerter
	auto     func() bool
	logger   *slog.Logger

	bars     int
	entryBar int
	inFlight atomic.Bool
	// ksSeen is the kill switch activation count the position was last
	// reconciled against.
	ksSeen uint64

	mu     sync.Mutex
	equity float64
	book   *domain.OrderbookSnapshot
	snap   domain.PositionSnapshot
}

func newCore(mode domain.TradingMode, cfg Config, deps Deps, component string) (*core, error) {
	if deps.Strategy == nil || deps.Machine == nil || deps.Risk == nil || deps.KillSwitch == nil {
		return nil, fmt.Errorf("engine: %s: strategy, machine, risk and kill switch are required", component)
	}
	atr, err := indicator.NewATR(cfg.ATRPeriod)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", component, err)
	}
	logger := deps.Logger.With(slog.String("component", component))
	bus := eventbus.New()

	c := &core{
		mode:     mode,
		strat:    deps.Strategy,
		atr:      atr,
		bus:      bus,
		pos:      position.NewManager(cfg.TrailingMult, bus, logger),
		sm:       deps.Machine,
		risk:     deps.Risk,
		ks:       deps.KillSwitch,
		audit:    deps.Audit,
		trades:   deps.Trades,
		observer: deps.Observer,
		alerter:  deps.Alerter,
		auto:     deps.Auto,
		logger:   logger,
		equity:   cfg.InitialEquity,
		ksSeen:   deps.KillSwitch.Activations(),
	}
	if closer, ok := deps.Strategy.(strategy.PositionCloser); ok {
		c.closer = closer
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	bus.SubscribeAll(func(e domain.Event) { c.observer.OnEvent(e) })
	c.snap = domain.FlatSnapshot(cfg.InitialEquity)
	return c, nil
}

// Warmup replays history through the ATR and the strategy without trading.
func (c *core) Warmup(candles []domain.Candle) {
	for _, cd := range candles {
		c.atr.Update(cd)
		c.strat.OnCandle(cd)
	}
	c.logger.Info("engine warmed up",
		slog.Int("candles", len(candles)),
		slog.Bool("atr_ready", c.atr.Ready()),
	)
}

// OnOrderBook stores the latest book for spread checks and paper fills.
func (c *core) OnOrderBook(snap domain.OrderbookSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.book = &snap
}

// Equity returns the engine's cash equity in KRW.
func (c *core) Equity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.equity
}

// Snapshot returns the last published position snapshot.
func (c *core) Snapshot() domain.PositionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Events returns the engine's event log.
func (c *core) Events() []domain.Event { return c.bus.Log() }

// State returns the trading state.
func (c *core) State() domain.TradingState { return c.sm.Current() }

// HasPosition reports whether a position is open.
func (c *core) HasPosition() bool { return c.Snapshot().Status == domain.PositionStatusLong }

// ATR returns the engine's current ATR.
func (c *core) ATR() float64 { return c.atr.Value() }

func (c *core) setEquity(v float64) {
	c.mu.Lock()
	c.equity = v
	c.mu.Unlock()
}

func (c *core) addEquity(delta float64) {
	c.mu.Lock()
	c.equity += delta
	c.mu.Unlock()
}

func (c *core) autoEnabled() bool { return c.auto == nil || c.auto() }

// spreadBps falls back to the risk floor when no two-sided book is known,
// so a missing book never blocks entries by itself.
func (c *core) spreadBps() float64 {
	c.mu.Lock()
	book := c.book
	c.mu.Unlock()
	if book == nil || !book.HasBothSides() {
		return c.risk.Config().MinSpreadBps
	}
	return book.SpreadBps()
}

func (c *core) bestBidAsk() (bid, ask float64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.book == nil || !c.book.HasBothSides() {
		return 0, 0, false
	}
	return c.book.BestBid(), c.book.BestAsk(), true
}

// beginCandle runs the common prologue. It reports false when the engine
// must not process the candle.
func (c *core) beginCandle(cd domain.Candle) bool {
	if !c.sm.IsActive() || c.ks.IsActivated() {
		return false
	}
	c.bus.Emit(domain.CandleEvent{Timestamp: cd.Timestamp, Candle: cd})
	c.atr.Update(cd)
	c.bars++

	if c.sm.Current() == domain.StateCooldown {
		if last := c.risk.LastTradeTime(); cd.Timestamp.Sub(last) >= c.risk.Config().Cooldown {
			_ = c.sm.Transition(domain.StateIdle)
		}
	}
	return true
}

// resetPending reports whether the kill switch fired and was reset since the
// engine last re-derived its position and state.
func (c *core) resetPending() bool {
	return !c.ks.IsActivated() && c.ks.Activations() != c.ksSeen
}

func (c *core) markResynced() { c.ksSeen = c.ks.Activations() }

// resumePosition moves an IDLE machine back to IN_POSITION when a position
// is still tracked.
func (c *core) resumePosition() {
	if !c.pos.HasPosition() || !c.sm.IsIdle() {
		return
	}
	_ = c.sm.Transition(domain.StateEntryPending)
	_ = c.sm.Transition(domain.StateInPosition)
}

// settleAfterExit leaves EXIT_PENDING for COOLDOWN after a stop and for IDLE
// otherwise. A kill switch fired meanwhile keeps the machine HALTED.
func (c *core) settleAfterExit(stopHit bool) {
	if c.ks.IsActivated() {
		return
	}
	if stopHit && c.sm.CanTransition(domain.StateCooldown) {
		_ = c.sm.Transition(domain.StateCooldown)
		return
	}
	_ = c.sm.Transition(domain.StateIdle)
}

func (c *core) signal(cd domain.Candle) domain.Signal {
	sig := c.strat.OnCandle(cd)
	c.bus.Emit(domain.SignalEvent{Timestamp: cd.Timestamp, Signal: sig})
	return sig
}

func (c *core) checkEntry(now time.Time) domain.RiskCheck {
	return c.risk.CheckEntry(risk.EntryParams{
		SpreadBps: c.spreadBps(),
		ATR:       c.atr.Value(),
		Equity:    c.Equity(),
		Now:       now,
	})
}

// finishClose books a closed trade with risk, the trade store, the strategy
// and the operator.
func (c *core) finishClose(ctx context.Context, res position.Result, reason string) {
	c.risk.RecordTrade(res.PnL, res.ExitTime)
	if c.closer != nil {
		c.closer.NotifyPositionClosed()
	}

	rec := domain.TradeRecord{
		EntryTime:   res.EntryTime,
		ExitTime:    res.ExitTime,
		EntryPrice:  res.EntryPrice,
		ExitPrice:   res.ExitPrice,
		Qty:         res.Qty,
		PnL:         res.PnL,
		PnLPct:      res.PnLPct,
		HoldingBars: c.bars - c.entryBar,
		Reason:      reason,
		Mode:        string(c.mode),
	}
	if c.trades != nil {
		if err := c.trades.Save(ctx, rec); err != nil {
			c.logger.WarnContext(ctx, "save trade failed", slog.String("error", err.Error()))
		}
	}
	c.alert(ctx, "exit", fmt.Sprintf("%s exit", c.mode),
		fmt.Sprintf("%s\nentry %.0f exit %.0f\npnl %.0f KRW (%.2f%%)", reason, res.EntryPrice, res.ExitPrice, res.PnL, res.PnLPct))
}

func (c *core) alert(ctx context.Context, event, title, msg string) {
	if c.alerter == nil {
		return
	}
	if err := c.alerter.Notify(ctx, event, title, msg); err != nil {
		c.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

// publish refreshes the snapshot and pushes it to the observer.
func (c *core) publish() {
	c.mu.Lock()
	snap := domain.FlatSnapshot(c.equity)
	if p, ok := c.pos.Current(); ok {
		snap = domain.PositionSnapshot{
			Status:       domain.PositionStatusLong,
			Qty:          p.Qty,
			EntryPrice:   p.EntryPrice,
			StopLoss:     p.StopLoss,
			TrailingStop: p.TrailingStop,
			EntryTime:    p.EntryTime,
			Equity:       c.equity,
		}
	}
	c.snap = snap
	c.mu.Unlock()
	c.observer.OnPosition(snap)
}

// enter guards against re-entrant candle handling.
func (c *core) enter() bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Warn("candle skipped: previous sequence still in flight")
		return false
	}
	return true
}

func (c *core) leave() { c.inFlight.Store(false) }

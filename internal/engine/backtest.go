package engine

import (
	"fmt"
	"log/slog"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/eventbus"
	"github.com/suhyunle/coin-trader/internal/fill"
	"github.com/suhyunle/coin-trader/internal/indicator"
	"github.com/suhyunle/coin-trader/internal/position"
	"github.com/suhyunle/coin-trader/internal/report"
	"github.com/suhyunle/coin-trader/internal/strategy"
)

// BacktestConfig parameterises a replay.
type BacktestConfig struct {
	InitialCapital  float64
	PositionSizePct float64 // fraction of equity per entry
	Fill            fill.Config
	TrailingMult    float64
	ATRPeriod       int
}

// DefaultBacktestConfig returns 10M KRW, full sizing, 3 ATR trailing stop.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital:  10_000_000,
		PositionSizePct: 1.0,
		Fill:            fill.DefaultConfig(),
		TrailingMult:    3.0,
		ATRPeriod:       14,
	}
}

// Backtest replays a closed candle sequence deterministically: identical
// inputs give an identical event log and report.
type Backtest struct {
	cfg    BacktestConfig
	logger *slog.Logger

	bus     *eventbus.Bus
	fills   fill.Model
	pos     *position.Manager
	atr     *indicator.ATR
	closer  strategy.PositionCloser
	equity  float64
	curve   []domain.EquityPoint
	pending []domain.Order
	nextID  int
}

// NewBacktest validates cfg and returns an engine.
func NewBacktest(cfg BacktestConfig, logger *slog.Logger) (*Backtest, error) {
	if cfg.InitialCapital <= 0 {
		return nil, fmt.Errorf("engine: backtest: initial capital must be positive")
	}
	if cfg.PositionSizePct <= 0 || cfg.PositionSizePct > 1 {
		return nil, fmt.Errorf("engine: backtest: position size pct must be in (0, 1], got %.2f", cfg.PositionSizePct)
	}
	atr, err := indicator.NewATR(cfg.ATRPeriod)
	if err != nil {
		return nil, fmt.Errorf("engine: backtest: %w", err)
	}
	logger = logger.With(slog.String("component", "backtest"))
	bus := eventbus.New()
	return &Backtest{
		cfg:    cfg,
		logger: logger,
		bus:    bus,
		fills:  fill.New(cfg.Fill),
		pos:    position.NewManager(cfg.TrailingMult, bus, logger),
		atr:    atr,
		equity: cfg.InitialCapital,
	}, nil
}

// Run replays candles through strat and returns the report. Any position
// still open after the last bar is closed at that bar's close.
func (b *Backtest) Run(candles []domain.Candle, strat strategy.Strategy) domain.Report {
	b.reset(strat)

	for _, c := range candles {
		b.processCandle(c, strat)
	}
	if b.pos.HasPosition() && len(candles) > 0 {
		last := candles[len(candles)-1]
		b.closeAt(last, last.Close, report.ForceCloseOrderPrefix+"-")
	}

	trades := report.TradeLog(b.bus.Log(), domain.ModeBacktest)
	r := report.Build(trades, b.curve, b.cfg.InitialCapital, b.equity)
	b.logger.Info("backtest finished",
		slog.Int("candles", len(candles)),
		slog.Int("trades", r.TotalTrades),
		slog.Float64("total_pnl", r.TotalPnL),
	)
	return r
}

// Events returns the event log of the last run.
func (b *Backtest) Events() []domain.Event { return b.bus.Log() }

func (b *Backtest) processCandle(c domain.Candle, strat strategy.Strategy) {
	b.bus.Emit(domain.CandleEvent{Timestamp: c.Timestamp, Candle: c})
	b.atr.Update(c)

	b.fillPending(c)

	if b.pos.HasPosition() && b.atr.Ready() {
		if stop, hit := b.pos.UpdateStops(c, b.atr.Value()); hit {
			b.closeAt(c, stop, report.StopOrderPrefix)
			b.cancelPendingSells(c)
		}
	}

	if b.pos.HasPosition() || !b.hasPendingBuy() {
		sig := strat.OnCandle(c)
		b.bus.Emit(domain.SignalEvent{Timestamp: c.Timestamp, Signal: sig})

		switch {
		case sig.Action == domain.SignalEnter && !b.pos.HasPosition():
			b.createOrder(c, domain.OrderSideBuy, b.equity*b.cfg.PositionSizePct, sig.StopLoss)
		case sig.Action == domain.SignalExit && b.pos.HasPosition():
			p, _ := b.pos.Current()
			b.createOrder(c, domain.OrderSideSell, p.Qty, 0)
		}
	}

	mark := b.equity
	if p, ok := b.pos.Current(); ok {
		mark += p.Qty * c.Close
	}
	b.curve = append(b.curve, domain.EquityPoint{Timestamp: c.Timestamp, Equity: mark})
}

func (b *Backtest) fillPending(c domain.Candle) {
	remaining := b.pending[:0]
	for _, o := range b.pending {
		f, ok := b.fills.TryFill(o, c)
		if !ok {
			remaining = append(remaining, o)
			continue
		}
		b.bus.Emit(domain.OrderFilledEvent{Timestamp: c.Timestamp, Fill: f})

		if f.Side == domain.OrderSideBuy {
			atr := 0.0
			if b.atr.Ready() {
				atr = b.atr.Value()
			}
			if err := b.pos.Open(f, o.StopLoss, atr); err != nil {
				b.logger.Error("open position", slog.String("error", err.Error()))
				continue
			}
			b.equity -= f.Qty*f.Price + f.Fee
			continue
		}
		if _, err := b.pos.Close(f); err != nil {
			b.logger.Error("close position", slog.String("error", err.Error()))
			continue
		}
		b.equity += f.Qty*f.Price - f.Fee
		b.notifyClosed()
	}
	b.pending = remaining
}

// closeAt closes the position at price with a synthetic fill.
func (b *Backtest) closeAt(c domain.Candle, price float64, prefix string) {
	p, _ := b.pos.Current()
	f := domain.Fill{
		OrderID:   fmt.Sprintf("%s%d", prefix, b.nextID),
		Side:      domain.OrderSideSell,
		Price:     price,
		Qty:       p.Qty,
		Fee:       p.Qty * price * b.cfg.Fill.FeeRate,
		Timestamp: c.Timestamp,
	}
	b.nextID++
	b.bus.Emit(domain.OrderFilledEvent{Timestamp: c.Timestamp, Fill: f})
	if _, err := b.pos.Close(f); err != nil {
		b.logger.Error("close position", slog.String("error", err.Error()))
		return
	}
	b.equity += f.Qty*f.Price - f.Fee
	b.notifyClosed()
}

func (b *Backtest) cancelPendingSells(c domain.Candle) {
	remaining := b.pending[:0]
	for _, o := range b.pending {
		if o.Side == domain.OrderSideSell {
			b.bus.Emit(domain.OrderCancelledEvent{Timestamp: c.Timestamp, OrderID: o.ID})
			continue
		}
		remaining = append(remaining, o)
	}
	b.pending = remaining
}

func (b *Backtest) createOrder(c domain.Candle, side domain.OrderSide, qty, stopLoss float64) {
	o := domain.Order{
		ID:        fmt.Sprintf("ord-%d", b.nextID),
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Qty:       qty,
		StopLoss:  stopLoss,
		CreatedAt: c.Timestamp,
		Status:    domain.OrderStatusPending,
	}
	b.nextID++
	b.pending = append(b.pending, o)
	b.bus.Emit(domain.OrderCreatedEvent{Timestamp: c.Timestamp, Order: o})
}

func (b *Backtest) hasPendingBuy() bool {
	for _, o := range b.pending {
		if o.Side == domain.OrderSideBuy {
			return true
		}
	}
	return false
}

func (b *Backtest) notifyClosed() {
	if b.closer != nil {
		b.closer.NotifyPositionClosed()
	}
}

func (b *Backtest) reset(strat strategy.Strategy) {
	b.bus.Reset()
	b.pos.Reset()
	b.atr.Reset()
	strat.Reset()
	b.closer, _ = strat.(strategy.PositionCloser)
	b.equity = b.cfg.InitialCapital
	b.curve = nil
	b.pending = nil
	b.nextID = 0
}

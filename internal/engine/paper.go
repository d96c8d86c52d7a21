package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/fill"
	"github.com/suhyunle/coin-trader/internal/report"
)

// Paper trades live candles against simulated fills. Fills use the best
// bid or ask of the latest book plus slippage, falling back to the candle
// close plus slippage.
type Paper struct {
	*core
	fills fill.Model
}

// NewPaper returns a paper engine.
func NewPaper(cfg Config, fillCfg fill.Config, deps Deps) (*Paper, error) {
	c, err := newCore(domain.ModePaper, cfg, deps, "paper_engine")
	if err != nil {
		return nil, err
	}
	return &Paper{core: c, fills: fill.New(fillCfg)}, nil
}

// OnCandle processes one closed candle. It never blocks on I/O other than
// the fire-and-forget audit and trade stores.
func (p *Paper) OnCandle(ctx context.Context, c domain.Candle) {
	if !p.enter() {
		return
	}
	defer p.leave()
	defer p.publish()

	if !p.beginCandle(c) {
		return
	}
	if p.resetPending() {
		// Simulated holdings survive a kill switch; pick the position up again.
		p.resumePosition()
		p.markResynced()
	}

	if p.pos.HasPosition() && p.atr.Ready() {
		if stop, hit := p.pos.UpdateStops(c, p.atr.Value()); hit {
			p.executeStop(ctx, c, stop)
			return
		}
	}

	sig := p.signal(c)
	if !p.autoEnabled() {
		return
	}
	switch {
	case sig.Action == domain.SignalEnter && p.sm.IsIdle():
		p.tryEntry(ctx, c, sig)
	case sig.Action == domain.SignalExit && p.sm.IsInPosition():
		p.tryExit(ctx, c, sig.Reason)
	}
}

func (p *Paper) tryEntry(ctx context.Context, c domain.Candle, sig domain.Signal) {
	if !p.atr.Ready() || p.pos.HasPosition() {
		return
	}
	if check := p.checkEntry(c.Timestamp); !check.Allowed {
		p.logger.InfoContext(ctx, "entry blocked", slog.String("reason", check.Reason))
		return
	}
	sizing := p.risk.Size(p.Equity(), c.Close, p.atr.Value())
	if sizing.Qty <= 0 || sizing.Notional <= 0 {
		return
	}

	if err := p.sm.Transition(domain.StateEntryPending); err != nil {
		p.logger.ErrorContext(ctx, "entry transition", slog.String("error", err.Error()))
		return
	}

	order := domain.Order{
		ID:        "paper-buy-" + uuid.NewString(),
		Side:      domain.OrderSideBuy,
		Type:      domain.OrderTypeMarket,
		Qty:       sizing.Qty,
		StopLoss:  sizing.StopLoss,
		CreatedAt: c.Timestamp,
		Status:    domain.OrderStatusPending,
	}
	p.bus.Emit(domain.OrderCreatedEvent{Timestamp: c.Timestamp, Order: order})

	price := p.fillPrice(domain.OrderSideBuy, c.Close)
	f := domain.Fill{
		OrderID:   order.ID,
		Side:      domain.OrderSideBuy,
		Price:     price,
		Qty:       sizing.Qty,
		Fee:       sizing.Qty * price * p.fills.Config().FeeRate,
		Timestamp: c.Timestamp,
	}
	p.risk.RecordOrder(true)
	p.bus.Emit(domain.OrderFilledEvent{Timestamp: c.Timestamp, Fill: f})

	if err := p.pos.Open(f, sizing.StopLoss, p.atr.Value()); err != nil {
		p.logger.ErrorContext(ctx, "open position", slog.String("error", err.Error()))
		_ = p.sm.Transition(domain.StateIdle)
		return
	}
	p.entryBar = p.bars
	p.addEquity(-(f.Qty*f.Price + f.Fee))
	_ = p.sm.Transition(domain.StateInPosition)

	p.audit.Info(ctx, "paper", "ENTRY", map[string]any{
		"price": price, "qty": f.Qty, "stop_loss": sizing.StopLoss, "reason": sig.Reason,
	})
	p.logger.InfoContext(ctx, "paper entry",
		slog.Float64("price", price),
		slog.Float64("qty", f.Qty),
		slog.Float64("stop_loss", sizing.StopLoss),
		slog.Float64("equity", p.Equity()),
	)
	p.alert(ctx, "entry", "PAPER entry",
		fmt.Sprintf("%s\nprice %.0f qty %.8f stop %.0f", sig.Reason, price, f.Qty, sizing.StopLoss))
}

func (p *Paper) tryExit(ctx context.Context, c domain.Candle, reason string) {
	pos, ok := p.pos.Current()
	if !ok {
		return
	}
	if err := p.sm.Transition(domain.StateExitPending); err != nil {
		p.logger.ErrorContext(ctx, "exit transition", slog.String("error", err.Error()))
		return
	}
	price := p.fillPrice(domain.OrderSideSell, c.Close)
	p.closeAt(ctx, c, pos, price, "paper-sell-"+uuid.NewString(), reason)
	p.settleAfterExit(false)
}

func (p *Paper) executeStop(ctx context.Context, c domain.Candle, stop float64) {
	pos, ok := p.pos.Current()
	if !ok {
		return
	}
	if err := p.sm.Transition(domain.StateExitPending); err != nil {
		p.logger.ErrorContext(ctx, "stop transition", slog.String("error", err.Error()))
	}
	p.closeAt(ctx, c, pos, stop, report.PaperStopOrderPrefix+uuid.NewString(), "Stop loss hit")
	p.settleAfterExit(true)
}

func (p *Paper) closeAt(ctx context.Context, c domain.Candle, pos domain.Position, price float64, orderID, reason string) {
	f := domain.Fill{
		OrderID:   orderID,
		Side:      domain.OrderSideSell,
		Price:     price,
		Qty:       pos.Qty,
		Fee:       pos.Qty * price * p.fills.Config().FeeRate,
		Timestamp: c.Timestamp,
	}
	p.risk.RecordOrder(true)
	p.bus.Emit(domain.OrderFilledEvent{Timestamp: c.Timestamp, Fill: f})

	res, err := p.pos.Close(f)
	if err != nil {
		p.logger.ErrorContext(ctx, "close position", slog.String("error", err.Error()))
		return
	}
	p.addEquity(f.Qty*f.Price - f.Fee)
	p.finishClose(ctx, res, reason)

	p.audit.Info(ctx, "paper", "EXIT", map[string]any{
		"price": price, "pnl": res.PnL, "pnl_pct": res.PnLPct, "reason": reason,
	})
	p.logger.InfoContext(ctx, "paper exit",
		slog.Float64("price", price),
		slog.Float64("pnl", res.PnL),
		slog.String("reason", reason),
		slog.Float64("equity", p.Equity()),
	)
}

func (p *Paper) fillPrice(side domain.OrderSide, closePrice float64) float64 {
	slip := p.fills.Slippage(closePrice)
	if bid, ask, ok := p.bestBidAsk(); ok {
		if side == domain.OrderSideBuy {
			return ask + slip
		}
		return bid - slip
	}
	if side == domain.OrderSideBuy {
		return closePrice + slip
	}
	return closePrice - slip
}

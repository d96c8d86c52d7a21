package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// dustBTC is the smallest balance treated as a held position.
const dustBTC = 0.00001

// LiveConfig extends Config with real-order settings.
type LiveConfig struct {
	Config
	MaxPositionKRW        float64
	MaxPriceDriftPct      float64 // percent
	OrderTimeout          time.Duration
	KillSwitchFailRatePct float64
	ATRStopMultiplier     float64 // used to re-arm a recovered position
}

// DefaultLiveConfig returns the shipped live settings.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		Config:                Config{InitialEquity: 10_000_000, ATRPeriod: 14, TrailingMult: 3.0},
		MaxPositionKRW:        500_000,
		MaxPriceDriftPct:      0.5,
		OrderTimeout:          5 * time.Second,
		KillSwitchFailRatePct: 50,
		ATRStopMultiplier:     2.0,
	}
}

// Live executes real orders through a MarketGateway.
type Live struct {
	*core
	cfg    LiveConfig
	gw     domain.MarketGateway
	poller Poller
}

// NewLive returns a live engine. The gateway is required.
func NewLive(cfg LiveConfig, gw domain.MarketGateway, deps Deps) (*Live, error) {
	if gw == nil {
		return nil, fmt.Errorf("engine: live: gateway is required")
	}
	c, err := newCore(domain.ModeLive, cfg.Config, deps, "live_engine")
	if err != nil {
		return nil, err
	}
	return &Live{core: c, cfg: cfg, gw: gw, poller: DefaultPoller}, nil
}

// OnCandle processes one closed candle, awaiting any order sequence it
// starts. A panic inside is converted into a kill switch activation.
func (l *Live) OnCandle(ctx context.Context, c domain.Candle) {
	if !l.enter() {
		return
	}
	defer l.leave()
	defer l.publish()
	defer func() {
		if r := recover(); r != nil {
			l.logger.ErrorContext(ctx, "panic in candle handler", slog.Any("panic", r))
			l.ks.Activate(ctx, fmt.Sprintf("panic in candle handler: %v", r), l.pos.HasPosition())
		}
	}()

	if !l.beginCandle(c) {
		return
	}
	if l.resetPending() {
		if err := l.resync(ctx); err != nil {
			l.logger.ErrorContext(ctx, "resync after kill switch reset failed", slog.String("error", err.Error()))
			return
		}
	}

	if l.pos.HasPosition() && l.atr.Ready() {
		if stop, hit := l.pos.UpdateStops(c, l.atr.Value()); hit {
			l.executeExit(ctx, c, stop, "Stop loss hit", true)
			return
		}
	}

	sig := l.signal(c)
	if !l.autoEnabled() {
		return
	}
	switch {
	case sig.Action == domain.SignalEnter && l.sm.IsIdle():
		l.executeEntry(ctx, c, sig)
	case sig.Action == domain.SignalExit && l.sm.IsInPosition():
		l.executeExit(ctx, c, c.Close, sig.Reason, false)
	}
}

func (l *Live) executeEntry(ctx context.Context, c domain.Candle, sig domain.Signal) {
	if l.ks.IsActivated() || !l.atr.Ready() || l.pos.HasPosition() {
		return
	}
	if check := l.checkEntry(c.Timestamp); !check.Allowed {
		l.logger.InfoContext(ctx, "entry blocked", slog.String("reason", check.Reason))
		return
	}
	sizing := l.risk.Size(l.Equity(), c.Close, l.atr.Value())
	if sizing.Qty <= 0 || sizing.Notional <= 0 {
		return
	}

	if err := l.checkDrift(ctx, c.Close); err != nil {
		l.logger.WarnContext(ctx, "entry skipped", slog.String("reason", err.Error()))
		return
	}
	orderKRW, err := l.clampNotional(ctx, sizing.Notional)
	if err != nil {
		l.logger.InfoContext(ctx, "entry skipped", slog.String("reason", err.Error()))
		return
	}

	if err := l.sm.Transition(domain.StateEntryPending); err != nil {
		l.logger.ErrorContext(ctx, "entry transition", slog.String("error", err.Error()))
		return
	}
	l.audit.Info(ctx, "live", "ENTRY_ATTEMPT", map[string]any{
		"price": c.Close, "krw": orderKRW, "stop_loss": sizing.StopLoss,
	})

	res, err := l.gw.MarketBuy(ctx, orderKRW)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", domain.ErrOrderRejected, res.Message)
	}
	if err != nil {
		l.entryFailed(ctx, "ENTRY_ERROR", err)
		return
	}
	l.bus.Emit(domain.OrderCreatedEvent{Timestamp: c.Timestamp, Order: domain.Order{
		ID: res.OrderID, Side: domain.OrderSideBuy, Type: domain.OrderTypeMarket,
		Qty: orderKRW, StopLoss: sizing.StopLoss, CreatedAt: c.Timestamp, Status: domain.OrderStatusPending,
	}})

	fr := l.poller.Wait(ctx, l.gw, res.OrderID, l.cfg.OrderTimeout)
	if !fr.Filled() {
		l.bus.Emit(domain.OrderCancelledEvent{Timestamp: c.Timestamp, OrderID: res.OrderID})
		l.entryFailed(ctx, "ENTRY_NOT_FILLED", fmt.Errorf("order %s %s", res.OrderID, fr.Status))
		return
	}
	l.risk.RecordOrder(true)

	bal, balErr := l.gw.Balance(ctx)
	if balErr != nil {
		l.logger.WarnContext(ctx, "balance refresh after entry failed", slog.String("error", balErr.Error()))
	} else {
		l.setEquity(bal.AvailableKRW)
	}

	qty := fr.Order.ExecutedVolume
	if qty <= 0 {
		qty = bal.TotalBTC
	}
	price, ok := AvgFillPrice(fr.Order)
	if !ok {
		price = c.Close
	}
	f := domain.Fill{
		OrderID:   res.OrderID,
		Side:      domain.OrderSideBuy,
		Price:     price,
		Qty:       qty,
		Fee:       fr.Order.PaidFee,
		Timestamp: c.Timestamp,
	}
	l.bus.Emit(domain.OrderFilledEvent{Timestamp: c.Timestamp, Fill: f})

	if l.ks.IsActivated() {
		// Halted while the order was in flight; do not arm a position the
		// engine will no longer manage.
		l.sellOrphan(ctx, qty, "entry filled after kill switch")
		return
	}
	if err := l.pos.Open(f, sizing.StopLoss, l.atr.Value()); err != nil {
		l.logger.ErrorContext(ctx, "open position", slog.String("error", err.Error()))
		l.ks.Activate(ctx, "position invariant violated on entry: "+err.Error(), true)
		return
	}
	l.entryBar = l.bars
	_ = l.sm.Transition(domain.StateInPosition)

	l.audit.Info(ctx, "live", "ENTRY_FILLED", map[string]any{
		"order_id": res.OrderID, "price": price, "qty": qty, "stop_loss": sizing.StopLoss,
	})
	l.logger.InfoContext(ctx, "live entry",
		slog.String("order_id", res.OrderID),
		slog.Float64("price", price),
		slog.Float64("qty", qty),
		slog.Float64("stop_loss", sizing.StopLoss),
	)
	l.alert(ctx, "entry", "LIVE entry",
		fmt.Sprintf("%s\nprice %.0f qty %.8f stop %.0f", sig.Reason, price, qty, sizing.StopLoss))
}

func (l *Live) entryFailed(ctx context.Context, event string, err error) {
	l.risk.RecordOrder(false)
	if !l.ks.IsActivated() {
		_ = l.sm.Transition(domain.StateIdle)
	}
	l.audit.Record(ctx, domain.AuditError, "live", event, map[string]any{"error": err.Error()})
	l.logger.ErrorContext(ctx, "entry failed", slog.String("error", err.Error()))

	if rate := l.risk.OrderFailRate(); rate > l.cfg.KillSwitchFailRatePct {
		l.ks.Activate(ctx, fmt.Sprintf("order failure rate %.0f%% above %.0f%%", rate, l.cfg.KillSwitchFailRatePct), false)
	}
}

// checkDrift rejects entries when the ticker moved away from the candle
// close by more than MaxPriceDriftPct.
func (l *Live) checkDrift(ctx context.Context, closePrice float64) error {
	if l.cfg.MaxPriceDriftPct <= 0 || closePrice <= 0 {
		return nil
	}
	t, err := l.gw.Ticker(ctx)
	if err != nil {
		return fmt.Errorf("ticker unavailable for drift check: %w", err)
	}
	drift := math.Abs(t.TradePrice-closePrice) / closePrice * 100
	if drift > l.cfg.MaxPriceDriftPct {
		return fmt.Errorf("price drift %.2f%% above %.2f%% (close %.0f, ticker %.0f)",
			drift, l.cfg.MaxPriceDriftPct, closePrice, t.TradePrice)
	}
	return nil
}

// clampNotional applies the configured cap and the exchange's order chance
// limits to the requested KRW amount.
func (l *Live) clampNotional(ctx context.Context, notional float64) (float64, error) {
	amount := notional
	if l.cfg.MaxPositionKRW > 0 {
		amount = min(amount, l.cfg.MaxPositionKRW)
	}

	chance, err := l.gw.OrderChance(ctx)
	if err != nil {
		return 0, fmt.Errorf("order chance unavailable: %w", err)
	}
	if !chance.Active() {
		return 0, fmt.Errorf("market not active: %s", chance.MarketState)
	}
	if chance.BidMinTotal > 0 && amount < chance.BidMinTotal {
		return 0, fmt.Errorf("amount %.0f below exchange minimum %.0f", amount, chance.BidMinTotal)
	}
	if chance.MaxTotal > 0 && amount > chance.MaxTotal {
		amount = chance.MaxTotal
	}
	if chance.BidAvailable > 0 && amount > chance.BidAvailable {
		amount = chance.BidAvailable
		if chance.BidMinTotal > 0 && amount < chance.BidMinTotal {
			return 0, fmt.Errorf("available %.0f KRW below exchange minimum %.0f", chance.BidAvailable, chance.BidMinTotal)
		}
	}
	return math.Floor(amount), nil
}

// executeExit sells the whole position. Any failure to confirm the sale
// trips the kill switch with liquidation; EXIT_PENDING goes straight to
// HALTED and the position stays tracked.
func (l *Live) executeExit(ctx context.Context, c domain.Candle, refPrice float64, reason string, stopHit bool) {
	pos, ok := l.pos.Current()
	if !ok || pos.Qty <= 0 {
		return
	}
	if err := l.sm.Transition(domain.StateExitPending); err != nil {
		l.logger.ErrorContext(ctx, "exit transition", slog.String("error", err.Error()))
		return
	}
	l.audit.Info(ctx, "live", "EXIT_ATTEMPT", map[string]any{"reason": reason, "qty": pos.Qty})

	res, err := l.gw.MarketSell(ctx, pos.Qty)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", domain.ErrOrderRejected, res.Message)
	}
	if err != nil {
		l.exitFailed(ctx, "EXIT_ERROR", err)
		return
	}
	l.bus.Emit(domain.OrderCreatedEvent{Timestamp: c.Timestamp, Order: domain.Order{
		ID: res.OrderID, Side: domain.OrderSideSell, Type: domain.OrderTypeMarket,
		Qty: pos.Qty, CreatedAt: c.Timestamp, Status: domain.OrderStatusPending,
	}})

	fr := l.poller.Wait(ctx, l.gw, res.OrderID, l.cfg.OrderTimeout)
	if !fr.Filled() {
		l.exitFailed(ctx, "EXIT_NOT_FILLED", fmt.Errorf("order %s %s", res.OrderID, fr.Status))
		return
	}
	l.risk.RecordOrder(true)

	price, ok := AvgFillPrice(fr.Order)
	if !ok {
		price = refPrice
	}
	f := domain.Fill{
		OrderID:   res.OrderID,
		Side:      domain.OrderSideSell,
		Price:     price,
		Qty:       pos.Qty,
		Fee:       fr.Order.PaidFee,
		Timestamp: c.Timestamp,
	}
	l.bus.Emit(domain.OrderFilledEvent{Timestamp: c.Timestamp, Fill: f})

	closed, err := l.pos.Close(f)
	if err != nil {
		l.logger.ErrorContext(ctx, "close position", slog.String("error", err.Error()))
		return
	}
	if bal, err := l.gw.Balance(ctx); err == nil {
		l.setEquity(bal.AvailableKRW)
	} else {
		l.addEquity(f.Qty*f.Price - f.Fee)
		l.logger.WarnContext(ctx, "balance refresh after exit failed", slog.String("error", err.Error()))
	}
	l.finishClose(ctx, closed, reason)
	l.settleAfterExit(stopHit)

	l.audit.Info(ctx, "live", "EXIT_FILLED", map[string]any{
		"order_id": res.OrderID, "price": price, "pnl": closed.PnL, "reason": reason,
	})
	l.logger.InfoContext(ctx, "live exit",
		slog.String("order_id", res.OrderID),
		slog.Float64("price", price),
		slog.Float64("pnl", closed.PnL),
		slog.String("reason", reason),
	)
}

func (l *Live) exitFailed(ctx context.Context, event string, err error) {
	l.risk.RecordOrder(false)
	l.audit.Critical(ctx, "live", event, map[string]any{"error": err.Error()})
	l.logger.ErrorContext(ctx, "exit failed, activating kill switch", slog.String("error", err.Error()))
	l.ks.Activate(ctx, "exit failed: "+err.Error(), true)
}

// sellOrphan market-sells qty outside position tracking.
func (l *Live) sellOrphan(ctx context.Context, qty float64, why string) {
	l.audit.Critical(ctx, "live", "ORPHAN_SELL", map[string]any{"qty": qty, "why": why})
	res, err := l.gw.MarketSell(ctx, qty)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", domain.ErrOrderRejected, res.Message)
	}
	if err != nil {
		l.audit.Critical(ctx, "live", "ORPHAN_SELL_FAILED", map[string]any{"error": err.Error()})
		l.logger.ErrorContext(ctx, "orphan sell failed", slog.String("error", err.Error()))
	}
}

// SyncBalance refreshes equity and the held quantity from the exchange.
func (l *Live) SyncBalance(ctx context.Context) error {
	if !l.enter() {
		return nil
	}
	defer l.leave()
	defer l.publish()

	bal, err := l.gw.Balance(ctx)
	if err != nil {
		l.logger.ErrorContext(ctx, "balance sync failed", slog.String("error", err.Error()))
		return fmt.Errorf("engine: sync balance: %w", err)
	}
	l.setEquity(bal.AvailableKRW)

	switch held := bal.TotalBTC > dustBTC; {
	case held && l.pos.HasPosition():
		l.pos.AdjustQty(bal.TotalBTC)
	case held:
		l.logger.WarnContext(ctx, "exchange holds BTC without a tracked position", slog.Float64("btc", bal.TotalBTC))
		l.audit.Record(ctx, domain.AuditWarn, "live", "POSITION_MISMATCH", map[string]any{"btc": bal.TotalBTC, "tracked": false})
	case l.pos.HasPosition():
		l.dropPosition(ctx, bal.TotalBTC)
	}
	l.logger.InfoContext(ctx, "balance synced",
		slog.Float64("krw", bal.AvailableKRW),
		slog.Float64("btc", bal.TotalBTC),
	)
	return nil
}

// dropPosition forgets a tracked position the exchange no longer holds.
func (l *Live) dropPosition(ctx context.Context, btc float64) {
	pos, _ := l.pos.Current()
	l.pos.Reset()
	if l.closer != nil {
		l.closer.NotifyPositionClosed()
	}
	if l.sm.IsInPosition() {
		_ = l.sm.Transition(domain.StateIdle)
	}
	l.logger.ErrorContext(ctx, "tracked position missing on exchange, dropped",
		slog.Float64("tracked_qty", pos.Qty),
		slog.Float64("btc", btc),
	)
	l.audit.Record(ctx, domain.AuditError, "live", "POSITION_DROPPED", map[string]any{
		"btc": btc, "tracked_qty": pos.Qty, "entry_price": pos.EntryPrice,
	})
}

// resync re-derives position and state from the exchange balance after a
// kill switch reset, which leaves the machine IDLE whatever was held.
func (l *Live) resync(ctx context.Context) error {
	bal, err := l.gw.Balance(ctx)
	if err != nil {
		return fmt.Errorf("engine: resync: balance: %w", err)
	}
	l.setEquity(bal.AvailableKRW)

	switch held := bal.TotalBTC > dustBTC; {
	case held && l.pos.HasPosition():
		l.pos.AdjustQty(bal.TotalBTC)
		l.resumePosition()
	case held:
		if err := l.adopt(ctx, bal.TotalBTC); err != nil {
			return fmt.Errorf("engine: resync: %w", err)
		}
	case l.pos.HasPosition():
		l.dropPosition(ctx, bal.TotalBTC)
	}
	l.markResynced()

	l.audit.Info(ctx, "live", "RESYNCED", map[string]any{
		"btc": bal.TotalBTC, "position": l.pos.HasPosition(), "state": string(l.sm.Current()),
	})
	return nil
}

// Liquidate closes any open position through the kill switch. Used on
// shutdown.
func (l *Live) Liquidate(ctx context.Context, reason string) {
	if !l.HasPosition() {
		return
	}
	l.ks.Activate(ctx, reason, true)
}

// Reconcile aligns the engine with the exchange at startup: it adopts the
// KRW balance as equity, reports open orders and restores a position when
// BTC is held but none is tracked.
func (l *Live) Reconcile(ctx context.Context) error {
	if !l.enter() {
		return nil
	}
	defer l.leave()
	defer l.publish()

	bal, err := l.gw.Balance(ctx)
	if err != nil {
		return fmt.Errorf("engine: reconcile: balance: %w", err)
	}
	l.setEquity(bal.AvailableKRW)

	open, err := l.gw.Orders(ctx, domain.OrderFilter{State: domain.OrderStateWait, Limit: 100})
	if err != nil {
		l.logger.WarnContext(ctx, "open order lookup failed", slog.String("error", err.Error()))
	} else if len(open) > 0 {
		ids := make([]string, 0, len(open))
		for _, o := range open {
			ids = append(ids, o.ID)
		}
		l.logger.WarnContext(ctx, "open orders on exchange", slog.Int("count", len(open)), slog.Any("ids", ids))
		l.audit.Record(ctx, domain.AuditWarn, "live", "OPEN_ORDERS", map[string]any{"ids": ids})
	}

	if bal.TotalBTC <= dustBTC || l.pos.HasPosition() {
		l.logger.InfoContext(ctx, "reconciled",
			slog.Float64("krw", bal.AvailableKRW),
			slog.Float64("btc", bal.TotalBTC),
			slog.Bool("position", l.pos.HasPosition()),
		)
		return nil
	}

	if err := l.adopt(ctx, bal.TotalBTC); err != nil {
		return fmt.Errorf("engine: reconcile: %w", err)
	}
	return nil
}

// adopt starts tracking qty BTC held on the exchange. The entry price comes
// from the latest completed buy, else the ticker.
func (l *Live) adopt(ctx context.Context, qty float64) error {
	entry, at := l.lastBuy(ctx)
	if entry <= 0 {
		t, err := l.gw.Ticker(ctx)
		if err != nil {
			return fmt.Errorf("no entry price for held %.8f BTC: %w", qty, err)
		}
		entry, at = t.TradePrice, time.Now()
	}
	var stop float64
	if l.atr.Ready() {
		stop = entry - l.atr.Value()*l.cfg.ATRStopMultiplier
	}
	if err := l.pos.Restore(domain.Position{
		EntryPrice: entry,
		Qty:        qty,
		EntryTime:  at,
		StopLoss:   stop,
	}); err != nil {
		return err
	}
	l.entryBar = l.bars
	l.resumePosition()
	if !l.sm.IsInPosition() {
		return fmt.Errorf("recovered position but machine is %s", l.sm.Current())
	}

	l.audit.Record(ctx, domain.AuditWarn, "live", "POSITION_RECOVERED", map[string]any{
		"entry_price": entry, "qty": qty, "stop_loss": stop,
	})
	l.logger.WarnContext(ctx, "recovered position from exchange balance",
		slog.Float64("entry_price", entry),
		slog.Float64("qty", qty),
		slog.Float64("stop_loss", stop),
	)
	return nil
}

// lastBuy returns the average price and time of the most recent completed
// buy order, or zero when none is found.
func (l *Live) lastBuy(ctx context.Context) (float64, time.Time) {
	done, err := l.gw.Orders(ctx, domain.OrderFilter{State: domain.OrderStateDone, Limit: 20})
	if err != nil {
		l.logger.WarnContext(ctx, "order history lookup failed", slog.String("error", err.Error()))
		return 0, time.Time{}
	}
	var (
		best  domain.OrderInfo
		found bool
	)
	for _, o := range done {
		if o.Side != domain.OrderSideBuy {
			continue
		}
		if !found || o.CreatedAt.After(best.CreatedAt) {
			best, found = o, true
		}
	}
	if !found {
		return 0, time.Time{}
	}
	if price, ok := AvgFillPrice(best); ok {
		return price, best.CreatedAt
	}
	return 0, time.Time{}
}

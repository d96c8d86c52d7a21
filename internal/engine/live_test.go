package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

type fakeGateway struct {
	ticker  domain.Ticker
	balance domain.Balance
	chance  domain.OrderChance
	orders  map[string]domain.OrderInfo
	history map[domain.OrderState][]domain.OrderInfo

	buyErr  error
	sellErr error
	nextBuy string
	nextSel string

	// onOrder runs before every order lookup, standing in for whatever
	// happens while the engine is polling.
	onOrder func(id string)

	buys  []float64
	sells []float64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		ticker:  domain.Ticker{TradePrice: 1000},
		balance: domain.Balance{TotalKRW: 10_000_000, AvailableKRW: 10_000_000},
		chance:  domain.OrderChance{MarketState: "active", BidMinTotal: 5000},
		orders:  map[string]domain.OrderInfo{},
		history: map[domain.OrderState][]domain.OrderInfo{},
		nextBuy: "buy-1",
		nextSel: "sell-1",
	}
}

func (g *fakeGateway) Ticker(context.Context) (domain.Ticker, error) { return g.ticker, nil }

func (g *fakeGateway) OrderBook(context.Context) (domain.OrderbookSnapshot, error) {
	return domain.OrderbookSnapshot{}, nil
}

func (g *fakeGateway) Candles(context.Context, int) ([]domain.Candle, error) { return nil, nil }

func (g *fakeGateway) MarketBuy(_ context.Context, krw float64) (domain.OrderResult, error) {
	g.buys = append(g.buys, krw)
	if g.buyErr != nil {
		return domain.OrderResult{}, g.buyErr
	}
	return domain.OrderResult{OrderID: g.nextBuy, Success: true}, nil
}

func (g *fakeGateway) MarketSell(_ context.Context, qty float64) (domain.OrderResult, error) {
	g.sells = append(g.sells, qty)
	if g.sellErr != nil {
		return domain.OrderResult{}, g.sellErr
	}
	return domain.OrderResult{OrderID: g.nextSel, Success: true}, nil
}

func (g *fakeGateway) Balance(context.Context) (domain.Balance, error) { return g.balance, nil }

func (g *fakeGateway) Order(_ context.Context, id string) (domain.OrderInfo, error) {
	if g.onOrder != nil {
		g.onOrder(id)
	}
	o, ok := g.orders[id]
	if !ok {
		return domain.OrderInfo{}, domain.ErrNotFound
	}
	return o, nil
}

func (g *fakeGateway) Orders(_ context.Context, f domain.OrderFilter) ([]domain.OrderInfo, error) {
	return g.history[f.State], nil
}

func (g *fakeGateway) OrderChance(context.Context) (domain.OrderChance, error) { return g.chance, nil }

func doneOrder(id string, side domain.OrderSide, price, vol, fee float64) domain.OrderInfo {
	return domain.OrderInfo{
		ID:             id,
		Side:           side,
		OrdType:        "market",
		ExecutedVolume: vol,
		PaidFee:        fee,
		State:          domain.OrderStateDone,
		Trades:         []domain.ExecutedTrade{{Price: price, Volume: vol, Funds: price * vol}},
	}
}

func newLive(t *testing.T, f *fixture, gw *fakeGateway) *Live {
	t.Helper()
	cfg := DefaultLiveConfig()
	cfg.Config = Config{InitialEquity: 10_000_000, ATRPeriod: 2, TrailingMult: 3}
	cfg.OrderTimeout = 50 * time.Millisecond
	l, err := NewLive(cfg, gw, f.deps)
	require.NoError(t, err)
	l.poller = Poller{Intervals: []time.Duration{time.Millisecond}}
	l.Warmup([]domain.Candle{flat(0), flat(1)})
	return l
}

func TestNewLiveRequiresGateway(t *testing.T) {
	f := newFixture(domain.ModeLive, &scripted{})
	_, err := NewLive(DefaultLiveConfig(), nil, f.deps)
	assert.Error(t, err)
}

func TestLiveEntryAndExit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{
		at(2): enter(960),
		at(3): exit("take profit"),
	}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	gw.orders["sell-1"] = doneOrder("sell-1", domain.OrderSideSell, 1100, 500, 100)
	l := newLive(t, f, gw)

	gw.balance = domain.Balance{AvailableKRW: 9_500_000, TotalBTC: 500, AvailableBTC: 500}
	l.OnCandle(ctx, flat(2))

	// Notional is clamped to MaxPositionKRW.
	require.Equal(t, []float64{500_000}, gw.buys)
	require.Equal(t, domain.StateInPosition, l.State())
	snap := l.Snapshot()
	assert.InDelta(t, 500, snap.Qty, 1e-9)
	assert.InDelta(t, 1000, snap.EntryPrice, 1e-9)
	assert.InDelta(t, 9_500_000, l.Equity(), 1e-6)

	gw.balance = domain.Balance{AvailableKRW: 10_049_900}
	l.OnCandle(ctx, flat(3))

	require.Equal(t, []float64{500}, gw.sells)
	assert.Equal(t, domain.StateIdle, l.State())
	assert.InDelta(t, 10_049_900, l.Equity(), 1e-6)
	require.Len(t, f.trades.saved, 1)
	assert.InDelta(t, 49_900, f.trades.saved[0].PnL, 1e-6)
	assert.Equal(t, "take profit", f.trades.saved[0].Reason)
	assert.Zero(t, f.risk.OrderFailRate())
	assert.Subset(t, f.audit.events, []string{"ENTRY_ATTEMPT", "ENTRY_FILLED", "EXIT_ATTEMPT", "EXIT_FILLED"})
}

func TestLiveEntryFailureTripsKillSwitch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.buyErr = errors.New("exchange unavailable")
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))

	assert.Len(t, gw.buys, 1)
	assert.False(t, l.HasPosition())
	assert.True(t, f.ks.IsActivated())
	assert.Equal(t, domain.StateHalted, l.State())
	assert.Contains(t, f.audit.events, "ENTRY_ERROR")
}

func TestLiveEntrySkippedOnPriceDrift(t *testing.T) {
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.ticker.TradePrice = 1100
	l := newLive(t, f, gw)

	l.OnCandle(context.Background(), flat(2))

	assert.Empty(t, gw.buys)
	assert.Equal(t, domain.StateIdle, l.State())
	assert.False(t, f.ks.IsActivated())
}

func TestLiveEntrySkippedBelowExchangeMinimum(t *testing.T) {
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.chance.BidMinTotal = 1_000_000
	l := newLive(t, f, gw)

	l.OnCandle(context.Background(), flat(2))

	assert.Empty(t, gw.buys)
	assert.Equal(t, domain.StateIdle, l.State())
}

func TestLiveExitFailureHaltsWithPositionTracked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{
		at(2): enter(960),
		at(3): exit("take profit"),
	}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))
	require.Equal(t, domain.StateInPosition, l.State())

	gw.sellErr = errors.New("rejected")
	l.OnCandle(ctx, flat(3))

	assert.True(t, f.ks.IsActivated())
	assert.Equal(t, domain.StateHalted, l.State())
	assert.True(t, l.HasPosition())
	assert.Contains(t, f.audit.events, "EXIT_ERROR")
}

func TestLivePanicActivatesKillSwitch(t *testing.T) {
	f := newFixture(domain.ModeLive, &scripted{panicAt: at(2)})
	l := newLive(t, f, newFakeGateway())

	assert.NotPanics(t, func() { l.OnCandle(context.Background(), flat(2)) })
	assert.True(t, f.ks.IsActivated())
	assert.Contains(t, f.ks.Reason(), "panic")
}

func TestLiveReconcileRecoversPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{})
	gw := newFakeGateway()
	gw.balance = domain.Balance{AvailableKRW: 1_000_000, TotalBTC: 0.01, AvailableBTC: 0.01}
	older := doneOrder("b0", domain.OrderSideBuy, 900, 0.01, 0)
	older.CreatedAt = t0.Add(-2 * time.Hour)
	latest := doneOrder("b1", domain.OrderSideBuy, 950, 0.01, 0)
	latest.CreatedAt = t0.Add(-time.Hour)
	sell := doneOrder("s1", domain.OrderSideSell, 990, 0.01, 0)
	sell.CreatedAt = t0.Add(-30 * time.Minute)
	gw.history[domain.OrderStateDone] = []domain.OrderInfo{older, latest, sell}
	gw.history[domain.OrderStateWait] = []domain.OrderInfo{{ID: "open-1"}}
	l := newLive(t, f, gw)

	require.NoError(t, l.Reconcile(ctx))

	assert.Equal(t, domain.StateInPosition, l.State())
	snap := l.Snapshot()
	assert.InDelta(t, 950, snap.EntryPrice, 1e-9)
	assert.InDelta(t, 0.01, snap.Qty, 1e-12)
	assert.InDelta(t, 910, snap.StopLoss, 1e-9)
	assert.InDelta(t, 1_000_000, l.Equity(), 1e-6)
	assert.Subset(t, f.audit.events, []string{"OPEN_ORDERS", "POSITION_RECOVERED"})

	gw.balance.TotalBTC = 0.008
	require.NoError(t, l.SyncBalance(ctx))
	assert.InDelta(t, 0.008, l.Snapshot().Qty, 1e-12)
}

func TestLiveReconcileFlatAccount(t *testing.T) {
	f := newFixture(domain.ModeLive, &scripted{})
	gw := newFakeGateway()
	l := newLive(t, f, gw)

	require.NoError(t, l.Reconcile(context.Background()))
	assert.Equal(t, domain.StateIdle, l.State())
	assert.False(t, l.HasPosition())
	assert.InDelta(t, 10_000_000, l.Equity(), 1e-6)
}

func TestLiveResetAfterKillDropsPositionExchangeNoLongerHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{
		at(2): enter(960),
		at(3): exit("take profit"),
		at(4): enter(960),
	}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))
	gw.sellErr = errors.New("rejected")
	l.OnCandle(ctx, flat(3))
	require.Equal(t, domain.StateHalted, l.State())
	require.True(t, l.HasPosition())

	// The operator sold by hand; the account is flat when trading resumes.
	gw.sellErr = nil
	gw.balance = domain.Balance{AvailableKRW: 10_000_000}
	f.ks.Deactivate(ctx)
	l.OnCandle(ctx, flat(4))

	assert.False(t, f.ks.IsActivated())
	assert.Contains(t, f.audit.events, "POSITION_DROPPED")
	assert.Equal(t, 1, f.strat.closed)
	// The stale position no longer blocks a fresh entry.
	assert.Equal(t, []float64{500_000, 500_000}, gw.buys)
	assert.Equal(t, domain.StateInPosition, l.State())
}

func TestLiveResetAfterKillResumesHeldPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{
		at(2): enter(960),
		at(3): enter(960),
		at(4): exit("take profit"),
	}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	gw.orders["sell-1"] = doneOrder("sell-1", domain.OrderSideSell, 1000, 500, 250)
	gw.balance = domain.Balance{AvailableKRW: 9_500_000, TotalBTC: 500, AvailableBTC: 500}
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))
	f.ks.Activate(ctx, "manual", false)
	f.ks.Deactivate(ctx)
	require.Equal(t, domain.StateIdle, l.State())

	l.OnCandle(ctx, flat(3))
	assert.Equal(t, domain.StateInPosition, l.State())
	assert.True(t, l.HasPosition())
	assert.Len(t, gw.buys, 1)
	assert.False(t, f.ks.IsActivated())

	l.OnCandle(ctx, flat(4))
	assert.Equal(t, []float64{500}, gw.sells)
	assert.Equal(t, domain.StateIdle, l.State())
	assert.False(t, l.HasPosition())
}

func TestLiveEntryRefusedWhilePositionTracked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))
	require.NoError(t, f.sm.Transition(domain.StateIdle))

	l.executeEntry(ctx, flat(3), enter(960))
	assert.Len(t, gw.buys, 1)
	assert.False(t, f.ks.IsActivated())
}

func TestLiveSyncBalanceDropsMissingPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))
	require.True(t, l.HasPosition())

	gw.balance = domain.Balance{AvailableKRW: 10_000_000}
	require.NoError(t, l.SyncBalance(ctx))

	assert.False(t, l.HasPosition())
	assert.Equal(t, domain.StateIdle, l.State())
	assert.Contains(t, f.audit.events, "POSITION_DROPPED")
}

func TestLiveKillDuringEntryPollingStaysHalted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.onOrder = func(string) { f.ks.Activate(ctx, "manual", false) }
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))

	assert.Len(t, gw.buys, 1)
	assert.True(t, f.ks.IsActivated())
	assert.Equal(t, domain.StateHalted, l.State())
	assert.False(t, l.HasPosition())
	assert.Contains(t, f.audit.events, "ENTRY_NOT_FILLED")
}

func TestLiveKillDuringExitPollingStaysHalted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{
		at(2): enter(960),
		at(3): exit("take profit"),
	}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	gw.orders["sell-1"] = doneOrder("sell-1", domain.OrderSideSell, 1100, 500, 100)
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))
	require.Equal(t, domain.StateInPosition, l.State())

	gw.onOrder = func(string) { f.ks.Activate(ctx, "manual", false) }
	l.OnCandle(ctx, flat(3))

	assert.Equal(t, []float64{500}, gw.sells)
	assert.False(t, l.HasPosition())
	require.Len(t, f.trades.saved, 1)
	assert.True(t, f.ks.IsActivated())
	assert.Equal(t, domain.StateHalted, l.State())
}

func TestLiveFillAfterKillIsSold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(domain.ModeLive, &scripted{signals: map[time.Time]domain.Signal{at(2): enter(960)}})
	gw := newFakeGateway()
	gw.orders["buy-1"] = doneOrder("buy-1", domain.OrderSideBuy, 1000, 500, 250)
	gw.onOrder = func(string) { f.ks.Activate(ctx, "manual", false) }
	l := newLive(t, f, gw)

	l.OnCandle(ctx, flat(2))

	assert.Equal(t, []float64{500}, gw.sells)
	assert.False(t, l.HasPosition())
	assert.Equal(t, domain.StateHalted, l.State())
	assert.Contains(t, f.audit.events, "ORPHAN_SELL")
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/fill"
)

func frictionless() BacktestConfig {
	return BacktestConfig{
		InitialCapital:  1_000_000,
		PositionSizePct: 1,
		Fill:            fill.Config{},
		TrailingMult:    3,
		ATRPeriod:       2,
	}
}

func filledIDs(events []domain.Event) []string {
	var ids []string
	for _, e := range events {
		if f, ok := e.(domain.OrderFilledEvent); ok {
			ids = append(ids, f.Fill.OrderID)
		}
	}
	return ids
}

func TestBacktestSignalRoundTrip(t *testing.T) {
	candles := []domain.Candle{flat(0), flat(1), flat(2), flat(3), flat(4), flat(5), bar(6, 1100, 1110, 1090, 1100)}
	strat := &scripted{signals: map[time.Time]domain.Signal{
		at(2): enter(900),
		at(5): exit("take profit"),
	}}

	bt, err := NewBacktest(frictionless(), discard())
	require.NoError(t, err)
	r := bt.Run(candles, strat)

	require.Equal(t, 1, r.TotalTrades)
	assert.InDelta(t, 100_000, r.TotalPnL, 1e-6)
	assert.InDelta(t, 1_100_000, r.EndEquity, 1e-6)
	require.Len(t, r.EquityCurve, len(candles))
	// Marked to market while the position is open.
	assert.InDelta(t, 1_000_000, r.EquityCurve[3].Equity, 1e-6)
	assert.Equal(t, []string{"ord-0", "ord-1"}, filledIDs(bt.Events()))
	assert.Equal(t, 1, strat.closed)
}

func TestBacktestStopHit(t *testing.T) {
	candles := []domain.Candle{flat(0), flat(1), flat(2), flat(3), bar(4, 1000, 1000, 900, 920)}
	strat := &scripted{signals: map[time.Time]domain.Signal{at(2): enter(900)}}

	bt, err := NewBacktest(frictionless(), discard())
	require.NoError(t, err)
	r := bt.Run(candles, strat)

	require.Equal(t, 1, r.TotalTrades)
	tr := r.Trades[0]
	assert.InDelta(t, 950, tr.ExitPrice, 1e-9)
	assert.InDelta(t, -50_000, tr.PnL, 1e-6)
	assert.Equal(t, "Stop loss hit", tr.Reason)
	assert.Equal(t, []string{"ord-0", "stop-1"}, filledIDs(bt.Events()))
}

func TestBacktestForceClosesAtEnd(t *testing.T) {
	candles := []domain.Candle{flat(0), flat(1), flat(2), flat(3), flat(4)}
	strat := &scripted{signals: map[time.Time]domain.Signal{at(2): enter(900)}}

	bt, err := NewBacktest(frictionless(), discard())
	require.NoError(t, err)
	r := bt.Run(candles, strat)

	require.Equal(t, 1, r.TotalTrades)
	assert.Equal(t, "End of data", r.Trades[0].Reason)
	assert.Equal(t, []string{"ord-0", "force-close-1"}, filledIDs(bt.Events()))
}

func TestBacktestDeterministic(t *testing.T) {
	candles := []domain.Candle{flat(0), flat(1), flat(2), flat(3), bar(4, 1000, 1040, 995, 1030), flat(5), bar(6, 1000, 1000, 900, 920), flat(7)}
	strat := &scripted{signals: map[time.Time]domain.Signal{at(2): enter(900), at(5): exit("exit")}}

	cfg := frictionless()
	cfg.Fill = fill.DefaultConfig()
	bt, err := NewBacktest(cfg, discard())
	require.NoError(t, err)

	first := bt.Run(candles, strat)
	firstEvents := len(bt.Events())
	second := bt.Run(candles, strat)

	assert.Equal(t, first, second)
	assert.Equal(t, firstEvents, len(bt.Events()))
}

func TestNewBacktestValidates(t *testing.T) {
	cfg := frictionless()
	cfg.InitialCapital = 0
	_, err := NewBacktest(cfg, discard())
	assert.Error(t, err)

	cfg = frictionless()
	cfg.PositionSizePct = 1.5
	_, err = NewBacktest(cfg, discard())
	assert.Error(t, err)
}

package position

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/eventbus"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newManager() (*Manager, *eventbus.Bus) {
	bus := eventbus.New()
	return NewManager(3.0, bus, slog.New(slog.NewTextHandler(io.Discard, nil))), bus
}

func buyFill(price, qty float64) domain.Fill {
	return domain.Fill{OrderID: "ord-1", Side: domain.OrderSideBuy, Price: price, Qty: qty, Timestamp: t0}
}

func candleAt(i int, high, low float64) domain.Candle {
	return domain.Candle{Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute), Open: low, High: high, Low: low, Close: high}
}

func TestOpenComputesInitialTrailingStop(t *testing.T) {
	m, bus := newManager()
	require.NoError(t, m.Open(buyFill(1000, 1), 900, 10))

	pos, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, 970.0, pos.TrailingStop)
	assert.Equal(t, 1000.0, pos.HighWaterMark)
	assert.Equal(t, 970.0, pos.EffectiveStop())
	require.Equal(t, 1, bus.Len())
	assert.Equal(t, domain.EventPositionOpened, bus.Log()[0].Type())
}

func TestOpenRaisesTrailingToStopLoss(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Open(buyFill(1000, 1), 990, 10))
	pos, _ := m.Current()
	assert.Equal(t, 990.0, pos.TrailingStop)
}

func TestSecondOpenFails(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Open(buyFill(1000, 1), 900, 10))
	err := m.Open(buyFill(1100, 1), 900, 10)
	assert.True(t, errors.Is(err, domain.ErrPositionExists))
}

func TestTrailingStopNeverDecreases(t *testing.T) {
	m, bus := newManager()
	require.NoError(t, m.Open(buyFill(1000, 1), 900, 10))

	highs := []float64{1010, 1050, 1040, 1080, 1075, 1100}
	atrs := []float64{10, 10, 5, 30, 1, 50}
	prev := 0.0
	for i, h := range highs {
		_, hit := m.UpdateStops(candleAt(i, h, h-5), atrs[i])
		assert.False(t, hit)
		pos, _ := m.Current()
		assert.GreaterOrEqual(t, pos.TrailingStop, prev)
		prev = pos.TrailingStop
	}

	updates := 0
	for _, e := range bus.Log() {
		if e.Type() == domain.EventStopUpdated {
			updates++
		}
	}
	// Only 1010 and 1050 raise the trail; wider ATRs later would lower it.
	assert.Equal(t, 2, updates)
}

func TestStopHitReturnsEffectiveStop(t *testing.T) {
	m, _ := newManager()
	require.NoError(t, m.Open(buyFill(1000, 1), 950, 10))

	stop, hit := m.UpdateStops(candleAt(1, 1000, 960), 10)
	assert.True(t, hit)
	assert.Equal(t, 970.0, stop)
}

func TestCloseComputesPnL(t *testing.T) {
	m, bus := newManager()
	require.NoError(t, m.Open(buyFill(1000, 2), 900, 10))

	res, err := m.Close(domain.Fill{Side: domain.OrderSideSell, Price: 1100, Qty: 2, Fee: 5, Timestamp: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 195.0, res.PnL)
	assert.InDelta(t, 10.0, res.PnLPct, 1e-9)
	assert.False(t, m.HasPosition())

	closed, ok := bus.Log()[1].(domain.PositionClosedEvent)
	require.True(t, ok)
	assert.Equal(t, 195.0, closed.PnL)

	_, err = m.Close(domain.Fill{Price: 1})
	assert.True(t, errors.Is(err, domain.ErrNoPosition))
}

func TestUnrealizedPnL(t *testing.T) {
	m, _ := newManager()
	assert.Zero(t, m.UnrealizedPnL(10))
	require.NoError(t, m.Open(buyFill(1000, 0.5), 900, 10))
	assert.Equal(t, 50.0, m.UnrealizedPnL(1100))
}

func TestRestoreAndAdjustQty(t *testing.T) {
	m, bus := newManager()
	require.NoError(t, m.Restore(domain.Position{EntryPrice: 500, Qty: 0.1, StopLoss: 450}))
	assert.Zero(t, bus.Len())

	pos, _ := m.Current()
	assert.Equal(t, 500.0, pos.HighWaterMark)

	m.AdjustQty(0.09)
	m.AdjustQty(0)
	pos, _ = m.Current()
	assert.Equal(t, 0.09, pos.Qty)

	assert.Error(t, m.Restore(domain.Position{EntryPrice: 1}))
}

package fill

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

var bar = domain.Candle{
	Timestamp: time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC),
	Open:      100, High: 110, Low: 90, Close: 105,
}

func order(side domain.OrderSide, typ domain.OrderType, price, qty float64) domain.Order {
	return domain.Order{ID: "o", Side: side, Type: typ, Price: price, Qty: qty}
}

func TestMarketBuyConvertsNotional(t *testing.T) {
	m := New(Config{FeeRate: 0.001, SlippageBps: 5})
	f, ok := m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeMarket, 0, 1000), bar)
	require.True(t, ok)

	assert.InDelta(t, 100*1.0005, f.Price, 1e-9)
	assert.InDelta(t, 1000/(100*1.0005), f.Qty, 1e-9)
	assert.InDelta(t, f.Qty*f.Price*0.001, f.Fee, 1e-9)
	assert.Equal(t, bar.Timestamp, f.Timestamp)
}

func TestMarketSellIsAdverse(t *testing.T) {
	m := New(DefaultConfig())
	f, ok := m.TryFill(order(domain.OrderSideSell, domain.OrderTypeMarket, 0, 2), bar)
	require.True(t, ok)
	assert.InDelta(t, 99.95, f.Price, 1e-9)
	assert.Equal(t, 2.0, f.Qty)
}

func TestLimitOrders(t *testing.T) {
	m := New(DefaultConfig())

	f, ok := m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeLimit, 95, 950), bar)
	require.True(t, ok)
	assert.Equal(t, 95.0, f.Price)

	f, ok = m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeLimit, 120, 1200), bar)
	require.True(t, ok)
	assert.Equal(t, 100.0, f.Price, "limit above open fills at open")

	_, ok = m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeLimit, 80, 800), bar)
	assert.False(t, ok)

	f, ok = m.TryFill(order(domain.OrderSideSell, domain.OrderTypeLimit, 108, 1), bar)
	require.True(t, ok)
	assert.Equal(t, 108.0, f.Price)

	_, ok = m.TryFill(order(domain.OrderSideSell, domain.OrderTypeLimit, 111, 1), bar)
	assert.False(t, ok)
}

func TestSellStop(t *testing.T) {
	m := New(Config{SlippageBps: 100})

	f, ok := m.TryFill(order(domain.OrderSideSell, domain.OrderTypeStop, 95, 1), bar)
	require.True(t, ok)
	assert.InDelta(t, 94.0, f.Price, 1e-9)

	gap := bar
	gap.Open, gap.High = 93, 94
	f, ok = m.TryFill(order(domain.OrderSideSell, domain.OrderTypeStop, 95, 1), gap)
	require.True(t, ok)
	assert.InDelta(t, 93-0.93, f.Price, 1e-9)

	_, ok = m.TryFill(order(domain.OrderSideSell, domain.OrderTypeStop, 85, 1), bar)
	assert.False(t, ok)
}

func TestSellStopClampedToLow(t *testing.T) {
	m := New(Config{SlippageBps: 1000})
	f, ok := m.TryFill(order(domain.OrderSideSell, domain.OrderTypeStop, 91, 1), bar)
	require.True(t, ok)
	assert.Equal(t, 90.0, f.Price)
}

func TestBuyStopMirror(t *testing.T) {
	m := New(Config{SlippageBps: 100})
	f, ok := m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeStop, 105, 1050), bar)
	require.True(t, ok)
	assert.InDelta(t, 106.0, f.Price, 1e-9)

	m = New(Config{SlippageBps: 1000})
	f, ok = m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeStop, 109, 1090), bar)
	require.True(t, ok)
	assert.Equal(t, 110.0, f.Price)

	_, ok = m.TryFill(order(domain.OrderSideBuy, domain.OrderTypeStop, 111, 1110), bar)
	assert.False(t, ok)
}

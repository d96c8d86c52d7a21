// Package fill simulates touch-based execution of orders against a closed
// bar for the backtest and paper engines.
package fill

import (
	"github.com/suhyunle/coin-trader/internal/domain"
)

// Config holds the cost assumptions.
type Config struct {
	FeeRate     float64 // fraction of notional
	SlippageBps float64
}

// DefaultConfig returns 5 bps fee and 5 bps slippage.
func DefaultConfig() Config {
	return Config{FeeRate: 0.0005, SlippageBps: 5}
}

// Model is a pure fill function parameterised by Config.
type Model struct {
	cfg Config
}

// New returns a Model.
func New(cfg Config) Model { return Model{cfg: cfg} }

// Config returns the cost assumptions.
func (m Model) Config() Config { return m.cfg }

// Slippage returns the adverse price offset applied at price.
func (m Model) Slippage(price float64) float64 {
	return price * m.cfg.SlippageBps / 10_000
}

// TryFill matches order against bar. For BUY orders Qty is a quote notional
// converted to base quantity at the fill price; SELL quantities are already
// in base units.
func (m Model) TryFill(order domain.Order, bar domain.Candle) (domain.Fill, bool) {
	price, ok := m.matchPrice(order, bar)
	if !ok || price <= 0 {
		return domain.Fill{}, false
	}

	qty := order.Qty
	if order.Side == domain.OrderSideBuy {
		qty = order.Qty / price
	}
	if qty <= 0 {
		return domain.Fill{}, false
	}

	return domain.Fill{
		OrderID:   order.ID,
		Side:      order.Side,
		Price:     price,
		Qty:       qty,
		Fee:       qty * price * m.cfg.FeeRate,
		Timestamp: bar.Timestamp,
	}, true
}

func (m Model) matchPrice(order domain.Order, bar domain.Candle) (float64, bool) {
	slip := m.Slippage(bar.Open)
	buy := order.Side == domain.OrderSideBuy

	switch order.Type {
	case domain.OrderTypeMarket:
		if buy {
			return bar.Open + slip, true
		}
		return bar.Open - slip, true

	case domain.OrderTypeLimit:
		if buy {
			if bar.Low > order.Price {
				return 0, false
			}
			return min(order.Price, bar.Open), true
		}
		if bar.High < order.Price {
			return 0, false
		}
		return max(order.Price, bar.Open), true

	case domain.OrderTypeStop:
		if buy {
			if bar.High < order.Price {
				return 0, false
			}
			base := order.Price
			if bar.Open >= order.Price {
				base = bar.Open
			}
			return min(base+slip, bar.High), true
		}
		if bar.Low > order.Price {
			return 0, false
		}
		base := order.Price
		if bar.Open <= order.Price {
			base = bar.Open
		}
		return max(base-slip, bar.Low), true
	}
	return 0, false
}

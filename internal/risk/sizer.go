package risk

import (
	"math"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	qtyScale       = 1e8
	maxEquityShare = 0.95
)

// Size computes an ATR-risk position: risk a fixed fraction of equity over a
// stop placed ATRStopMultiplier ATRs below entry. The notional is capped at
// MaxPositionKRW and at 95% of equity.
func (c Config) Size(equity, entry, atr float64) domain.PositionSizing {
	riskKRW := equity * c.RiskPerTradePct
	distance := atr * c.ATRStopMultiplier
	stop := entry - distance

	var qty float64
	if distance > 0 {
		qty = riskKRW / distance
	}
	notional := qty * entry

	if c.MaxPositionKRW > 0 && notional > c.MaxPositionKRW {
		notional = c.MaxPositionKRW
		qty = notional / entry
	}
	if cap := equity * maxEquityShare; notional > cap {
		notional = cap
		qty = notional / entry
	}

	return domain.PositionSizing{
		Qty:      math.Floor(qty*qtyScale) / qtyScale,
		Notional: math.Floor(notional),
		RiskKRW:  math.Floor(riskKRW),
		StopLoss: math.Floor(stop),
	}
}

// Size sizes a position with the manager's configuration.
func (m *Manager) Size(equity, entry, atr float64) domain.PositionSizing {
	return m.cfg.Size(equity, entry, atr)
}

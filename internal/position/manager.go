// Package position owns the single open long position and its stops.
package position

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Emitter receives position events. *eventbus.Bus satisfies it.
type Emitter interface {
	Emit(domain.Event)
}

// Result describes a closed position.
type Result struct {
	EntryPrice float64
	ExitPrice  float64
	Qty        float64
	PnL        float64
	PnLPct     float64
	EntryTime  time.Time
	ExitTime   time.Time
}

// Manager holds at most one position. It is not safe for concurrent use;
// the owning engine is the only writer.
type Manager struct {
	trailingMult float64
	bus          Emitter
	logger       *slog.Logger
	pos          *domain.Position
}

// NewManager returns a flat manager whose trailing stop sits trailingMult
// ATRs below the high-water mark.
func NewManager(trailingMult float64, bus Emitter, logger *slog.Logger) *Manager {
	return &Manager{
		trailingMult: trailingMult,
		bus:          bus,
		logger:       logger.With(slog.String("component", "position")),
	}
}

// Open starts a position from a BUY fill. The initial trailing stop is
// fill - atr*mult, raised to at least stopLoss.
func (m *Manager) Open(fill domain.Fill, stopLoss, atr float64) error {
	if m.pos != nil {
		return fmt.Errorf("position: open at %.0f: %w", fill.Price, domain.ErrPositionExists)
	}
	m.pos = &domain.Position{
		EntryPrice:    fill.Price,
		Qty:           fill.Qty,
		EntryTime:     fill.Timestamp,
		StopLoss:      stopLoss,
		TrailingStop:  max(stopLoss, fill.Price-atr*m.trailingMult),
		HighWaterMark: fill.Price,
	}
	m.logger.Info("position opened",
		slog.Float64("entry", fill.Price),
		slog.Float64("qty", fill.Qty),
		slog.Float64("stop_loss", stopLoss),
		slog.Float64("trailing_stop", m.pos.TrailingStop),
	)
	m.emit(domain.PositionOpenedEvent{Timestamp: fill.Timestamp, Position: *m.pos})
	return nil
}

// Restore installs a position recovered from the exchange without emitting.
func (m *Manager) Restore(p domain.Position) error {
	if m.pos != nil {
		return fmt.Errorf("position: restore: %w", domain.ErrPositionExists)
	}
	cp := p
	if cp.HighWaterMark == 0 {
		cp.HighWaterMark = cp.EntryPrice
	}
	m.pos = &cp
	return nil
}

// UpdateStops ratchets the trailing stop on a new high and reports whether
// the bar's low breached the effective stop. The returned price is the
// effective stop when hit.
func (m *Manager) UpdateStops(c domain.Candle, atr float64) (float64, bool) {
	if m.pos == nil {
		return 0, false
	}
	p := m.pos
	if c.High > p.HighWaterMark {
		p.HighWaterMark = c.High
		if trail := c.High - atr*m.trailingMult; trail > p.TrailingStop {
			p.TrailingStop = trail
			m.emit(domain.StopUpdatedEvent{
				Timestamp:    c.Timestamp,
				StopLoss:     p.StopLoss,
				TrailingStop: p.TrailingStop,
			})
		}
	}

	stop := p.EffectiveStop()
	if c.Low <= stop {
		m.logger.Info("stop hit",
			slog.Float64("stop", stop),
			slog.Float64("low", c.Low),
		)
		return stop, true
	}
	return 0, false
}

// Close realises the position against a SELL fill and clears it.
func (m *Manager) Close(fill domain.Fill) (Result, error) {
	if m.pos == nil {
		return Result{}, fmt.Errorf("position: close: %w", domain.ErrNoPosition)
	}
	p := m.pos
	pnl := (fill.Price-p.EntryPrice)*p.Qty - fill.Fee
	var pct float64
	if p.EntryPrice > 0 {
		pct = (fill.Price - p.EntryPrice) / p.EntryPrice * 100
	}
	res := Result{
		EntryPrice: p.EntryPrice,
		ExitPrice:  fill.Price,
		Qty:        p.Qty,
		PnL:        pnl,
		PnLPct:     pct,
		EntryTime:  p.EntryTime,
		ExitTime:   fill.Timestamp,
	}
	m.pos = nil

	m.logger.Info("position closed",
		slog.Float64("entry", res.EntryPrice),
		slog.Float64("exit", res.ExitPrice),
		slog.Float64("pnl", res.PnL),
		slog.Float64("pnl_pct", res.PnLPct),
	)
	m.emit(domain.PositionClosedEvent{
		Timestamp:  fill.Timestamp,
		EntryPrice: res.EntryPrice,
		ExitPrice:  res.ExitPrice,
		Qty:        res.Qty,
		PnL:        res.PnL,
		PnLPct:     res.PnLPct,
	})
	return res, nil
}

// Current returns a copy of the open position.
func (m *Manager) Current() (domain.Position, bool) {
	if m.pos == nil {
		return domain.Position{}, false
	}
	return *m.pos, true
}

// AdjustQty overrides the held quantity after an exchange balance sync.
func (m *Manager) AdjustQty(qty float64) {
	if m.pos != nil && qty > 0 {
		m.pos.Qty = qty
	}
}

// HasPosition reports whether a position is open.
func (m *Manager) HasPosition() bool { return m.pos != nil }

// UnrealizedPnL marks the open position at price.
func (m *Manager) UnrealizedPnL(price float64) float64 {
	if m.pos == nil {
		return 0
	}
	return (price - m.pos.EntryPrice) * m.pos.Qty
}

// Reset drops the position without emitting.
func (m *Manager) Reset() { m.pos = nil }

func (m *Manager) emit(e domain.Event) {
	if m.bus != nil {
		m.bus.Emit(e)
	}
}

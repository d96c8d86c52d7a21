// Package risk holds pre-trade admission control and ATR-based position
// sizing.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Config holds the tunable risk limits.
type Config struct {
	RiskPerTradePct   float64       // fraction of equity risked per trade
	MaxDailyLossPct   float64       // fraction of equity
	MaxPositionKRW    float64
	MaxDailyTrades    int
	Cooldown          time.Duration // minimum gap between closed trades
	MinSpreadBps      float64
	MinATR            float64 // ATR floor in quote currency
	ATRStopMultiplier float64
}

// DefaultConfig mirrors the shipped configuration defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePct:   0.01,
		MaxDailyLossPct:   0.03,
		MaxPositionKRW:    500_000,
		MaxDailyTrades:    10,
		Cooldown:          30 * time.Minute,
		MinSpreadBps:      10,
		MinATR:            50_000,
		ATRStopMultiplier: 2.0,
	}
}

// EntryParams is the market context for one entry decision.
type EntryParams struct {
	SpreadBps float64
	ATR       float64
	Equity    float64
	Now       time.Time
}

// Manager tracks daily counters and answers entry checks. Counters are
// mutated by the owning engine; the market-halt flag may be flipped from a
// reconcile goroutine.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	stats      domain.DailyStats
	lastTrade  time.Time
	marketHalt bool
}

// NewManager returns a Manager with empty counters for today.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk")),
		stats:  domain.DailyStats{Date: dateKey(time.Now())},
	}
}

// Config returns the limits the manager was built with.
func (m *Manager) Config() Config { return m.cfg }

// SetMarketHalt sets the exchange-wide halt flag (virtual asset warning).
func (m *Manager) SetMarketHalt(halted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if halted != m.marketHalt {
		m.logger.Warn("market halt flag changed", slog.Bool("halted", halted))
	}
	m.marketHalt = halted
}

// MarketHalted reports the halt flag.
func (m *Manager) MarketHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marketHalt
}

// CheckEntry evaluates the admission rules in order and returns the first
// failure.
func (m *Manager) CheckEntry(p EntryParams) domain.RiskCheck {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(p.Now)

	if m.marketHalt {
		return deny("market halted: virtual asset warning")
	}
	if limit := p.Equity * m.cfg.MaxDailyLossPct; math.Abs(m.stats.TotalLoss) >= limit {
		return deny(fmt.Sprintf("daily loss limit reached: %.0f >= %.0f KRW", math.Abs(m.stats.TotalLoss), limit))
	}
	if m.stats.TradeCount >= m.cfg.MaxDailyTrades {
		return deny(fmt.Sprintf("daily trade limit reached: %d/%d", m.stats.TradeCount, m.cfg.MaxDailyTrades))
	}
	if !m.lastTrade.IsZero() {
		if since := p.Now.Sub(m.lastTrade); since < m.cfg.Cooldown {
			return deny(fmt.Sprintf("cooldown active: %s remaining", (m.cfg.Cooldown - since).Round(time.Second)))
		}
	}
	if p.SpreadBps < m.cfg.MinSpreadBps {
		return deny(fmt.Sprintf("spread too narrow: %.1f bps < %.1f bps", p.SpreadBps, m.cfg.MinSpreadBps))
	}
	if p.ATR < m.cfg.MinATR {
		return deny(fmt.Sprintf("volatility too low: ATR %.0f < %.0f KRW", p.ATR, m.cfg.MinATR))
	}
	return domain.RiskCheck{Allowed: true}
}

// RecordTrade books a closed trade's PnL.
func (m *Manager) RecordTrade(pnl float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(now)

	m.stats.TradeCount++
	m.stats.TotalPnL += pnl
	if pnl < 0 {
		m.stats.TotalLoss += pnl
	}
	m.lastTrade = now

	m.logger.Info("trade recorded",
		slog.Float64("pnl", pnl),
		slog.Int("trade_count", m.stats.TradeCount),
		slog.Float64("daily_pnl", m.stats.TotalPnL),
	)
}

// RecordOrder books an order outcome for the fail-rate counter.
func (m *Manager) RecordOrder(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.OrderCount++
	if !success {
		m.stats.OrderFailCount++
	}
}

// OrderFailRate returns failed/total orders as a percentage.
func (m *Manager) OrderFailRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stats.OrderCount == 0 {
		return 0
	}
	return float64(m.stats.OrderFailCount) / float64(m.stats.OrderCount) * 100
}

// DailyStats returns a copy of today's counters.
func (m *Manager) DailyStats() domain.DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// LastTradeTime returns when the last trade was booked.
func (m *Manager) LastTradeTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTrade
}

// Reset clears counters, cooldown and the halt flag.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = domain.DailyStats{Date: m.stats.Date}
	m.lastTrade = time.Time{}
	m.marketHalt = false
}

// rollover must be called with mu held.
func (m *Manager) rollover(now time.Time) {
	today := dateKey(now)
	if today == m.stats.Date {
		return
	}
	if m.stats.TradeCount > 0 || m.stats.OrderCount > 0 {
		m.logger.Info("daily report",
			slog.String("date", m.stats.Date),
			slog.Int("trades", m.stats.TradeCount),
			slog.Float64("pnl", m.stats.TotalPnL),
			slog.Float64("loss", m.stats.TotalLoss),
			slog.Int("orders", m.stats.OrderCount),
			slog.Int("order_failures", m.stats.OrderFailCount),
		)
	}
	m.stats = domain.DailyStats{Date: today}
}

func dateKey(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func deny(reason string) domain.RiskCheck {
	return domain.RiskCheck{Allowed: false, Reason: reason}
}

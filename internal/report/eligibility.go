package report

import (
	"fmt"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// PromotionConfig holds the thresholds for moving a strategy from backtest
// to paper and from paper to live.
type PromotionConfig struct {
	MinPaperDays    int
	MinTrades       int
	MinProfitFactor float64
	MaxDrawdownPct  float64
	MaxOrderFailPct float64
}

// DefaultPromotionConfig returns the shipped thresholds.
func DefaultPromotionConfig() PromotionConfig {
	return PromotionConfig{
		MinPaperDays:    14,
		MinTrades:       200,
		MinProfitFactor: 1.2,
		MaxDrawdownPct:  20,
		MaxOrderFailPct: 1,
	}
}

// Eligibility is the outcome of a promotion check.
type Eligibility struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons,omitempty"`
}

// PaperStats summarises a paper run for live promotion.
type PaperStats struct {
	Started        time.Time
	TradeCount     int
	GrossProfit    float64
	GrossLoss      float64 // positive
	MaxDrawdownPct float64
	OrderCount     int
	OrderFailCount int
}

// CheckPaper decides whether a backtest result qualifies for paper trading.
func (c PromotionConfig) CheckPaper(profitFactor, maxDrawdownPct float64, trades int) Eligibility {
	var reasons []string
	if profitFactor < c.MinProfitFactor {
		reasons = append(reasons, fmt.Sprintf("PF %.2f < %.2f", profitFactor, c.MinProfitFactor))
	}
	if maxDrawdownPct > c.MaxDrawdownPct {
		reasons = append(reasons, fmt.Sprintf("MDD %.1f%% > %.1f%%", maxDrawdownPct, c.MaxDrawdownPct))
	}
	if trades < c.MinTrades {
		reasons = append(reasons, fmt.Sprintf("trades %d < %d", trades, c.MinTrades))
	}
	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons}
}

// CheckLive decides whether a paper run qualifies for live trading.
func (c PromotionConfig) CheckLive(s PaperStats, now time.Time) Eligibility {
	var reasons []string
	days := now.Sub(s.Started).Hours() / 24
	if days < float64(c.MinPaperDays) {
		reasons = append(reasons, fmt.Sprintf("paper days %.1f < %d", days, c.MinPaperDays))
	}
	if s.TradeCount < c.MinTrades {
		reasons = append(reasons, fmt.Sprintf("trades %d < %d", s.TradeCount, c.MinTrades))
	}
	if pf := ProfitFactor(s.GrossProfit, s.GrossLoss); pf < c.MinProfitFactor {
		reasons = append(reasons, fmt.Sprintf("PF %.2f < %.2f", pf, c.MinProfitFactor))
	}
	if s.MaxDrawdownPct > c.MaxDrawdownPct {
		reasons = append(reasons, fmt.Sprintf("MDD %.1f%% > %.1f%%", s.MaxDrawdownPct, c.MaxDrawdownPct))
	}
	var failRate float64
	if s.OrderCount > 0 {
		failRate = float64(s.OrderFailCount) / float64(s.OrderCount) * 100
	}
	if failRate > c.MaxOrderFailPct {
		reasons = append(reasons, fmt.Sprintf("order fail rate %.1f%% > %.1f%%", failRate, c.MaxOrderFailPct))
	}
	return Eligibility{Eligible: len(reasons) == 0, Reasons: reasons}
}

// SessionStats summarises a paper session for CheckLive. Drawdown is taken
// on realised equity after each closed trade; a cancelled order counts as a
// failed one.
func SessionStats(events []domain.Event, trades []domain.TradeRecord, startEquity float64, started time.Time) PaperStats {
	s := PaperStats{Started: started, TradeCount: len(trades)}
	curve := make([]domain.EquityPoint, 0, len(trades)+1)
	curve = append(curve, domain.EquityPoint{Timestamp: started, Equity: startEquity})
	equity := startEquity
	for _, t := range trades {
		if t.PnL > 0 {
			s.GrossProfit += t.PnL
		} else {
			s.GrossLoss -= t.PnL
		}
		equity += t.PnL
		curve = append(curve, domain.EquityPoint{Timestamp: t.ExitTime, Equity: equity})
	}
	s.MaxDrawdownPct = MaxDrawdown(curve)

	for _, e := range events {
		switch e.Type() {
		case domain.EventOrderCreated:
			s.OrderCount++
		case domain.EventOrderCancelled:
			s.OrderFailCount++
		}
	}
	return s
}

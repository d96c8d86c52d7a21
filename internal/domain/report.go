package domain

import "time"

// TradeRecord is one round trip reconstructed from the event log.
type TradeRecord struct {
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Qty         float64   `json:"qty"`
	PnL         float64   `json:"pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	HoldingBars int       `json:"holding_bars"`
	Reason      string    `json:"reason"`
	Mode        string    `json:"mode,omitempty"`
}

// EquityPoint is one mark-to-market sample of the equity curve.
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// MonthlyPnL aggregates closed trades by exit month.
type MonthlyPnL struct {
	Year       int     `json:"year"`
	Month      int     `json:"month"`
	PnL        float64 `json:"pnl"`
	PnLPct     float64 `json:"pnl_pct"`
	TradeCount int     `json:"trade_count"`
}

// Report summarises a finished run.
type Report struct {
	TotalTrades          int           `json:"total_trades"`
	WinCount             int           `json:"win_count"`
	LossCount            int           `json:"loss_count"`
	WinRate              float64       `json:"win_rate"`
	TotalPnL             float64       `json:"total_pnl"`
	TotalReturn          float64       `json:"total_return"` // percent
	CAGR                 float64       `json:"cagr"`         // percent
	MaxDrawdown          float64       `json:"max_drawdown"` // percent, positive
	ProfitFactor         float64       `json:"profit_factor"`
	Expectancy           float64       `json:"expectancy"`
	AvgWin               float64       `json:"avg_win"`
	AvgLoss              float64       `json:"avg_loss"`
	MaxConsecutiveLosses int           `json:"max_consecutive_losses"`
	SharpeRatio          float64       `json:"sharpe_ratio"`
	StartEquity          float64       `json:"start_equity"`
	EndEquity            float64       `json:"end_equity"`
	Trades               []TradeRecord `json:"trades"`
	EquityCurve          []EquityPoint `json:"equity_curve"`
	MonthlyPnL           []MonthlyPnL  `json:"monthly_pnl"`
}

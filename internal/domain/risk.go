package domain

// RiskCheck is the outcome of a pre-trade admission check.
type RiskCheck struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// DailyStats are the risk counters for one UTC calendar day.
type DailyStats struct {
	Date           string  `json:"date"` // YYYY-MM-DD
	TradeCount     int     `json:"trade_count"`
	TotalPnL       float64 `json:"total_pnl"`
	TotalLoss      float64 `json:"total_loss"` // sum of losing trades, <= 0
	OrderCount     int     `json:"order_count"`
	OrderFailCount int     `json:"order_fail_count"`
}

// PositionSizing is the ATR based size of a new entry.
type PositionSizing struct {
	Qty      float64 `json:"qty"`       // base units
	Notional float64 `json:"notional"`  // quote units
	RiskKRW  float64 `json:"risk_krw"`  // quote amount at risk
	StopLoss float64 `json:"stop_loss"` // initial stop price
}

package domain

import "time"

// Position is the single open long position.
type Position struct {
	EntryPrice    float64   `json:"entry_price"`
	Qty           float64   `json:"qty"`
	EntryTime     time.Time `json:"entry_time"`
	StopLoss      float64   `json:"stop_loss"`
	TrailingStop  float64   `json:"trailing_stop"`
	HighWaterMark float64   `json:"high_water_mark"`
}

// EffectiveStop is the tighter of the initial and trailing stops.
func (p Position) EffectiveStop() float64 {
	return max(p.StopLoss, p.TrailingStop)
}

// PositionStatus is the dashboard-facing position flag.
type PositionStatus string

const (
	PositionStatusFlat PositionStatus = "FLAT"
	PositionStatusLong PositionStatus = "LONG"
)

// PositionSnapshot is the read-only projection pushed to observers.
type PositionSnapshot struct {
	Status       PositionStatus `json:"status"`
	Qty          float64        `json:"qty"`
	EntryPrice   float64        `json:"entry_price"`
	StopLoss     float64        `json:"stop_loss"`
	TrailingStop float64        `json:"trailing_stop"`
	EntryTime    time.Time      `json:"entry_time"`
	Equity       float64        `json:"equity"`
}

// FlatSnapshot returns a snapshot for an engine that holds no position.
func FlatSnapshot(equity float64) PositionSnapshot {
	return PositionSnapshot{Status: PositionStatusFlat, Equity: equity}
}

package domain

import (
	"math"
	"time"
)

// Candle is a closed OHLCV bar. Timestamp is the bucket start.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// TickSide is the aggressor side of a trade print.
type TickSide string

const (
	TickSideBuy  TickSide = "BUY"
	TickSideSell TickSide = "SELL"
)

// Tick is a single trade print from the market feed.
type Tick struct {
	Symbol    string
	Price     float64
	Volume    float64
	Timestamp time.Time
	Side      TickSide
}

// ReconcileTolerance is the price gap, in quote units, under which a stored
// bar still agrees with the exchange.
const ReconcileTolerance = 1.0

// Disagrees reports whether c differs from the authoritative bar by more than
// ReconcileTolerance in high, low or close.
func (c Candle) Disagrees(authoritative Candle) bool {
	return math.Abs(c.Close-authoritative.Close) > ReconcileTolerance ||
		math.Abs(c.High-authoritative.High) > ReconcileTolerance ||
		math.Abs(c.Low-authoritative.Low) > ReconcileTolerance
}

// Merge combines a re-delivered bar with the stored one: the range widens,
// open, close and volume take the newer values.
func (c Candle) Merge(newer Candle) Candle {
	return Candle{
		Timestamp: c.Timestamp,
		Open:      newer.Open,
		High:      max(c.High, newer.High),
		Low:       min(c.Low, newer.Low),
		Close:     newer.Close,
		Volume:    newer.Volume,
	}
}

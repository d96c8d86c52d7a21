package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is a full snapshot of bids and asks for a market. Bids
// are sorted descending and asks ascending.
type OrderbookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the top bid price, or zero for an empty side.
func (s OrderbookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the top ask price, or zero for an empty side.
func (s OrderbookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// HasBothSides reports whether the snapshot can price a spread.
func (s OrderbookSnapshot) HasBothSides() bool {
	return len(s.Bids) > 0 && len(s.Asks) > 0
}

// SpreadBps is the bid/ask spread relative to mid in basis points.
func (s OrderbookSnapshot) SpreadBps() float64 {
	if !s.HasBothSides() {
		return 0
	}
	ask, bid := s.BestAsk(), s.BestBid()
	mid := (ask + bid) / 2
	if mid <= 0 {
		return 0
	}
	return (ask - bid) / mid * 10000
}

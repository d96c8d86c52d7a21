// Package indicator implements the streaming technical indicators used by
// strategies and engines. Every indicator is fed one value or bar at a time
// and reports readiness once its warm-up window is full.
package indicator

import (
	"fmt"
	"math"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// ATR is the Average True Range with Wilder smoothing. The first value is the
// simple mean of the first period true ranges.
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	seed      []float64
	value     float64
	ready     bool
}

// NewATR returns an ATR over period bars.
func NewATR(period int) (*ATR, error) {
	if period < 1 {
		return nil, fmt.Errorf("indicator: atr period must be >= 1, got %d", period)
	}
	return &ATR{period: period, seed: make([]float64, 0, period)}, nil
}

// MustATR is NewATR for periods known to be valid at compile time.
func MustATR(period int) *ATR {
	a, err := NewATR(period)
	if err != nil {
		panic(err)
	}
	return a
}

// Update feeds a closed bar and returns the current ATR (zero until ready).
func (a *ATR) Update(c domain.Candle) float64 {
	return a.UpdateTrueRange(a.trueRange(c), c.Close)
}

// UpdateTrueRange feeds a precomputed true range. closePrice becomes the previous
// close for the next bar.
func (a *ATR) UpdateTrueRange(tr, closePrice float64) float64 {
	a.prevClose = closePrice
	a.hasPrev = true

	if !a.ready {
		a.seed = append(a.seed, tr)
		if len(a.seed) == a.period {
			var sum float64
			for _, v := range a.seed {
				sum += v
			}
			a.value = sum / float64(a.period)
			a.ready = true
		}
		return a.value
	}

	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return a.value
}

func (a *ATR) trueRange(c domain.Candle) float64 {
	hl := c.High - c.Low
	if !a.hasPrev {
		return hl
	}
	return math.Max(hl, math.Max(math.Abs(c.High-a.prevClose), math.Abs(c.Low-a.prevClose)))
}

// Value returns the last computed ATR.
func (a *ATR) Value() float64 { return a.value }

// Ready reports whether the seed window is complete.
func (a *ATR) Ready() bool { return a.ready }

// Period returns the smoothing period.
func (a *ATR) Period() int { return a.period }

// Reset clears all state.
func (a *ATR) Reset() {
	a.prevClose = 0
	a.hasPrev = false
	a.seed = a.seed[:0]
	a.value = 0
	a.ready = false
}

package indicator

import (
	"fmt"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Channel is one Donchian reading.
type Channel struct {
	Upper  float64
	Lower  float64
	Middle float64
}

// Donchian tracks the highest high and lowest low over a rolling window.
type Donchian struct {
	period  int
	highs   []float64
	lows    []float64
	current Channel
	ready   bool
}

// NewDonchian returns a channel over period bars.
func NewDonchian(period int) (*Donchian, error) {
	if period < 1 {
		return nil, fmt.Errorf("indicator: donchian period must be >= 1, got %d", period)
	}
	return &Donchian{period: period}, nil
}

// Update feeds a bar. The channel keeps its previous reading until the window
// is full.
func (d *Donchian) Update(c domain.Candle) Channel {
	d.highs = append(d.highs, c.High)
	d.lows = append(d.lows, c.Low)
	if len(d.highs) > d.period {
		d.highs = d.highs[1:]
		d.lows = d.lows[1:]
	}
	if len(d.highs) == d.period {
		upper, lower := d.highs[0], d.lows[0]
		for i := 1; i < d.period; i++ {
			upper = max(upper, d.highs[i])
			lower = min(lower, d.lows[i])
		}
		d.current = Channel{Upper: upper, Lower: lower, Middle: (upper + lower) / 2}
		d.ready = true
	}
	return d.current
}

func (d *Donchian) Value() Channel { return d.current }
func (d *Donchian) Ready() bool    { return d.ready }

func (d *Donchian) Reset() {
	d.highs = d.highs[:0]
	d.lows = d.lows[:0]
	d.current = Channel{}
	d.ready = false
}

package indicator

import "fmt"

// EMA is an exponential moving average seeded with the simple mean of the
// first period values. Before it is ready Value returns the running mean.
type EMA struct {
	period     int
	multiplier float64
	sum        float64
	count      int
	value      float64
	ready      bool
}

// NewEMA returns an EMA over period values.
func NewEMA(period int) (*EMA, error) {
	if period < 1 {
		return nil, fmt.Errorf("indicator: ema period must be >= 1, got %d", period)
	}
	return &EMA{period: period, multiplier: 2 / float64(period+1)}, nil
}

// Update feeds a value and returns the current average.
func (e *EMA) Update(v float64) float64 {
	if e.ready {
		e.value = (v-e.value)*e.multiplier + e.value
		return e.value
	}
	e.sum += v
	e.count++
	e.value = e.sum / float64(e.count)
	if e.count == e.period {
		e.ready = true
	}
	return e.value
}

func (e *EMA) Value() float64 { return e.value }
func (e *EMA) Ready() bool    { return e.ready }

func (e *EMA) Reset() {
	e.sum, e.count, e.value, e.ready = 0, 0, 0, false
}

package indicator

import "fmt"

// RSI is Wilder's relative strength index over closes.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	count   int
	gainSum float64
	lossSum float64
	avgGain float64
	avgLoss float64
	value   float64
	ready   bool
}

// NewRSI returns an RSI over period changes.
func NewRSI(period int) (*RSI, error) {
	if period < 1 {
		return nil, fmt.Errorf("indicator: rsi period must be >= 1, got %d", period)
	}
	return &RSI{period: period}, nil
}

// Update feeds a close and returns the current RSI (zero until ready).
func (r *RSI) Update(closePrice float64) float64 {
	if !r.hasPrev {
		r.prev = closePrice
		r.hasPrev = true
		return r.value
	}
	change := closePrice - r.prev
	r.prev = closePrice
	gain, loss := max(change, 0), max(-change, 0)

	if !r.ready {
		r.gainSum += gain
		r.lossSum += loss
		r.count++
		if r.count < r.period {
			return r.value
		}
		r.avgGain = r.gainSum / float64(r.period)
		r.avgLoss = r.lossSum / float64(r.period)
		r.ready = true
	} else {
		p := float64(r.period)
		r.avgGain = (r.avgGain*(p-1) + gain) / p
		r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	}

	switch {
	case r.avgLoss == 0 && r.avgGain == 0:
		r.value = 50
	case r.avgLoss == 0:
		r.value = 100
	default:
		rs := r.avgGain / r.avgLoss
		r.value = 100 - 100/(1+rs)
	}
	return r.value
}

func (r *RSI) Value() float64 { return r.value }
func (r *RSI) Ready() bool    { return r.ready }

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

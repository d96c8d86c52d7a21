package strategy

import (
	"fmt"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/indicator"
)

// DonchianName is the registry key of DonchianBreakout.
const DonchianName = "donchian"

const (
	defaultDonchianPeriod = 20
	defaultATRPeriod      = 14
	defaultATRStopMult    = 2.0
	defaultEMAPeriod      = 50
)

// DonchianBreakout enters when a close breaks above the previous channel
// upper band (and above the EMA trend filter when enabled) and exits when a
// close breaks below the previous lower band.
//
// Params: "donchian_period", "atr_period", "atr_stop_mult", "ema_period"
// (0 disables the trend filter).
type DonchianBreakout struct {
	channel    *indicator.Donchian
	atr        *indicator.ATR
	ema        *indicator.EMA
	stopMult   float64
	inPosition bool
}

// NewDonchianBreakout builds the strategy from cfg.Params.
func NewDonchianBreakout(cfg Config) (*DonchianBreakout, error) {
	ch, err := indicator.NewDonchian(cfg.intParam("donchian_period", defaultDonchianPeriod))
	if err != nil {
		return nil, err
	}
	atr, err := indicator.NewATR(cfg.intParam("atr_period", defaultATRPeriod))
	if err != nil {
		return nil, err
	}
	s := &DonchianBreakout{
		channel:  ch,
		atr:      atr,
		stopMult: cfg.floatParam("atr_stop_mult", defaultATRStopMult),
	}
	if p := cfg.intParam("ema_period", defaultEMAPeriod); p > 0 {
		if s.ema, err = indicator.NewEMA(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *DonchianBreakout) Name() string { return DonchianName }

// OnCandle evaluates one closed bar.
func (s *DonchianBreakout) OnCandle(c domain.Candle) domain.Signal {
	atr := s.atr.Update(c)
	var ema float64
	if s.ema != nil {
		ema = s.ema.Update(c.Close)
	}
	prev, wasReady := s.channel.Value(), s.channel.Ready()
	s.channel.Update(c)

	if !wasReady || !s.atr.Ready() {
		return domain.NoSignal
	}

	if !s.inPosition && c.Close > prev.Upper && s.trendOK(c.Close, ema) {
		s.inPosition = true
		return domain.Signal{
			Action:   domain.SignalEnter,
			Price:    c.Close,
			StopLoss: c.Close - atr*s.stopMult,
			Reason:   fmt.Sprintf("Donchian breakout above %.0f", prev.Upper),
		}
	}
	if s.inPosition && c.Close < prev.Lower {
		s.inPosition = false
		return domain.Signal{
			Action: domain.SignalExit,
			Price:  c.Close,
			Reason: fmt.Sprintf("Donchian breakdown below %.0f", prev.Lower),
		}
	}
	return domain.NoSignal
}

func (s *DonchianBreakout) trendOK(close, ema float64) bool {
	if s.ema == nil {
		return true
	}
	return s.ema.Ready() && close > ema
}

// NotifyPositionClosed clears the position flag after an engine-side close.
func (s *DonchianBreakout) NotifyPositionClosed() { s.inPosition = false }

// Reset clears indicator state.
func (s *DonchianBreakout) Reset() {
	s.channel.Reset()
	s.atr.Reset()
	if s.ema != nil {
		s.ema.Reset()
	}
	s.inPosition = false
}

package strategy

import (
	"fmt"

	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/indicator"
)

// RSIName is the registry key of RSIReversion.
const RSIName = "rsi"

const (
	defaultRSIPeriod  = 14
	defaultOversold   = 30.0
	defaultOverbought = 70.0
)

// RSIReversion buys when RSI crosses back up through the oversold level and
// sells once it reaches overbought.
//
// Params: "rsi_period", "oversold", "overbought", "atr_period", "atr_stop_mult".
type RSIReversion struct {
	rsi        *indicator.RSI
	atr        *indicator.ATR
	oversold   float64
	overbought float64
	stopMult   float64
	prevRSI    float64
	hasPrev    bool
	inPosition bool
}

// NewRSIReversion builds the strategy from cfg.Params.
func NewRSIReversion(cfg Config) (*RSIReversion, error) {
	rsi, err := indicator.NewRSI(cfg.intParam("rsi_period", defaultRSIPeriod))
	if err != nil {
		return nil, err
	}
	atr, err := indicator.NewATR(cfg.intParam("atr_period", defaultATRPeriod))
	if err != nil {
		return nil, err
	}
	s := &RSIReversion{
		rsi:        rsi,
		atr:        atr,
		oversold:   cfg.floatParam("oversold", defaultOversold),
		overbought: cfg.floatParam("overbought", defaultOverbought),
		stopMult:   cfg.floatParam("atr_stop_mult", defaultATRStopMult),
	}
	if s.oversold >= s.overbought {
		return nil, fmt.Errorf("oversold %.1f must be below overbought %.1f", s.oversold, s.overbought)
	}
	return s, nil
}

func (s *RSIReversion) Name() string { return RSIName }

func (s *RSIReversion) OnCandle(c domain.Candle) domain.Signal {
	atr := s.atr.Update(c)
	cur := s.rsi.Update(c.Close)
	if !s.rsi.Ready() || !s.atr.Ready() {
		return domain.NoSignal
	}
	prev, hadPrev := s.prevRSI, s.hasPrev
	s.prevRSI, s.hasPrev = cur, true

	if !s.inPosition && hadPrev && prev < s.oversold && cur >= s.oversold {
		s.inPosition = true
		return domain.Signal{
			Action:   domain.SignalEnter,
			Price:    c.Close,
			StopLoss: c.Close - atr*s.stopMult,
			Reason:   fmt.Sprintf("RSI crossed up through %.0f (%.1f)", s.oversold, cur),
		}
	}
	if s.inPosition && cur >= s.overbought {
		s.inPosition = false
		return domain.Signal{
			Action: domain.SignalExit,
			Price:  c.Close,
			Reason: fmt.Sprintf("RSI overbought (%.1f)", cur),
		}
	}
	return domain.NoSignal
}

func (s *RSIReversion) NotifyPositionClosed() { s.inPosition = false }

func (s *RSIReversion) Reset() {
	s.rsi.Reset()
	s.atr.Reset()
	s.prevRSI, s.hasPrev, s.inPosition = 0, false, false
}

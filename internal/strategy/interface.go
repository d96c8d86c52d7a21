// Package strategy holds the pluggable signal generators. The engines only
// depend on the Strategy contract.
package strategy

import (
	"github.com/suhyunle/coin-trader/internal/domain"
)

// Strategy turns closed bars into ENTER, EXIT or NONE signals.
type Strategy interface {
	Name() string
	OnCandle(c domain.Candle) domain.Signal
	Reset()
}

// PositionCloser is implemented by strategies that track their own position
// flag and need to hear when the engine closed the position (for example on a
// stop hit the strategy did not request).
type PositionCloser interface {
	NotifyPositionClosed()
}

// Config selects and parameterises a strategy.
type Config struct {
	Name   string
	Params map[string]any
}

func (c Config) intParam(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

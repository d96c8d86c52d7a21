package report

import (
	"strings"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Order id prefixes the engines use for closes they initiate themselves.
const (
	StopOrderPrefix       = "stop-"
	PaperStopOrderPrefix  = "paper-stop-"
	ForceCloseOrderPrefix = "force-close"
)

// TradeLog pairs POSITION_OPENED and POSITION_CLOSED events into trade
// records. Holding bars count CANDLE events between the two.
func TradeLog(events []domain.Event, mode domain.TradingMode) []domain.TradeRecord {
	var (
		trades   []domain.TradeRecord
		open     *domain.PositionOpenedEvent
		bars     int
		entryBar int
	)
	for _, e := range events {
		switch ev := e.(type) {
		case domain.CandleEvent:
			bars++
		case domain.PositionOpenedEvent:
			cp := ev
			open = &cp
			entryBar = bars
		case domain.PositionClosedEvent:
			if open == nil {
				continue
			}
			trades = append(trades, domain.TradeRecord{
				EntryTime:   open.Timestamp,
				ExitTime:    ev.Timestamp,
				EntryPrice:  ev.EntryPrice,
				ExitPrice:   ev.ExitPrice,
				Qty:         ev.Qty,
				PnL:         ev.PnL,
				PnLPct:      ev.PnLPct,
				HoldingBars: bars - entryBar,
				Reason:      exitReason(events, ev.Timestamp),
				Mode:        string(mode),
			})
			open = nil
		}
	}
	return trades
}

func exitReason(events []domain.Event, ts time.Time) string {
	for _, e := range events {
		if s, ok := e.(domain.SignalEvent); ok && s.Timestamp.Equal(ts) && s.Signal.Reason != "" {
			return s.Signal.Reason
		}
	}
	for _, e := range events {
		f, ok := e.(domain.OrderFilledEvent)
		if !ok || !f.Timestamp.Equal(ts) {
			continue
		}
		switch id := f.Fill.OrderID; {
		case strings.HasPrefix(id, StopOrderPrefix), strings.HasPrefix(id, PaperStopOrderPrefix):
			return "Stop loss hit"
		case strings.HasPrefix(id, ForceCloseOrderPrefix):
			return "End of data"
		}
	}
	return "unknown"
}

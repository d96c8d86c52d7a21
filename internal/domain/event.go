package domain

import "time"

// EventType tags a TradingEvent.
type EventType string

const (
	EventCandle         EventType = "CANDLE"
	EventSignal         EventType = "SIGNAL"
	EventOrderCreated   EventType = "ORDER_CREATED"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderCancelled EventType = "ORDER_CANCELLED"
	EventPositionOpened EventType = "POSITION_OPENED"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventStopUpdated    EventType = "STOP_UPDATED"
)

// Event is a fact emitted during execution. The set of implementations is
// closed: only the types in this file satisfy it.
type Event interface {
	Type() EventType
	At() time.Time
	isEvent()
}

// CandleEvent records a bar entering the engine.
type CandleEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Candle    Candle    `json:"candle"`
}

// SignalEvent records the strategy decision for a bar.
type SignalEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Signal    Signal    `json:"signal"`
}

// OrderCreatedEvent records a new pending order.
type OrderCreatedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Order     Order     `json:"order"`
}

// OrderFilledEvent records a confirmed execution.
type OrderFilledEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Fill      Fill      `json:"fill"`
}

// OrderCancelledEvent records a pending order being dropped.
type OrderCancelledEvent struct {
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id"`
}

// PositionOpenedEvent carries a copy of the opened position.
type PositionOpenedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Position  Position  `json:"position"`
}

// PositionClosedEvent carries the realised result of a round trip.
type PositionClosedEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Qty        float64   `json:"qty"`
	PnL        float64   `json:"pnl"`
	PnLPct     float64   `json:"pnl_pct"`
}

// StopUpdatedEvent records a trailing stop ratchet.
type StopUpdatedEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	StopLoss     float64   `json:"stop_loss"`
	TrailingStop float64   `json:"trailing_stop"`
}

func (e CandleEvent) Type() EventType         { return EventCandle }
func (e SignalEvent) Type() EventType         { return EventSignal }
func (e OrderCreatedEvent) Type() EventType   { return EventOrderCreated }
func (e OrderFilledEvent) Type() EventType    { return EventOrderFilled }
func (e OrderCancelledEvent) Type() EventType { return EventOrderCancelled }
func (e PositionOpenedEvent) Type() EventType { return EventPositionOpened }
func (e PositionClosedEvent) Type() EventType { return EventPositionClosed }
func (e StopUpdatedEvent) Type() EventType    { return EventStopUpdated }

func (e CandleEvent) At() time.Time         { return e.Timestamp }
func (e SignalEvent) At() time.Time         { return e.Timestamp }
func (e OrderCreatedEvent) At() time.Time   { return e.Timestamp }
func (e OrderFilledEvent) At() time.Time    { return e.Timestamp }
func (e OrderCancelledEvent) At() time.Time { return e.Timestamp }
func (e PositionOpenedEvent) At() time.Time { return e.Timestamp }
func (e PositionClosedEvent) At() time.Time { return e.Timestamp }
func (e StopUpdatedEvent) At() time.Time    { return e.Timestamp }

func (CandleEvent) isEvent()         {}
func (SignalEvent) isEvent()         {}
func (OrderCreatedEvent) isEvent()   {}
func (OrderFilledEvent) isEvent()    {}
func (OrderCancelledEvent) isEvent() {}
func (PositionOpenedEvent) isEvent() {}
func (PositionClosedEvent) isEvent() {}
func (StopUpdatedEvent) isEvent()    {}

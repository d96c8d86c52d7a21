package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType selects how the fill model matches an order against a bar.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is an order attempt. Qty is a quote (KRW) notional for BUY orders
// and a base (BTC) quantity for SELL orders. Price is zero for market orders.
type Order struct {
	ID        string      `json:"id"`
	Side      OrderSide   `json:"side"`
	Type      OrderType   `json:"type"`
	Price     float64     `json:"price"`
	Qty       float64     `json:"qty"`
	StopLoss  float64     `json:"stop_loss,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	Status    OrderStatus `json:"status"`
}

// Fill is a confirmed execution. Qty is always in base units and Fee in quote units.
type Fill struct {
	OrderID   string    `json:"order_id"`
	Side      OrderSide `json:"side"`
	Price     float64   `json:"price"`
	Qty       float64   `json:"qty"`
	Fee       float64   `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

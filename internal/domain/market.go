package domain

import "time"

// Ticker is the latest trade summary for the market.
type Ticker struct {
	Market         string    `json:"market"`
	TradePrice     float64   `json:"trade_price"`
	OpeningPrice   float64   `json:"opening_price"`
	HighPrice      float64   `json:"high_price"`
	LowPrice       float64   `json:"low_price"`
	PrevClosePrice float64   `json:"prev_closing_price"`
	ChangeRate     float64   `json:"change_rate"`
	Volume24h      float64   `json:"acc_trade_volume_24h"`
	Timestamp      time.Time `json:"timestamp"`
}

// Balance is the account state for the traded pair.
type Balance struct {
	TotalKRW     float64 `json:"total_krw"`
	AvailableKRW float64 `json:"available_krw"`
	TotalBTC     float64 `json:"total_btc"`
	AvailableBTC float64 `json:"available_btc"`
}

// OrderState is the exchange-side order lifecycle.
type OrderState string

const (
	OrderStateWait   OrderState = "wait"
	OrderStateWatch  OrderState = "watch"
	OrderStateDone   OrderState = "done"
	OrderStateCancel OrderState = "cancel"
)

// Terminal reports whether the exchange will no longer change the order.
func (s OrderState) Terminal() bool {
	return s == OrderStateDone || s == OrderStateCancel
}

// ExecutedTrade is one partial execution of an exchange order.
type ExecutedTrade struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Funds  float64 `json:"funds"`
}

// OrderInfo is the exchange view of one order.
type OrderInfo struct {
	ID             string          `json:"id"`
	Side           OrderSide       `json:"side"`
	OrdType        string          `json:"ord_type"`
	Price          float64         `json:"price"`
	Volume         float64         `json:"volume"`
	ExecutedVolume float64         `json:"executed_volume"`
	PaidFee        float64         `json:"paid_fee"`
	State          OrderState      `json:"state"`
	Trades         []ExecutedTrade `json:"trades,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// OrderFilter narrows an order list query.
type OrderFilter struct {
	State OrderState
	Page  int
	Limit int
}

// OrderChance carries the exchange's trading constraints for the market.
type OrderChance struct {
	MarketState  string  `json:"market_state"`
	BidMinTotal  float64 `json:"bid_min_total"`
	MaxTotal     float64 `json:"max_total"`
	BidFee       float64 `json:"bid_fee"`
	AskFee       float64 `json:"ask_fee"`
	BidAvailable float64 `json:"bid_available"`
	AskAvailable float64 `json:"ask_available"`
}

// Active reports whether the market accepts orders. An empty state is
// treated as active.
func (c OrderChance) Active() bool {
	return c.MarketState == "" || c.MarketState == "active"
}

// OrderResult is the outcome of an order submission.
type OrderResult struct {
	OrderID string `json:"order_id"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

package domain

import "context"

// MarketGateway is the exchange surface the engines depend on. Transient
// failures are retried inside the implementation; errors returned here are
// final for the call.
type MarketGateway interface {
	Ticker(ctx context.Context) (Ticker, error)
	OrderBook(ctx context.Context) (OrderbookSnapshot, error)
	Candles(ctx context.Context, n int) ([]Candle, error)
	MarketBuy(ctx context.Context, quoteAmount float64) (OrderResult, error)
	MarketSell(ctx context.Context, baseQty float64) (OrderResult, error)
	Balance(ctx context.Context) (Balance, error)
	Order(ctx context.Context, id string) (OrderInfo, error)
	Orders(ctx context.Context, filter OrderFilter) ([]OrderInfo, error)
	OrderChance(ctx context.Context) (OrderChance, error)
}

// MarketStatusSource reports exchange-wide trading warnings.
type MarketStatusSource interface {
	VirtualAssetWarning(ctx context.Context) (bool, error)
}

package bithumb

import "fmt"

// Default hosts for the Bithumb v1 API.
const (
	DefaultRestURL = "https://api.bithumb.com"
	DefaultWsURL   = "wss://ws-api.bithumb.com/websocket/v1"
)

const (
	pathMarketAll      = "/v1/market/all"
	pathCandlesDays    = "/v1/candles/days"
	pathTradesTicks    = "/v1/trades/ticks"
	pathTicker         = "/v1/ticker"
	pathOrderbook      = "/v1/orderbook"
	pathVirtualWarning = "/v1/market/virtual_asset_warning"

	pathAccounts    = "/v1/accounts"
	pathOrderChance = "/v1/orders/chance"
	pathOrder       = "/v1/order"
	pathOrders      = "/v1/orders"
)

// maxCandlesPerRequest is the server-side cap on the candles count param.
const maxCandlesPerRequest = 200

func pathCandlesMinutes(unit int) string {
	return fmt.Sprintf("/v1/candles/minutes/%d", unit)
}

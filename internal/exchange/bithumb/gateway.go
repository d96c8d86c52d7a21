package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

var validMinuteUnits = map[int]bool{1: true, 3: true, 5: true, 10: true, 15: true, 30: true, 60: true, 240: true}

// Gateway binds the REST client to one market and implements
// domain.MarketGateway and domain.MarketStatusSource.
type Gateway struct {
	client *Client
	market string
	quote  string
	base   string
	unit   int
}

// NewGateway returns a Gateway for market (e.g. "KRW-BTC") using bars of
// the given width, which must be a supported minute unit.
func NewGateway(client *Client, market string, width time.Duration) (*Gateway, error) {
	quote, base, ok := strings.Cut(strings.ToUpper(market), "-")
	if !ok || quote == "" || base == "" {
		return nil, fmt.Errorf("bithumb: invalid market %q", market)
	}
	unit := int(width / time.Minute)
	if width%time.Minute != 0 || !validMinuteUnits[unit] {
		return nil, fmt.Errorf("bithumb: unsupported candle width %s", width)
	}
	return &Gateway{
		client: client,
		market: quote + "-" + base,
		quote:  quote,
		base:   base,
		unit:   unit,
	}, nil
}

// Market returns the normalized market code.
func (g *Gateway) Market() string { return g.market }

// Markets lists every market code the exchange trades.
func (g *Gateway) Markets(ctx context.Context) ([]string, error) {
	var items []struct {
		Market string `json:"market"`
	}
	if err := g.client.getPublic(ctx, pathMarketAll, nil, &items); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Market)
	}
	return out, nil
}

// Ticker returns the latest trade summary.
func (g *Gateway) Ticker(ctx context.Context) (domain.Ticker, error) {
	var items []apiTicker
	if err := g.client.getPublic(ctx, pathTicker, []param{{"markets", g.market}}, &items); err != nil {
		return domain.Ticker{}, err
	}
	if len(items) == 0 {
		return domain.Ticker{}, fmt.Errorf("bithumb: ticker %s: %w", g.market, domain.ErrNotFound)
	}
	return items[0].toDomain(), nil
}

// OrderBook returns the current order book snapshot.
func (g *Gateway) OrderBook(ctx context.Context) (domain.OrderbookSnapshot, error) {
	var items []apiOrderbook
	if err := g.client.getPublic(ctx, pathOrderbook, []param{{"markets", g.market}}, &items); err != nil {
		return domain.OrderbookSnapshot{}, err
	}
	if len(items) == 0 {
		return domain.OrderbookSnapshot{}, fmt.Errorf("bithumb: orderbook %s: %w", g.market, domain.ErrNotFound)
	}
	return items[0].toDomain(), nil
}

// Candles returns up to n of the most recent bars, oldest first. Requests
// beyond one page walk backwards using the "to" cursor.
func (g *Gateway) Candles(ctx context.Context, n int) ([]domain.Candle, error) {
	if n <= 0 {
		return nil, nil
	}
	var (
		all []apiCandle
		to  string
	)
	for len(all) < n {
		count := min(n-len(all), maxCandlesPerRequest)
		params := []param{{"market", g.market}, {"count", strconv.Itoa(count)}}
		if to != "" {
			params = append(params, param{"to", to})
		}
		var page []apiCandle
		if err := g.client.getPublic(ctx, pathCandlesMinutes(g.unit), params, &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < count {
			break
		}
		oldest := page[len(page)-1].toDomain().Timestamp
		to = oldest.UTC().Format(time.RFC3339)
	}
	return candlesOldestFirst(all), nil
}

// DailyCandles returns up to n daily bars, oldest first.
func (g *Gateway) DailyCandles(ctx context.Context, n int) ([]domain.Candle, error) {
	var page []apiCandle
	params := []param{{"market", g.market}, {"count", strconv.Itoa(min(max(n, 1), maxCandlesPerRequest))}}
	if err := g.client.getPublic(ctx, pathCandlesDays, params, &page); err != nil {
		return nil, err
	}
	return candlesOldestFirst(page), nil
}

// RecentTicks returns the latest trade prints, newest first.
func (g *Gateway) RecentTicks(ctx context.Context, n int) ([]domain.Tick, error) {
	var items []struct {
		Market      string    `json:"market"`
		TradePrice  flexFloat `json:"trade_price"`
		TradeVolume flexFloat `json:"trade_volume"`
		AskBid      string    `json:"ask_bid"`
		Timestamp   int64     `json:"timestamp"`
	}
	params := []param{{"market", g.market}, {"count", strconv.Itoa(max(n, 1))}}
	if err := g.client.getPublic(ctx, pathTradesTicks, params, &items); err != nil {
		return nil, err
	}
	out := make([]domain.Tick, 0, len(items))
	for _, it := range items {
		out = append(out, wsTrade{
			Code:        g.market,
			TradePrice:  it.TradePrice,
			TradeVolume: it.TradeVolume,
			AskBid:      it.AskBid,
			Timestamp:   it.Timestamp,
		}.toDomain())
	}
	return out, nil
}

// VirtualAssetWarning reports whether the traded market is on the
// exchange's warning list.
func (g *Gateway) VirtualAssetWarning(ctx context.Context) (bool, error) {
	var raw json.RawMessage
	if err := g.client.getPublic(ctx, pathVirtualWarning, nil, &raw); err != nil {
		return false, err
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var wrapped struct {
			Data []string `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return false, fmt.Errorf("bithumb: decode warning list: %w", err)
		}
		list = wrapped.Data
	}
	for _, m := range list {
		if strings.EqualFold(m, g.market) {
			return true, nil
		}
	}
	return false, nil
}

// Balance returns quote and base holdings. Totals include locked funds.
func (g *Gateway) Balance(ctx context.Context) (domain.Balance, error) {
	var accounts []apiAccount
	if err := g.client.doPrivate(ctx, http.MethodGet, pathAccounts, nil, &accounts); err != nil {
		return domain.Balance{}, err
	}
	return accountsToBalance(accounts, g.quote, g.base), nil
}

// OrderChance returns the market's order constraints and available funds.
func (g *Gateway) OrderChance(ctx context.Context) (domain.OrderChance, error) {
	var chance apiChance
	if err := g.client.doPrivate(ctx, http.MethodGet, pathOrderChance, []param{{"market", g.market}}, &chance); err != nil {
		return domain.OrderChance{}, err
	}
	return chance.toDomain(), nil
}

// Order fetches one order by id.
func (g *Gateway) Order(ctx context.Context, id string) (domain.OrderInfo, error) {
	var o apiOrder
	if err := g.client.doPrivate(ctx, http.MethodGet, pathOrder, []param{{"uuid", id}}, &o); err != nil {
		return domain.OrderInfo{}, err
	}
	return o.toDomain(), nil
}

// Orders lists orders for the market.
func (g *Gateway) Orders(ctx context.Context, filter domain.OrderFilter) ([]domain.OrderInfo, error) {
	params := []param{{"market", g.market}}
	if filter.State != "" {
		params = append(params, param{"state", string(filter.State)})
	}
	if filter.Page > 0 {
		params = append(params, param{"page", strconv.Itoa(filter.Page)})
	}
	if filter.Limit > 0 {
		params = append(params, param{"limit", strconv.Itoa(filter.Limit)})
	}
	var orders []apiOrder
	if err := g.client.doPrivate(ctx, http.MethodGet, pathOrders, params, &orders); err != nil {
		return nil, err
	}
	out := make([]domain.OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.toDomain())
	}
	return out, nil
}

// CancelOrder requests cancellation of an open order.
func (g *Gateway) CancelOrder(ctx context.Context, id string) error {
	return g.client.doPrivate(ctx, http.MethodDelete, pathOrder, []param{{"uuid", id}}, nil)
}

// MarketBuy spends quoteAmount KRW at market. Amounts are floored to whole
// won.
func (g *Gateway) MarketBuy(ctx context.Context, quoteAmount float64) (domain.OrderResult, error) {
	krw := math.Floor(quoteAmount)
	if krw <= 0 {
		return domain.OrderResult{}, fmt.Errorf("bithumb: market buy %.0f: %w", quoteAmount, domain.ErrInvalidOrder)
	}
	return g.placeOrder(ctx, []param{
		{"market", g.market},
		{"side", "bid"},
		{"ord_type", "price"},
		{"price", strconv.FormatFloat(krw, 'f', 0, 64)},
	})
}

// MarketSell sells baseQty at market, truncated to eight decimals.
func (g *Gateway) MarketSell(ctx context.Context, baseQty float64) (domain.OrderResult, error) {
	qty := math.Floor(baseQty*1e8) / 1e8
	if qty <= 0 {
		return domain.OrderResult{}, fmt.Errorf("bithumb: market sell %g: %w", baseQty, domain.ErrInvalidOrder)
	}
	return g.placeOrder(ctx, []param{
		{"market", g.market},
		{"side", "ask"},
		{"ord_type", "market"},
		{"volume", strconv.FormatFloat(qty, 'f', -1, 64)},
	})
}

func (g *Gateway) placeOrder(ctx context.Context, body []param) (domain.OrderResult, error) {
	var res apiOrderResult
	if err := g.client.doPrivate(ctx, http.MethodPost, pathOrders, body, &res); err != nil {
		return domain.OrderResult{Message: err.Error()}, err
	}
	if res.UUID == "" {
		return domain.OrderResult{Message: "response carried no order id"}, nil
	}
	return domain.OrderResult{OrderID: res.UUID, Success: true}, nil
}

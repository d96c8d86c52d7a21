package bithumb

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const testSecret = "short-secret"

func newTestGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(ClientConfig{
		BaseURL:    srv.URL,
		AccessKey:  "access",
		SecretKey:  testSecret,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
		RetryBase:  time.Millisecond,
	}, nil)
	g, err := NewGateway(c, "krw-btc", 5*time.Minute)
	require.NoError(t, err)
	return g
}

func TestNewGatewayValidation(t *testing.T) {
	c := NewClient(ClientConfig{}, nil)

	_, err := NewGateway(c, "BTC", 5*time.Minute)
	assert.Error(t, err)
	_, err = NewGateway(c, "KRW-BTC", 7*time.Minute)
	assert.Error(t, err)

	g, err := NewGateway(c, "krw-btc", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", g.Market())
}

func TestTickerParsesNumbers(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ticker", r.URL.Path)
		assert.Equal(t, "KRW-BTC", r.URL.Query().Get("markets"))
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `[{"market":"KRW-BTC","trade_price":95000000,"opening_price":94000000,
			"high_price":96000000,"low_price":93000000,"prev_closing_price":94000000,
			"signed_change_rate":0.0106,"acc_trade_volume_24h":"123.5","timestamp":1700000000000}]`)
	})

	tk, err := g.Ticker(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 95000000.0, tk.TradePrice)
	assert.Equal(t, 123.5, tk.Volume24h)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tk.Timestamp)
}

func TestOrderBookSortsSides(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `[{"market":"KRW-BTC","timestamp":1,"orderbook_units":[
			{"ask_price":101,"bid_price":99,"ask_size":1,"bid_size":2},
			{"ask_price":100,"bid_price":98,"ask_size":3,"bid_size":0},
			{"ask_price":102,"bid_price":99.5,"ask_size":1,"bid_size":1}]}]`)
	})

	snap, err := g.OrderBook(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.BestAsk())
	assert.Equal(t, 99.5, snap.BestBid())
	assert.Len(t, snap.Bids, 2)
	assert.Len(t, snap.Asks, 3)
}

func TestCandlesOldestFirst(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/candles/minutes/5", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("count"))
		io.WriteString(w, `[
			{"market":"KRW-BTC","candle_date_time_utc":"2024-03-01T00:05:00","opening_price":2,"high_price":3,"low_price":1,"trade_price":2.5,"candle_acc_trade_volume":10,"timestamp":1},
			{"market":"KRW-BTC","candle_date_time_utc":"2024-03-01T00:00:00","opening_price":1,"high_price":2,"low_price":0.5,"trade_price":2,"candle_acc_trade_volume":5,"timestamp":1}]`)
	})

	bars, err := g.Candles(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), bars[0].Timestamp)
	assert.Equal(t, 2.5, bars[1].Close)
	assert.Equal(t, 10.0, bars[1].Volume)
}

func TestBalanceIncludesLocked(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		io.WriteString(w, `[{"currency":"KRW","balance":"1000000.5","locked":"500"},
			{"currency":"BTC","balance":"0.01","locked":"0.002"},
			{"currency":"ETH","balance":"3","locked":"0"}]`)
	})

	b, err := g.Balance(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1000000.5, b.AvailableKRW)
	assert.Equal(t, 1000500.5, b.TotalKRW)
	assert.Equal(t, 0.01, b.AvailableBTC)
	assert.InDelta(t, 0.012, b.TotalBTC, 1e-12)
}

func TestMarketBuyBodyAndHash(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Equal(t, `{"market":"KRW-BTC","side":"bid","ord_type":"price","price":"500000"}`, string(body))

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims := parseToken(t, token, []byte(testSecret))
		assert.Equal(t, queryHash("market=KRW-BTC&side=bid&ord_type=price&price=500000"), claims["query_hash"])

		io.WriteString(w, `{"uuid":"ord-1","side":"bid","ord_type":"price"}`)
	})

	res, err := g.MarketBuy(t.Context(), 500000.9)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ord-1", res.OrderID)
}

func TestMarketSellTruncatesVolume(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"volume":"0.12345678"`)
		io.WriteString(w, `{"uuid":"ord-2"}`)
	})

	res, err := g.MarketSell(t.Context(), 0.123456789)
	require.NoError(t, err)
	assert.Equal(t, "ord-2", res.OrderID)

	_, err = g.MarketSell(t.Context(), 0.000000001)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
}

func TestOrderResultWithoutID(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	})

	res, err := g.MarketBuy(t.Context(), 10000)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestOrderParsesTrades(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "uuid=ord-9", r.URL.RawQuery)
		io.WriteString(w, `{"uuid":"ord-9","side":"ask","ord_type":"market","state":"done",
			"created_at":"2024-03-01T09:00:00+09:00","volume":"0.01","executed_volume":"0.01",
			"paid_fee":"25","trades":[{"price":"1000","volume":"0.004","funds":"4"},{"price":"1010","volume":"0.006","funds":"6.06"}]}`)
	})

	o, err := g.Order(t.Context(), "ord-9")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderSideSell, o.Side)
	assert.Equal(t, domain.OrderStateDone, o.State)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), o.CreatedAt)
	require.Len(t, o.Trades, 2)
	assert.Equal(t, 1010.0, o.Trades[1].Price)
}

func TestOrderChance(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"bid_fee":"0.0025","ask_fee":"0.0025",
			"market":{"id":"KRW-BTC","state":"active","bid":{"currency":"KRW","min_total":"5000"},"max_total":"1000000000"},
			"bid_account":{"currency":"KRW","balance":"700000","locked":"0"},
			"ask_account":{"currency":"BTC","balance":"0.1","locked":"0"}}`)
	})

	c, err := g.OrderChance(t.Context())
	require.NoError(t, err)
	assert.True(t, c.Active())
	assert.Equal(t, 5000.0, c.BidMinTotal)
	assert.Equal(t, 700000.0, c.BidAvailable)
	assert.Equal(t, 0.0025, c.AskFee)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `[]`)
	})

	_, err := g.Balance(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := g.Balance(t.Context())
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.EqualValues(t, 3, calls.Load())
}

func TestUnauthorizedIsFatal(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"name":"jwt_verification","message":"bad token"}}`)
	})

	_, err := g.Balance(t.Context())
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Contains(t, err.Error(), "jwt_verification")
	assert.EqualValues(t, 1, calls.Load())
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	g, err := NewGateway(NewClient(ClientConfig{BaseURL: "http://127.0.0.1:1"}, nil), "KRW-BTC", 5*time.Minute)
	require.NoError(t, err)

	_, err = g.Balance(t.Context())
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)
}

func TestVirtualAssetWarning(t *testing.T) {
	payloads := []string{`["KRW-ETH","KRW-BTC"]`, `{"data":["KRW-XRP"]}`}
	want := []bool{true, false}
	for i, p := range payloads {
		g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, p)
		})
		got, err := g.VirtualAssetWarning(t.Context())
		require.NoError(t, err)
		assert.Equal(t, want[i], got)
	}
}

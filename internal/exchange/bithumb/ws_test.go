package bithumb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSDispatchesTradesAndOrderbooks(t *testing.T) {
	subscribed := make(chan []map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req []map[string]any
		_ = json.Unmarshal(frame, &req)
		subscribed <- req

		_ = conn.WriteMessage(websocket.BinaryMessage, []byte(`{"type":"trade","code":"KRW-BTC","trade_price":100.5,"trade_volume":0.2,"ask_bid":"ASK","trade_timestamp":1700000000000}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"UP"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"orderbook","code":"KRW-BTC","timestamp":1,"orderbook_units":[{"ask_price":101,"bid_price":100,"ask_size":1,"bid_size":1}]}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewWSClient(wsURL(srv), []string{"KRW-BTC"}, nil)
	ticks := make(chan domain.Tick, 1)
	books := make(chan domain.OrderbookSnapshot, 1)
	c.OnTrade(func(tk domain.Tick) { ticks <- tk })
	c.OnOrderbook(func(s domain.OrderbookSnapshot) { books <- s })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case req := <-subscribed:
		require.Len(t, req, 3)
		assert.NotEmpty(t, req[0]["ticket"])
		assert.Equal(t, "trade", req[1]["type"])
		assert.Equal(t, "orderbook", req[2]["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription frame")
	}

	select {
	case tk := <-ticks:
		assert.Equal(t, 100.5, tk.Price)
		assert.Equal(t, domain.TickSideSell, tk.Side)
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), tk.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("no trade dispatched")
	}

	select {
	case s := <-books:
		assert.Equal(t, 100.0, s.BestBid())
		assert.Equal(t, 101.0, s.BestAsk())
	case <-time.After(2 * time.Second):
		t.Fatal("no orderbook dispatched")
	}

	assert.Equal(t, StateConnected, c.State())
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, StateClosed, c.State())
}

func TestWSReconnectsAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c := NewWSClient(wsURL(srv), []string{"KRW-BTC"}, nil)
	c.baseDelay = 10 * time.Millisecond

	var mu sync.Mutex
	var states []ConnState
	c.OnState(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return conns.Load() >= 2 && c.State() == StateConnected },
		2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateReconnecting)
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateClosed, states[len(states)-1])
}

package bithumb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pingPeriod is the keep-alive interval.
	pingPeriod = 30 * time.Second

	// pongWait bounds the silence tolerated before the connection is
	// considered dead. Must exceed pingPeriod.
	pongWait = 2 * pingPeriod

	reconnectDelay    = time.Second
	maxReconnectDelay = 60 * time.Second
)

// ConnState is the feed connection state.
type ConnState string

const (
	StateConnecting   ConnState = "CONNECTING"
	StateConnected    ConnState = "CONNECTED"
	StateReconnecting ConnState = "RECONNECTING"
	StateClosed       ConnState = "CLOSED"
)

// TradeHandler is called for every trade print.
type TradeHandler func(domain.Tick)

// OrderbookHandler is called for every order book snapshot.
type OrderbookHandler func(domain.OrderbookSnapshot)

// StateHandler is called on every connection state change.
type StateHandler func(ConnState)

// WSClient is the real-time feed for one or more markets. Run owns the
// connection lifecycle and reconnects with exponential backoff until its
// context is cancelled.
type WSClient struct {
	wsURL   string
	markets []string
	logger  *slog.Logger

	handlerMu         sync.RWMutex
	tradeHandlers     []TradeHandler
	orderbookHandlers []OrderbookHandler
	stateHandlers     []StateHandler

	mu    sync.RWMutex
	state ConnState

	// baseDelay is the first reconnect delay; tests shorten it.
	baseDelay time.Duration
}

// NewWSClient creates a feed client subscribed to trades and order books
// for markets.
func NewWSClient(wsURL string, markets []string, logger *slog.Logger) *WSClient {
	if wsURL == "" {
		wsURL = DefaultWsURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		wsURL:     wsURL,
		markets:   markets,
		logger:    logger.With(slog.String("component", "bithumb_ws")),
		state:     StateClosed,
		baseDelay: reconnectDelay,
	}
}

// OnTrade registers a trade handler.
func (w *WSClient) OnTrade(h TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, h)
}

// OnOrderbook registers an order book handler.
func (w *WSClient) OnOrderbook(h OrderbookHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.orderbookHandlers = append(w.orderbookHandlers, h)
}

// OnState registers a connection state handler.
func (w *WSClient) OnState(h StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, h)
}

// State returns the current connection state.
func (w *WSClient) State() ConnState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *WSClient) setState(s ConnState) {
	w.mu.Lock()
	if w.state == s {
		w.mu.Unlock()
		return
	}
	w.state = s
	w.mu.Unlock()

	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

// Run connects, subscribes and dispatches messages until ctx is done. A
// dropped connection is re-established after 1s, 2s, 4s ... capped at 60s;
// the delay resets after a successful connect.
func (w *WSClient) Run(ctx context.Context) error {
	defer w.setState(StateClosed)

	delay := w.baseDelay
	w.setState(StateConnecting)
	for {
		err := w.session(ctx, func() { delay = w.baseDelay })
		if ctx.Err() != nil {
			return nil
		}
		w.setState(StateReconnecting)
		w.logger.WarnContext(ctx, "feed disconnected",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection until it fails or ctx is done.
func (w *WSClient) session(ctx context.Context, onConnected func()) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bithumb/ws: connect: %w", err)
	}
	defer conn.Close()

	if err := w.subscribe(conn); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	onConnected()
	w.setState(StateConnected)
	w.logger.InfoContext(ctx, "feed connected", slog.Any("markets", w.markets))

	sessionDone := make(chan struct{})
	defer close(sessionDone)
	var writeMu sync.Mutex
	go w.pingLoop(conn, &writeMu, sessionDone)
	go func() {
		select {
		case <-ctx.Done():
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			conn.Close()
		case <-sessionDone:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("bithumb/ws: %w: %v", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		w.handleMessage(message)
	}
}

// subscribe sends the ticket, trade and orderbook request frame.
func (w *WSClient) subscribe(conn *websocket.Conn) error {
	frame := []map[string]any{
		{"ticket": uuid.NewString()},
		{"type": "trade", "codes": w.markets},
		{"type": "orderbook", "codes": w.markets},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("bithumb/ws: marshal subscription: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("bithumb/ws: subscribe: %w", err)
	}
	return nil
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn, writeMu *sync.Mutex, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw frame by its type field. Unparseable frames
// and status messages are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope wsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case "trade":
		var t wsTrade
		if err := json.Unmarshal(raw, &t); err != nil {
			return
		}
		tick := t.toDomain()
		if tick.Price <= 0 {
			return
		}

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(tick)
		}

	case "orderbook":
		var ob wsOrderbook
		if err := json.Unmarshal(raw, &ob); err != nil {
			return
		}
		snap := unitsToSnapshot(ob.Code, ob.Units, ob.Timestamp)

		w.handlerMu.RLock()
		handlers := w.orderbookHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}
	}
}

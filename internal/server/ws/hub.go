// Package ws pushes dashboard updates to browser clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	defaultReplay   = 50
	streamPoll      = 500 * time.Millisecond
	streamBatchSize = 200
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API sits behind the CORS and auth middleware already.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config sets the hub topics. EventTopic messages are also kept for replay
// to newly connected clients.
type Config struct {
	Topics      []string
	EventTopic  string
	EventStream string
	ReplaySize  int
	// Hello builds the first frame a client receives. Optional.
	Hello func() []byte
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// Hub fans messages out to websocket clients. Messages arrive either through
// Publish, when the dashboard runs in process, or from the redis signal bus
// when bus is set.
type Hub struct {
	cfg        Config
	bus        domain.SignalBus
	clients    map[*client]struct{}
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	logger     *slog.Logger

	mu     sync.RWMutex
	replay [][]byte
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	if cfg.ReplaySize <= 0 {
		cfg.ReplaySize = defaultReplay
	}
	return &Hub{
		cfg:        cfg,
		bus:        bus,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
}

// Publish queues payload for clients subscribed to channel. It never blocks
// the caller beyond ctx.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == h.cfg.EventTopic {
		h.remember(payload)
	}
	select {
	case h.broadcast <- broadcastMsg{topic: channel, data: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run serves registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, topic := range h.cfg.Topics {
			if topic == h.cfg.EventTopic && h.cfg.EventStream != "" {
				go h.tailStream(ctx)
				continue
			}
			go h.forward(ctx, topic)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.subscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("dropping message for slow client", slog.String("topic", msg.topic))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward relays one pub/sub channel into the broadcast loop.
func (h *Hub) forward(ctx context.Context, topic string) {
	msgs, err := h.bus.Subscribe(ctx, topic)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("topic", topic))
				return
			}
			select {
			case h.broadcast <- broadcastMsg{topic: topic, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// tailStream replays the event stream into the replay buffer, then polls
// for new entries and broadcasts them.
func (h *Hub) tailStream(ctx context.Context) {
	lastID := "0"
	catchingUp := true
	ticker := time.NewTicker(streamPoll)
	defer ticker.Stop()

	for {
		msgs, err := h.bus.StreamRead(ctx, h.cfg.EventStream, lastID, streamBatchSize)
		if err != nil && ctx.Err() == nil {
			h.logger.Warn("event stream read failed", slog.String("error", err.Error()))
		}
		for _, m := range msgs {
			lastID = m.ID
			h.remember(m.Payload)
			if catchingUp {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{topic: h.cfg.EventTopic, data: m.Payload}:
			case <-ctx.Done():
				return
			}
		}
		if len(msgs) == streamBatchSize {
			continue
		}
		catchingUp = false

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Hub) remember(payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replay = append(h.replay, payload)
	if over := len(h.replay) - h.cfg.ReplaySize; over > 0 {
		h.replay = slices.Clone(h.replay[over:])
	}
}

func (h *Hub) recent() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.replay)
}

// HandleWS upgrades GET /ws. New clients are subscribed to every topic and
// receive the hello frame followed by recent events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(h.cfg.Topics)),
	}
	for _, t := range h.cfg.Topics {
		c.subs[t] = true
	}

	if h.cfg.Hello != nil {
		if b := h.cfg.Hello(); b != nil {
			c.send <- b
		}
	}
	for _, b := range h.recent() {
		select {
		case c.send <- b:
		default:
		}
	}

	h.register <- c
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg changes a client's topics:
//
//	{"action":"subscribe","topics":["candle"]}
//	{"action":"unsubscribe","topics":["price"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg subscribeMsg
		if json.Unmarshal(data, &msg) == nil {
			c.apply(msg)
		}
	}
}

func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			c.subs[t] = true
		case "unsubscribe":
			delete(c.subs, t)
		}
	}
}

func (c *client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[topic]
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

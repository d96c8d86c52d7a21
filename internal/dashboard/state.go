// Package dashboard keeps the read model behind the HTTP API and pushes
// updates to websocket clients. It observes the engine and the market feed
// and never calls back into either.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	maxEvents  = 500
	maxCandles = 300
	pushBuffer = 1024
)

// Message types pushed to clients. Each is also the pub/sub channel name.
const (
	TopicPosition = "position"
	TopicEvent    = "event"
	TopicCandle   = "candle"
	TopicPrice    = "price"
	TopicConn     = "conn"
)

// Topics lists every push topic.
var Topics = []string{TopicPosition, TopicEvent, TopicCandle, TopicPrice, TopicConn}

// EventStream is the durable stream engine events are appended to.
const EventStream = "events"

// Publisher fans a payload out on a channel. The ws hub and the redis signal
// bus both satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StreamAppender optionally keeps a replayable copy of engine events.
type StreamAppender interface {
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// EventView is the JSON shape of an engine event.
type EventView struct {
	Type domain.EventType `json:"type"`
	At   time.Time        `json:"at"`
	Data domain.Event     `json:"data"`
}

// Envelope wraps every pushed message.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Status is the /api/status body.
type Status struct {
	Mode          domain.TradingMode    `json:"mode"`
	Market        string                `json:"market"`
	Strategy      string                `json:"strategy"`
	State         domain.TradingState   `json:"state"`
	Auto          bool                  `json:"auto"`
	KillSwitch    bool                  `json:"kill_switch"`
	KillReason    string                `json:"kill_reason,omitempty"`
	WSState       string                `json:"ws_state"`
	LastPrice     float64               `json:"last_price"`
	LastPriceAt   time.Time             `json:"last_price_at"`
	Equity        float64               `json:"equity"`
	Position      domain.PositionStatus `json:"position"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
}

// EngineView exposes the pieces of engine state the dashboard reads on demand.
type EngineView interface {
	State() domain.TradingState
}

// KillSwitchView reports the latch.
type KillSwitchView interface {
	IsActivated() bool
	Reason() string
}

// Config describes the process the dashboard reports on.
type Config struct {
	Mode     domain.TradingMode
	Market   string
	Strategy string
}

type push struct {
	topic   string
	payload []byte
}

// State implements engine.Observer and feed.Observer. Observer calls only
// take a short lock and queue a push, so the engine goroutine never blocks
// on a slow client.
type State struct {
	cfg       Config
	startedAt time.Time
	auto      atomic.Bool

	mu        sync.RWMutex
	snap      domain.PositionSnapshot
	events    []EventView
	candles   []domain.Candle
	lastPrice float64
	lastAt    time.Time
	wsState   string
	engine    EngineView
	ks        KillSwitchView

	out    chan push
	pub    Publisher
	stream StreamAppender
	logger *slog.Logger
	now    func() time.Time
}

// NewState creates a State with auto trading initially set to auto.
func NewState(cfg Config, auto bool, logger *slog.Logger) *State {
	s := &State{
		cfg:       cfg,
		startedAt: time.Now(),
		snap:      domain.FlatSnapshot(0),
		wsState:   "CLOSED",
		out:       make(chan push, pushBuffer),
		logger:    logger.With(slog.String("component", "dashboard")),
		now:       time.Now,
	}
	s.auto.Store(auto)
	return s
}

// Attach connects the live engine and kill switch once they are built.
func (s *State) Attach(engine EngineView, ks KillSwitchView) {
	s.mu.Lock()
	s.engine = engine
	s.ks = ks
	s.mu.Unlock()
}

// SetPublisher routes pushes to pub. When pub also appends to streams,
// engine events are kept in EventStream.
func (s *State) SetPublisher(pub Publisher) {
	s.mu.Lock()
	s.pub = pub
	if sa, ok := pub.(StreamAppender); ok {
		s.stream = sa
	}
	s.mu.Unlock()
}

// AutoEnabled reports whether new entries may be placed. Engines poll it.
func (s *State) AutoEnabled() bool { return s.auto.Load() }

// SetAuto toggles auto trading.
func (s *State) SetAuto(on bool) {
	s.auto.Store(on)
	s.logger.Info("auto trading toggled", slog.Bool("enabled", on))
}

func (s *State) OnPosition(snap domain.PositionSnapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	s.enqueue(TopicPosition, snap)
}

func (s *State) OnEvent(e domain.Event) {
	v := EventView{Type: e.Type(), At: e.At(), Data: e}
	s.mu.Lock()
	s.events = appendCapped(s.events, v, maxEvents)
	s.mu.Unlock()
	s.enqueue(TopicEvent, v)
}

func (s *State) OnCandle(c domain.Candle) {
	s.mu.Lock()
	s.candles = appendCapped(s.candles, c, maxCandles)
	s.mu.Unlock()
	s.enqueue(TopicCandle, c)
}

func (s *State) OnPrice(price float64, ts time.Time) {
	s.mu.Lock()
	s.lastPrice = price
	s.lastAt = ts
	s.mu.Unlock()
	s.enqueue(TopicPrice, map[string]any{"price": price, "timestamp": ts})
}

func (s *State) OnConnState(state string) {
	s.mu.Lock()
	s.wsState = state
	s.mu.Unlock()
	s.enqueue(TopicConn, map[string]string{"state": state})
}

// Status builds the status summary.
func (s *State) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		Mode:          s.cfg.Mode,
		Market:        s.cfg.Market,
		Strategy:      s.cfg.Strategy,
		State:         domain.StateIdle,
		Auto:          s.auto.Load(),
		WSState:       s.wsState,
		LastPrice:     s.lastPrice,
		LastPriceAt:   s.lastAt,
		Equity:        s.snap.Equity,
		Position:      s.snap.Status,
		UptimeSeconds: int64(s.now().Sub(s.startedAt).Seconds()),
	}
	if s.engine != nil {
		st.State = s.engine.State()
	}
	if s.ks != nil && s.ks.IsActivated() {
		st.KillSwitch = true
		st.KillReason = s.ks.Reason()
	}
	return st
}

// Position returns the latest position snapshot.
func (s *State) Position() domain.PositionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Events returns up to limit of the most recent events, newest first.
func (s *State) Events(limit int) []EventView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.events, limit)
}

// Candles returns up to limit of the most recent bars, oldest first.
func (s *State) Candles(limit int) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.candles)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Candle, n)
	copy(out, s.candles[len(s.candles)-n:])
	return out
}

// Hello is the message sent to a client right after it connects.
func (s *State) Hello() []byte {
	b, err := json.Marshal(Envelope{Type: "status", Payload: s.Status()})
	if err != nil {
		return nil
	}
	return b
}

// Run drains queued pushes to the publisher until ctx is cancelled.
func (s *State) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.out:
			s.mu.RLock()
			pub, stream := s.pub, s.stream
			s.mu.RUnlock()
			if pub == nil {
				continue
			}
			if err := pub.Publish(ctx, p.topic, p.payload); err != nil {
				s.logger.DebugContext(ctx, "publish failed",
					slog.String("topic", p.topic),
					slog.String("error", err.Error()),
				)
			}
			if stream != nil && p.topic == TopicEvent {
				if err := stream.StreamAppend(ctx, EventStream, p.payload); err != nil {
					s.logger.DebugContext(ctx, "stream append failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

func (s *State) enqueue(topic string, payload any) {
	b, err := json.Marshal(Envelope{Type: topic, Payload: payload})
	if err != nil {
		s.logger.Warn("push marshal failed", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}
	select {
	case s.out <- push{topic: topic, payload: b}:
	default:
		// Full: drop rather than stall the engine.
	}
}

func appendCapped[T any](items []T, v T, limit int) []T {
	items = append(items, v)
	if len(items) > limit {
		items = append(items[:0:0], items[len(items)-limit:]...)
	}
	return items
}

func newestFirst[T any](items []T, limit int) []T {
	n := len(items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]T, 0, n)
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, items[i])
	}
	return out
}

package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

var testCfg = Config{
	Topics:      []string{"event", "price"},
	EventTopic:  "event",
	EventStream: "events",
	Hello:       func() []byte { return []byte(`{"type":"status"}`) },
}

// startHub runs h, waits for ready when given, then connects one client.
func startHub(t *testing.T, h *Hub, ready func() bool) (*websocket.Conn, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	if ready != nil {
		require.Eventually(t, ready, time.Second, 5*time.Millisecond)
	}

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	return conn, func() {
		_ = conn.Close()
		srv.Close()
		cancel()
	}
}

func read(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestHubPushesPublishedMessages(t *testing.T) {
	h := NewHub(nil, testCfg, discard())
	h.remember([]byte(`{"n":1}`))

	conn, stop := startHub(t, h, nil)
	defer stop()

	assert.Equal(t, `{"type":"status"}`, read(t, conn))
	assert.Equal(t, `{"n":1}`, read(t, conn), "replayed event")

	require.NoError(t, h.Publish(context.Background(), "price", []byte(`{"p":2}`)))
	assert.Equal(t, `{"p":2}`, read(t, conn))
}

func TestHubHonoursUnsubscribe(t *testing.T) {
	h := NewHub(nil, testCfg, discard())
	conn, stop := startHub(t, h, nil)
	defer stop()
	read(t, conn) // hello

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Topics: []string{"price"}}))
	assert.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		for c := range h.clients {
			return !c.subscribed("price")
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), "price", []byte(`{"p":1}`)))
	require.NoError(t, h.Publish(context.Background(), "event", []byte(`{"e":1}`)))
	assert.Equal(t, `{"e":1}`, read(t, conn))
}

func TestReplayIsBounded(t *testing.T) {
	h := NewHub(nil, Config{EventTopic: "event", ReplaySize: 2}, discard())
	for _, p := range []string{"a", "b", "c"} {
		h.remember([]byte(p))
	}
	got := h.recent()
	require.Len(t, got, 2)
	assert.Equal(t, "b", string(got[0]))
	assert.Equal(t, "c", string(got[1]))
}

type fakeBus struct {
	mu     sync.Mutex
	stream []domain.StreamMessage
	subs   map[string]chan []byte
}

func newFakeBus() *fakeBus { return &fakeBus{subs: map[string]chan []byte{}} }

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := string(rune('a' + len(b.stream)))
	b.stream = append(b.stream, domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

func (b *fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if (lastID == "0" || m.ID > lastID) && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *fakeBus) sub(channel string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[channel]
}

func TestHubRelaysFromBus(t *testing.T) {
	bus := newFakeBus()
	require.NoError(t, bus.StreamAppend(context.Background(), "events", []byte(`{"old":1}`)))

	h := NewHub(bus, testCfg, discard())
	conn, stop := startHub(t, h, func() bool { return len(h.recent()) == 1 })
	defer stop()

	assert.Equal(t, `{"type":"status"}`, read(t, conn))
	assert.Equal(t, `{"old":1}`, read(t, conn), "history replayed from stream")

	require.Eventually(t, func() bool { return bus.sub("price") != nil }, time.Second, 5*time.Millisecond)
	bus.sub("price") <- []byte(`{"p":3}`)
	assert.Equal(t, `{"p":3}`, read(t, conn))

	require.NoError(t, bus.StreamAppend(context.Background(), "events", []byte(`{"new":1}`)))
	assert.Equal(t, `{"new":1}`, read(t, conn))
}

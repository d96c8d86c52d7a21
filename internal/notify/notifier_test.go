package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, []string{EventExit, " kill_switch "}, discard())

	require.NoError(t, n.Notify(context.Background(), EventEntry, "entry", ""))
	require.NoError(t, n.Notify(context.Background(), EventExit, "exit", ""))
	require.NoError(t, n.Notify(context.Background(), EventKillSwitch, "kill", ""))
	assert.Equal(t, []string{"exit", "kill"}, s.titles)
	assert.False(t, n.Enabled(EventEntry))
}

func TestEmptyFilterAllowsEverything(t *testing.T) {
	n := NewNotifier(nil, nil, discard())
	for _, e := range AllEvents {
		assert.True(t, n.Enabled(e), e)
	}
}

func TestThrottleAppliesToNoisyEventsOnly(t *testing.T) {
	s := &fakeSender{name: "a"}
	n := NewNotifier([]Sender{s}, nil, discard(), WithThrottle(time.Hour))
	ctx := context.Background()

	for range 3 {
		require.NoError(t, n.Notify(ctx, EventWSState, "ws", ""))
		require.NoError(t, n.Notify(ctx, EventExit, "exit", ""))
	}
	assert.Equal(t, []string{"ws", "exit", "exit", "exit"}, s.titles)
}

func TestDispatchContinuesPastFailures(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), EventExit, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.titles, 1)
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "[Title]\nbody", got["text"])
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad webhook")
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/dashboard"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/server/handler"
	"github.com/suhyunle/coin-trader/internal/store/memory"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSwitch struct {
	active    bool
	reason    string
	liquidate bool
}

func (f *fakeSwitch) Activate(_ context.Context, reason string, liquidate bool) {
	f.active, f.reason, f.liquidate = true, reason, liquidate
}
func (f *fakeSwitch) Deactivate(context.Context) { f.active, f.reason = false, "" }
func (f *fakeSwitch) IsActivated() bool          { return f.active }
func (f *fakeSwitch) Reason() string             { return f.reason }

type fixture struct {
	srv    *Server
	state  *dashboard.State
	ks     *fakeSwitch
	trades *memory.TradeStore
}

func newFixture(t *testing.T, checks map[string]handler.Check) fixture {
	t.Helper()
	logger := discard()
	state := dashboard.NewState(dashboard.Config{Mode: domain.ModePaper, Market: "KRW-BTC"}, true, logger)
	ks := &fakeSwitch{}
	trades := memory.NewTradeStore()
	audit := memory.NewAuditStore()

	h := Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler(state),
		History: handler.NewHistoryHandler(trades, audit, nil, state, logger),
		Control: handler.NewControlHandler(state, ks, logger),
	}
	srv := NewServer(Config{Addr: ":0", APIKey: "secret", CORSOrigins: []string{"https://ui.example"}}, h, nil, nil, logger)
	return fixture{srv: srv, state: state, ks: ks, trades: trades}
}

func (f fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, map[string]handler.Check{
		"postgres": func(context.Context) error { return nil },
	})
	rec := f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	f = newFixture(t, map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("refused") },
	})
	rec = f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "refused", body["checks"].(map[string]any)["redis"])
}

func TestStatusAndPosition(t *testing.T) {
	f := newFixture(t, nil)
	f.state.OnPosition(domain.PositionSnapshot{Status: domain.PositionStatusLong, Qty: 0.2, Equity: 10_000_000})

	rec := f.do(http.MethodGet, "/api/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "PAPER", body["mode"])
	assert.Equal(t, "LONG", body["position"])

	rec = f.do(http.MethodGet, "/api/position", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.2, decode(t, rec)["qty"])
}

func TestMutatingRoutesRequireKey(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/auto", `{"enabled":false}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, f.state.AutoEnabled())

	rec = f.do(http.MethodPost, "/api/auto", `{"enabled":false}`, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/auto", `{"enabled":false}`, map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.state.AutoEnabled())

	// Empty body flips the flag.
	rec = f.do(http.MethodPost, "/api/auto", "", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.state.AutoEnabled())
}

func TestKillAndReset(t *testing.T) {
	f := newFixture(t, nil)
	key := map[string]string{"X-API-Key": "secret"}

	rec := f.do(http.MethodPost, "/api/kill", `{"reason":"panic sell"}`, key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.ks.active)
	assert.True(t, f.ks.liquidate)
	assert.Equal(t, "panic sell", f.ks.reason)

	rec = f.do(http.MethodPost, "/api/kill/reset", "", key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.ks.active)

	rec = f.do(http.MethodPost, "/api/kill", `{"liquidate":false}`, key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.ks.liquidate)
	assert.Equal(t, "manual kill via api", f.ks.reason)

	rec = f.do(http.MethodPost, "/api/kill", `{"bogus":1}`, key)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradesListing(t *testing.T) {
	f := newFixture(t, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 3 {
		require.NoError(t, f.trades.Save(context.Background(), domain.TradeRecord{
			EntryTime: base.Add(time.Duration(i) * time.Hour),
			ExitTime:  base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			PnL:       float64(i),
		}))
	}

	rec := f.do(http.MethodGet, "/api/trades?limit=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["trades"], 2)

	rec = f.do(http.MethodGet, "/api/trades?since=yesterday", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsAndCandlesFromState(t *testing.T) {
	f := newFixture(t, nil)
	f.state.OnEvent(domain.OrderCancelledEvent{Timestamp: time.Now(), OrderID: "o-1"})
	f.state.OnCandle(domain.Candle{Timestamp: time.Now(), Close: 1})

	rec := f.do(http.MethodGet, "/api/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 1)

	rec = f.do(http.MethodGet, "/api/candles", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["candles"], 1)

	rec = f.do(http.MethodGet, "/api/audit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["entries"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodOptions, "/api/kill", "", map[string]string{"Origin": "https://ui.example"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ui.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/api/status", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

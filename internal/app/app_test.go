package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/config"
	"github.com/suhyunle/coin-trader/internal/dashboard"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/killswitch"
	"github.com/suhyunle/coin-trader/internal/report"
	"github.com/suhyunle/coin-trader/internal/statemachine"
	"github.com/suhyunle/coin-trader/internal/store/memory"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// candleCSV writes n five-minute bars drifting upward with a dip every 20.
func candleCSV(n int) string {
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	price := 50_000_000.0
	for i := range n {
		ts := t0.Add(time.Duration(i) * 5 * time.Minute)
		step := 60_000.0
		if i%20 >= 15 {
			step = -150_000
		}
		open := price
		price += step
		fmt.Fprintf(&b, "%s,%.0f,%.0f,%.0f,%.0f,1.5\n",
			ts.Format(time.RFC3339), open, max(open, price)+40_000, min(open, price)-40_000, price)
	}
	return b.String()
}

func testApp(t *testing.T, out *bytes.Buffer) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Mode = "backtest"
	return New(&cfg, Options{Output: out, Input: strings.NewReader("")}, discard())
}

func TestBacktestModePrintsReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candles.csv")
	require.NoError(t, os.WriteFile(path, []byte(candleCSV(300)), 0o600))

	var out bytes.Buffer
	a := testApp(t, &out)
	a.cfg.Backtest.CandlesPath = path
	auditStore := memory.NewAuditStore()

	err := a.BacktestMode(context.Background(), &Dependencies{AuditStore: auditStore})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "Backtest: donchian on KRW-BTC")
	assert.Contains(t, out.String(), "for paper trading")

	entries, err := auditStore.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "BACKTEST_FINISHED", entries[0].Event)
	assert.Equal(t, 300, entries[0].Detail["candles"])
}

func TestBacktestModeMissingFile(t *testing.T) {
	var out bytes.Buffer
	a := testApp(t, &out)
	a.cfg.Backtest.CandlesPath = filepath.Join(t.TempDir(), "missing.csv")

	err := a.BacktestMode(context.Background(), &Dependencies{AuditStore: memory.NewAuditStore()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load candles")
}

type fakeCandleBucket struct {
	data map[string]string
}

func (f fakeCandleBucket) OpenCandles(_ context.Context, path string) (io.ReadCloser, error) {
	s, ok := f.data[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(s)), nil
}

func TestLoadCandlesFromBucket(t *testing.T) {
	var out bytes.Buffer
	a := testApp(t, &out)
	deps := &Dependencies{Candles: fakeCandleBucket{data: map[string]string{"candles/btc.csv": candleCSV(10)}}}

	candles, err := a.loadCandles(context.Background(), deps, "s3://candles/btc.csv")
	require.NoError(t, err)
	require.Len(t, candles, 10)
	assert.Equal(t, t0, candles[0].Timestamp)

	_, err = a.loadCandles(context.Background(), deps, "s3://candles/eth.csv")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = a.loadCandles(context.Background(), &Dependencies{}, "s3://candles/btc.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 is disabled")
}

func TestClosedOnly(t *testing.T) {
	width := 5 * time.Minute
	candles := []domain.Candle{
		{Timestamp: t0},
		{Timestamp: t0.Add(width)},
		{Timestamp: t0.Add(2 * width)},
	}

	got := closedOnly(candles, width, t0.Add(2*width+time.Minute))
	assert.Len(t, got, 2)

	got = closedOnly(candles, width, t0.Add(3*width))
	assert.Len(t, got, 3)

	assert.Empty(t, closedOnly(nil, width, t0))
}

func testSession() *session {
	logger := discard()
	machine := statemachine.New(logger)
	rec := audit.NewRecorder(nil, domain.ModePaper, logger)
	return &session{
		mode:    domain.ModePaper,
		rec:     rec,
		machine: machine,
		ks:      killswitch.New(machine, rec, logger),
		state:   dashboard.NewState(dashboard.Config{Mode: domain.ModePaper, Market: "KRW-BTC"}, false, logger),
	}
}

func TestHandleKey(t *testing.T) {
	var out bytes.Buffer
	a := testApp(t, &out)
	s := testSession()
	ctx := context.Background()

	a.handleKey(ctx, s, "k", nil)
	assert.True(t, s.ks.IsActivated())
	assert.Equal(t, domain.StateHalted, s.machine.Current())

	a.handleKey(ctx, s, "R", nil)
	assert.False(t, s.ks.IsActivated())
	assert.Equal(t, domain.StateIdle, s.machine.Current())

	a.handleKey(ctx, s, "a", nil)
	assert.True(t, s.state.AutoEnabled())
	assert.Contains(t, out.String(), "auto trading: true")

	out.Reset()
	a.handleKey(ctx, s, "s", nil)
	assert.Contains(t, out.String(), "state=IDLE")

	out.Reset()
	a.handleKey(ctx, s, "?", nil)
	assert.Contains(t, out.String(), keyHelp)

	quit := false
	a.handleKey(ctx, s, "q", func() { quit = true })
	assert.True(t, quit)
}

func TestWriteEligibility(t *testing.T) {
	var out bytes.Buffer
	writeEligibility(&out, "live", report.Eligibility{Eligible: true})
	assert.Equal(t, "Eligible for live trading.\n", out.String())

	out.Reset()
	writeEligibility(&out, "paper", report.Eligibility{Reasons: []string{"trades 3 < 200", "PF 0.90 < 1.20"}})
	assert.Equal(t, "Not eligible for paper trading:\n  - trades 3 < 200\n  - PF 0.90 < 1.20\n", out.String())
}

package engine

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/killswitch"
	"github.com/suhyunle/coin-trader/internal/risk"
	"github.com/suhyunle/coin-trader/internal/statemachine"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func at(i int) time.Time { return t0.Add(time.Duration(i) * 5 * time.Minute) }

func bar(i int, o, h, l, c float64) domain.Candle {
	return domain.Candle{Timestamp: at(i), Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func flat(i int) domain.Candle { return bar(i, 1000, 1010, 990, 1000) }

// scripted replays fixed signals keyed by candle time.
type scripted struct {
	signals map[time.Time]domain.Signal
	panicAt time.Time
	closed  int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) OnCandle(c domain.Candle) domain.Signal {
	if !s.panicAt.IsZero() && c.Timestamp.Equal(s.panicAt) {
		panic("strategy exploded")
	}
	if sig, ok := s.signals[c.Timestamp]; ok {
		return sig
	}
	return domain.NoSignal
}

func (s *scripted) Reset()                { s.closed = 0 }
func (s *scripted) NotifyPositionClosed() { s.closed++ }

func enter(stop float64) domain.Signal {
	return domain.Signal{Action: domain.SignalEnter, StopLoss: stop, Reason: "test entry"}
}

func exit(reason string) domain.Signal {
	return domain.Signal{Action: domain.SignalExit, Reason: reason}
}

type memAudit struct{ events []string }

func (m *memAudit) Log(_ context.Context, e domain.AuditEntry) error {
	m.events = append(m.events, e.Event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type memTrades struct{ saved []domain.TradeRecord }

func (m *memTrades) Save(_ context.Context, t domain.TradeRecord) error {
	m.saved = append(m.saved, t)
	return nil
}

func (m *memTrades) List(context.Context, domain.ListOpts) ([]domain.TradeRecord, error) {
	return m.saved, nil
}

type recordingObserver struct {
	snaps  []domain.PositionSnapshot
	events []domain.Event
}

func (o *recordingObserver) OnPosition(s domain.PositionSnapshot) { o.snaps = append(o.snaps, s) }
func (o *recordingObserver) OnEvent(e domain.Event)               { o.events = append(o.events, e) }

// permissiveRisk admits every entry outside of cooldown.
func permissiveRisk() risk.Config {
	return risk.Config{
		RiskPerTradePct:   0.01,
		MaxDailyLossPct:   0.5,
		MaxDailyTrades:    10,
		Cooldown:          30 * time.Minute,
		ATRStopMultiplier: 2,
	}
}

type fixture struct {
	deps   Deps
	sm     *statemachine.Machine
	ks     *killswitch.Switch
	risk   *risk.Manager
	audit  *memAudit
	trades *memTrades
	obs    *recordingObserver
	strat  *scripted
}

func newFixture(mode domain.TradingMode, strat *scripted) *fixture {
	logger := discard()
	f := &fixture{
		sm:     statemachine.New(logger),
		risk:   risk.NewManager(permissiveRisk(), logger),
		audit:  &memAudit{},
		trades: &memTrades{},
		obs:    &recordingObserver{},
		strat:  strat,
	}
	rec := audit.NewRecorder(f.audit, mode, logger)
	f.ks = killswitch.New(f.sm, rec, logger)
	f.deps = Deps{
		Strategy:   strat,
		Machine:    f.sm,
		Risk:       f.risk,
		KillSwitch: f.ks,
		Audit:      rec,
		Trades:     f.trades,
		Observer:   f.obs,
		Logger:     logger,
	}
	return f
}

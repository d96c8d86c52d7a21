// Package killswitch is the global emergency latch. Once activated it halts
// the state machine and every engine refuses new orders until an operator
// resets it.
package killswitch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/domain"
)

// dustBTC is the smallest balance worth liquidating.
const dustBTC = 0.00001

// StateHalter is the part of the state machine the switch drives.
type StateHalter interface {
	Transition(to domain.TradingState) error
}

// Liquidator sells the held base balance. domain.MarketGateway satisfies it.
type Liquidator interface {
	Balance(ctx context.Context) (domain.Balance, error)
	MarketSell(ctx context.Context, baseQty float64) (domain.OrderResult, error)
}

// Alerter forwards operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Switch is safe for concurrent use; engines poll IsActivated from their own
// goroutine while the dashboard or keyboard may flip it.
type Switch struct {
	machine    StateHalter
	liquidator Liquidator
	audit      *audit.Recorder
	alerter    Alerter
	logger     *slog.Logger

	activated   atomic.Bool
	activations atomic.Uint64
	mu          sync.Mutex
	activatedAt time.Time
	reason      string
}

// Option customises a Switch.
type Option func(*Switch)

// WithLiquidator enables forced liquidation.
func WithLiquidator(l Liquidator) Option { return func(s *Switch) { s.liquidator = l } }

// WithAlerter sends a notification on activation and reset.
func WithAlerter(a Alerter) Option { return func(s *Switch) { s.alerter = a } }

// New returns an inactive switch bound to machine.
func New(machine StateHalter, rec *audit.Recorder, logger *slog.Logger, opts ...Option) *Switch {
	s := &Switch{
		machine: machine,
		audit:   rec,
		logger:  logger.With(slog.String("component", "killswitch")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Activate latches the switch. A second call while active is a no-op.
// Liquidation failures are audited and logged, never returned.
func (s *Switch) Activate(ctx context.Context, reason string, liquidate bool) {
	if !s.activated.CompareAndSwap(false, true) {
		s.logger.WarnContext(ctx, "kill switch already active", slog.String("reason", reason))
		return
	}
	s.activations.Add(1)

	s.mu.Lock()
	s.activatedAt = time.Now()
	s.reason = reason
	s.mu.Unlock()

	s.logger.ErrorContext(ctx, "KILL SWITCH ACTIVATED",
		slog.String("reason", reason),
		slog.Bool("liquidate", liquidate),
	)
	s.audit.Critical(ctx, "killswitch", "ACTIVATED", map[string]any{
		"reason":    reason,
		"liquidate": liquidate,
	})
	s.alert(ctx, "Kill switch activated", reason)

	// HALTED is reachable from every active state; an already HALTED machine
	// returns nil.
	_ = s.machine.Transition(domain.StateHalted)

	if liquidate && s.liquidator != nil {
		s.liquidate(ctx)
	}
}

func (s *Switch) liquidate(ctx context.Context) {
	bal, err := s.liquidator.Balance(ctx)
	if err != nil {
		s.liquidationFailed(ctx, fmt.Errorf("balance: %w", err))
		return
	}
	if bal.AvailableBTC <= dustBTC {
		s.logger.InfoContext(ctx, "nothing to liquidate", slog.Float64("btc", bal.AvailableBTC))
		return
	}

	res, err := s.liquidator.MarketSell(ctx, bal.AvailableBTC)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", domain.ErrOrderRejected, res.Message)
	}
	if err != nil {
		s.liquidationFailed(ctx, fmt.Errorf("market sell: %w", err))
		return
	}

	s.logger.WarnContext(ctx, "position liquidated",
		slog.Float64("qty", bal.AvailableBTC),
		slog.String("order_id", res.OrderID),
	)
	s.audit.Critical(ctx, "killswitch", "LIQUIDATION", map[string]any{
		"qty":      bal.AvailableBTC,
		"order_id": res.OrderID,
	})
}

func (s *Switch) liquidationFailed(ctx context.Context, err error) {
	s.logger.ErrorContext(ctx, "liquidation failed", slog.String("error", err.Error()))
	s.audit.Critical(ctx, "killswitch", "LIQUIDATION_FAILED", map[string]any{
		"error": err.Error(),
	})
	s.alert(ctx, "Liquidation failed", err.Error())
}

// Deactivate clears the latch and returns the state machine to IDLE.
func (s *Switch) Deactivate(ctx context.Context) {
	if !s.activated.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	s.activatedAt = time.Time{}
	s.reason = ""
	s.mu.Unlock()

	s.logger.WarnContext(ctx, "kill switch deactivated")
	s.audit.Record(ctx, domain.AuditWarn, "killswitch", "DEACTIVATED", nil)
	s.alert(ctx, "Kill switch reset", "trading resumed in IDLE")

	_ = s.machine.Transition(domain.StateIdle)
}

// IsActivated reports whether the latch is set.
func (s *Switch) IsActivated() bool { return s.activated.Load() }

// Activations counts how many times the latch has been set. Engines compare
// it with the value they last saw to notice a kill and reset that happened
// between candles.
func (s *Switch) Activations() uint64 { return s.activations.Load() }

// ActivatedAt returns the activation time, zero when inactive.
func (s *Switch) ActivatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activatedAt
}

// Reason returns the activation reason, empty when inactive.
func (s *Switch) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Switch) alert(ctx context.Context, title, msg string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Notify(ctx, "kill_switch", title, msg); err != nil {
		s.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
	}
}

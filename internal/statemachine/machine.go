// Package statemachine is the lifecycle gate every order-affecting action in
// an engine passes through.
package statemachine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const (
	maxHistory  = 100
	keepHistory = 50
)

var edges = map[domain.TradingState][]domain.TradingState{
	domain.StateIdle:         {domain.StateEntryPending, domain.StateHalted},
	domain.StateEntryPending: {domain.StateInPosition, domain.StateIdle, domain.StateHalted},
	domain.StateInPosition:   {domain.StateExitPending, domain.StateIdle, domain.StateCooldown, domain.StateHalted},
	domain.StateExitPending:  {domain.StateIdle, domain.StateCooldown, domain.StateHalted},
	domain.StateCooldown:     {domain.StateIdle, domain.StateHalted},
	domain.StateHalted:       {domain.StateIdle},
}

// Transition is one recorded state change.
type Transition struct {
	From domain.TradingState `json:"from"`
	To   domain.TradingState `json:"to"`
	At   time.Time           `json:"at"`
}

// Machine holds the current trading state. It is safe for concurrent use so
// the kill switch can halt it from outside the engine goroutine.
type Machine struct {
	mu        sync.RWMutex
	state     domain.TradingState
	enteredAt time.Time
	history   []Transition
	now       func() time.Time
	logger    *slog.Logger
}

// New returns a machine in IDLE.
func New(logger *slog.Logger) *Machine {
	return &Machine{
		state:     domain.StateIdle,
		enteredAt: time.Now(),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "state_machine")),
	}
}

// WithClock replaces the time source. Backtests use it to stamp transitions
// with bar time.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Current returns the current state.
func (m *Machine) Current() domain.TradingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StateAge returns how long the machine has been in its current state.
func (m *Machine) StateAge() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now().Sub(m.enteredAt)
}

// CanTransition reports whether to is reachable from the current state.
func (m *Machine) CanTransition(to domain.TradingState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return allowed(m.state, to)
}

// Transition moves to the given state. Moving to the current state is a
// no-op; an edge outside the table returns domain.ErrInvalidTransition.
func (m *Machine) Transition(to domain.TradingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.state
	if from == to {
		return nil
	}
	if !allowed(from, to) {
		m.logger.Error("invalid state transition",
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return fmt.Errorf("statemachine: %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}

	now := m.now()
	m.state = to
	m.enteredAt = now
	m.history = append(m.history, Transition{From: from, To: to, At: now})
	if len(m.history) > maxHistory {
		m.history = append([]Transition(nil), m.history[len(m.history)-keepHistory:]...)
	}

	m.logger.Debug("state transition",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return nil
}

// IsActive reports whether the machine is not HALTED.
func (m *Machine) IsActive() bool { return m.Current() != domain.StateHalted }

// IsIdle reports whether the machine may start an entry.
func (m *Machine) IsIdle() bool { return m.Current() == domain.StateIdle }

// IsInPosition reports whether a filled entry is being managed.
func (m *Machine) IsInPosition() bool { return m.Current() == domain.StateInPosition }

// History returns a copy of the recorded transitions, oldest first.
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Reset returns to IDLE and clears history.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = domain.StateIdle
	m.enteredAt = m.now()
	m.history = nil
}

func allowed(from, to domain.TradingState) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

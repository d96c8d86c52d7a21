package statemachine

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

func newMachine() *Machine {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var allStates = []domain.TradingState{
	domain.StateIdle, domain.StateEntryPending, domain.StateInPosition,
	domain.StateExitPending, domain.StateCooldown, domain.StateHalted,
}

func TestTransitionTable(t *testing.T) {
	legal := map[[2]domain.TradingState]bool{}
	for from, tos := range edges {
		for _, to := range tos {
			legal[[2]domain.TradingState{from, to}] = true
		}
	}

	for _, from := range allStates {
		for _, to := range allStates {
			if from == to {
				continue
			}
			m := newMachine()
			forceState(t, m, from)

			err := m.Transition(to)
			if legal[[2]domain.TradingState{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, m.Current())
			} else {
				assert.True(t, errors.Is(err, domain.ErrInvalidTransition), "%s -> %s", from, to)
				assert.Equal(t, from, m.Current())
			}
		}
	}
}

func TestEveryActiveStateCanHalt(t *testing.T) {
	for _, s := range allStates {
		if s == domain.StateHalted {
			continue
		}
		m := newMachine()
		forceState(t, m, s)
		assert.True(t, m.CanTransition(domain.StateHalted), string(s))
	}
}

func TestSelfTransitionIsNoOp(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.Transition(domain.StateIdle))
	require.NoError(t, m.Transition(domain.StateIdle))
	assert.Empty(t, m.History())

	require.NoError(t, m.Transition(domain.StateHalted))
	require.NoError(t, m.Transition(domain.StateHalted))
	assert.Len(t, m.History(), 1)
	assert.False(t, m.IsActive())
}

func TestHistoryIsBounded(t *testing.T) {
	m := newMachine()
	for i := 0; i < 60; i++ {
		require.NoError(t, m.Transition(domain.StateEntryPending))
		require.NoError(t, m.Transition(domain.StateIdle))
	}
	h := m.History()
	assert.LessOrEqual(t, len(h), maxHistory)
	last := h[len(h)-1]
	assert.Equal(t, domain.StateIdle, last.To)
}

func TestQueries(t *testing.T) {
	m := newMachine()
	assert.True(t, m.IsIdle())
	require.NoError(t, m.Transition(domain.StateEntryPending))
	require.NoError(t, m.Transition(domain.StateInPosition))
	assert.True(t, m.IsInPosition())
	assert.True(t, m.IsActive())

	m.Reset()
	assert.True(t, m.IsIdle())
	assert.Empty(t, m.History())
}

// forceState walks legal edges to reach target.
func forceState(t *testing.T, m *Machine, target domain.TradingState) {
	t.Helper()
	paths := map[domain.TradingState][]domain.TradingState{
		domain.StateIdle:         nil,
		domain.StateEntryPending: {domain.StateEntryPending},
		domain.StateInPosition:   {domain.StateEntryPending, domain.StateInPosition},
		domain.StateExitPending:  {domain.StateEntryPending, domain.StateInPosition, domain.StateExitPending},
		domain.StateCooldown:     {domain.StateEntryPending, domain.StateInPosition, domain.StateCooldown},
		domain.StateHalted:       {domain.StateHalted},
	}
	for _, s := range paths[target] {
		require.NoError(t, m.Transition(s))
	}
}

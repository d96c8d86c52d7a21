package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suhyunle/coin-trader/internal/domain"
)

func TestEmitFansOutInRegistrationOrder(t *testing.T) {
	bus := New()
	var got []string
	bus.Subscribe(domain.EventCandle, func(domain.Event) { got = append(got, "first") })
	bus.Subscribe(domain.EventCandle, func(domain.Event) { got = append(got, "second") })
	bus.Subscribe(domain.EventSignal, func(domain.Event) { got = append(got, "signal") })
	bus.SubscribeAll(func(domain.Event) { got = append(got, "all") })

	bus.Emit(domain.CandleEvent{Timestamp: time.Unix(1, 0)})

	assert.Equal(t, []string{"first", "second", "all"}, got)
}

func TestLogIsAppendOnlyCopy(t *testing.T) {
	bus := New()
	bus.Emit(domain.CandleEvent{Timestamp: time.Unix(1, 0)})
	bus.Emit(domain.SignalEvent{Timestamp: time.Unix(2, 0), Signal: domain.NoSignal})

	log := bus.Log()
	require.Len(t, log, 2)
	assert.Equal(t, domain.EventCandle, log[0].Type())
	assert.Equal(t, domain.EventSignal, log[1].Type())

	log[0] = nil
	assert.NotNil(t, bus.Log()[0])
}

func TestResetClearsHandlersAndLog(t *testing.T) {
	bus := New()
	calls := 0
	bus.Subscribe(domain.EventCandle, func(domain.Event) { calls++ })
	bus.Emit(domain.CandleEvent{})
	bus.Reset()
	bus.Emit(domain.CandleEvent{})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, bus.Len())
}

func TestClearLogKeepsHandlers(t *testing.T) {
	bus := New()
	calls := 0
	bus.Subscribe(domain.EventCandle, func(domain.Event) { calls++ })
	bus.Emit(domain.CandleEvent{})
	bus.ClearLog()
	bus.Emit(domain.CandleEvent{})

	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, bus.Len())
}

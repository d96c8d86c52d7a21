// Package eventbus is the synchronous, replayable event log every engine
// writes to. Handlers run on the emitting goroutine in registration order.
package eventbus

import (
	"sync"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Handler receives one emitted event.
type Handler func(domain.Event)

// Bus fans events out to subscribers and keeps the full emission history.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	all      []Handler
	log      []domain.Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{handlers: make(map[domain.EventType][]Handler)}
}

// Subscribe registers h for events of type t.
func (b *Bus) Subscribe(t domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers h for every event type. Catch-all handlers run after
// the typed handlers of the same event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Emit appends e to the log and invokes matching handlers.
func (b *Bus) Emit(e domain.Event) {
	b.mu.Lock()
	b.log = append(b.log, e)
	typed := b.handlers[e.Type()]
	hs := make([]Handler, 0, len(typed)+len(b.all))
	hs = append(hs, typed...)
	hs = append(hs, b.all...)
	b.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}

// Log returns a copy of the emission history.
func (b *Bus) Log() []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Event, len(b.log))
	copy(out, b.log)
	return out
}

// Len returns the number of logged events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.log)
}

// ClearLog drops the history but keeps handlers.
func (b *Bus) ClearLog() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
}

// Reset drops handlers and history.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[domain.EventType][]Handler)
	b.all = nil
	b.log = nil
}

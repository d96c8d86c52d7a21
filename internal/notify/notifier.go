// Package notify pushes operator alerts to chat channels. Each event type can
// be switched on or off, and bursts of the same event are throttled so a
// flapping socket does not flood the channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Event types emitted by the trader.
const (
	EventStartup    = "startup"
	EventShutdown   = "shutdown"
	EventEntry      = "entry"
	EventExit       = "exit"
	EventKillSwitch = "kill_switch"
	EventWSState    = "ws_state"
	EventError      = "error"
)

// AllEvents lists every event type, in the order used by the config docs.
var AllEvents = []string{
	EventStartup, EventShutdown, EventEntry, EventExit,
	EventKillSwitch, EventWSState, EventError,
}

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	every    rate.Limit
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithThrottle allows at most one throttled alert of a kind per interval.
func WithThrottle(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.every = rate.Every(interval)
		}
	}
}

// NewNotifier creates a Notifier. An empty events list enables every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger, opts ...Option) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	n := &Notifier{
		senders:  senders,
		events:   allowed,
		logger:   logger.With(slog.String("component", "notifier")),
		limiters: make(map[string]*rate.Limiter),
		every:    rate.Every(time.Minute),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Enabled reports whether event passes the filter.
func (n *Notifier) Enabled(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify sends the message when event is enabled and not throttled.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}
	if !n.allow(event) {
		n.logger.DebugContext(ctx, "notification throttled", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// allow throttles noisy events. Trade and kill-switch alerts always pass.
func (n *Notifier) allow(event string) bool {
	switch event {
	case EventEntry, EventExit, EventKillSwitch:
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.limiters[event]
	if !ok {
		l = rate.NewLimiter(n.every, 1)
		n.limiters[event] = l
	}
	return l.Allow()
}

// dispatch tries every sender; one failing channel does not block the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

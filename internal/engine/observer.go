package engine

import (
	"context"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Observer receives read-only projections of engine state. Calls happen on
// the engine goroutine; implementations must not block.
type Observer interface {
	OnPosition(snap domain.PositionSnapshot)
	OnEvent(e domain.Event)
}

// Alerter forwards human-facing notifications. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

type nopObserver struct{}

func (nopObserver) OnPosition(domain.PositionSnapshot) {}
func (nopObserver) OnEvent(domain.Event)               {}

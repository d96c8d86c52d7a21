package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/suhyunle/coin-trader/internal/audit"
	"github.com/suhyunle/coin-trader/internal/domain"
)

// HaltSetter receives the market halt flag. *risk.Manager satisfies it.
type HaltSetter interface {
	SetMarketHalt(halted bool)
}

// Reconciler periodically overwrites stored candles that disagree with the
// exchange and refreshes the market halt flag.
type Reconciler struct {
	history  History
	store    domain.CandleStore
	status   domain.MarketStatusSource
	halt     HaltSetter
	audit    *audit.Recorder
	interval time.Duration
	bars     int
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. store, status and halt may be nil.
func NewReconciler(history History, store domain.CandleStore, status domain.MarketStatusSource, halt HaltSetter, rec *audit.Recorder, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Reconciler{
		history:  history,
		store:    store,
		status:   status,
		halt:     halt,
		audit:    rec,
		interval: interval,
		bars:     maxBackfillBars,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run refreshes the halt flag immediately, then reconciles on every tick
// until ctx is cancelled. Failures are logged and retried next tick.
func (r *Reconciler) Run(ctx context.Context) error {
	r.RefreshHalt(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.ReconcileCandles(ctx); err != nil {
				r.logger.ErrorContext(ctx, "candle reconcile failed", slog.String("error", err.Error()))
			}
			r.RefreshHalt(ctx)
		}
	}
}

// ReconcileCandles fetches recent exchange candles and corrects the store.
func (r *Reconciler) ReconcileCandles(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	candles, err := r.history.Candles(ctx, r.bars)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, nil
	}
	fixed, err := r.store.Reconcile(ctx, candles)
	if err != nil {
		return 0, err
	}
	if fixed > 0 {
		r.audit.Info(ctx, "reconcile", "FIXED", map[string]any{"candles": fixed})
	}
	return fixed, nil
}

// RefreshHalt polls the warning list. A failed poll clears the flag rather
// than leaving a stale halt in place.
func (r *Reconciler) RefreshHalt(ctx context.Context) {
	if r.status == nil || r.halt == nil {
		return
	}
	active, err := r.status.VirtualAssetWarning(ctx)
	if err != nil {
		r.logger.DebugContext(ctx, "warning list fetch failed", slog.String("error", err.Error()))
		active = false
	}
	r.halt.SetMarketHalt(active)
	if active {
		r.audit.Record(ctx, domain.AuditWarn, "risk", "MARKET_HALT", map[string]any{"source": "virtual_asset_warning"})
	}
}

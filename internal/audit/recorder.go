// Package audit writes the append-only audit trail. Writes are fire-and-forget:
// a failing store is logged and never surfaces to the trading path.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// Recorder stamps entries with the running mode and forwards them to a store.
// A nil store only logs.
type Recorder struct {
	store  domain.AuditStore
	mode   domain.TradingMode
	now    func() time.Time
	logger *slog.Logger
}

// NewRecorder returns a Recorder for the given mode.
func NewRecorder(store domain.AuditStore, mode domain.TradingMode, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		mode:   mode,
		now:    time.Now,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, level domain.AuditLevel, module, event string, detail map[string]any) {
	if r == nil {
		return
	}
	entry := domain.AuditEntry{
		Level:     level,
		Module:    module,
		Event:     event,
		Detail:    detail,
		Mode:      string(r.mode),
		CreatedAt: r.now().UTC(),
	}

	attrs := []any{
		slog.String("module", module),
		slog.String("event", event),
	}
	switch level {
	case domain.AuditCritical, domain.AuditError:
		r.logger.ErrorContext(ctx, "audit", attrs...)
	case domain.AuditWarn:
		r.logger.WarnContext(ctx, "audit", attrs...)
	default:
		r.logger.DebugContext(ctx, "audit", attrs...)
	}

	if r.store == nil {
		return
	}
	if err := r.store.Log(ctx, entry); err != nil {
		r.logger.WarnContext(ctx, "audit write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Info is Record at INFO level.
func (r *Recorder) Info(ctx context.Context, module, event string, detail map[string]any) {
	r.Record(ctx, domain.AuditInfo, module, event, detail)
}

// Critical is Record at CRITICAL level.
func (r *Recorder) Critical(ctx context.Context, module, event string, detail map[string]any) {
	r.Record(ctx, domain.AuditCritical, module, event, detail)
}

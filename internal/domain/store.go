package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CandleStore persists closed bars keyed by bucket start.
type CandleStore interface {
	UpsertCandle(ctx context.Context, c Candle) error
	UpsertCandles(ctx context.Context, candles []Candle) error
	// LatestCandles returns up to n bars, oldest first.
	LatestCandles(ctx context.Context, n int) ([]Candle, error)
	// MaxHigh returns the highest high over the latest n bars, or zero.
	MaxHigh(ctx context.Context, n int) (float64, error)
	// Reconcile overwrites stored bars that disagree with the authoritative
	// candles and returns how many rows changed.
	Reconcile(ctx context.Context, authoritative []Candle) (int, error)
}

// AuditLevel grades an audit entry.
type AuditLevel string

const (
	AuditInfo     AuditLevel = "INFO"
	AuditWarn     AuditLevel = "WARN"
	AuditError    AuditLevel = "ERROR"
	AuditCritical AuditLevel = "CRITICAL"
)

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Level     AuditLevel     `json:"level"`
	Module    string         `json:"module"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// TradeStore persists closed round trips.
type TradeStore interface {
	Save(ctx context.Context, t TradeRecord) error
	List(ctx context.Context, opts ListOpts) ([]TradeRecord, error)
}

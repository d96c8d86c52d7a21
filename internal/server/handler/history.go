package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// CandleReader reads stored bars.
type CandleReader interface {
	LatestCandles(ctx context.Context, n int) ([]domain.Candle, error)
}

// HistoryHandler serves persisted records. Any store may be nil; the
// candles route then falls back to the in-memory window.
type HistoryHandler struct {
	trades  domain.TradeStore
	audit   domain.AuditStore
	candles CandleReader
	state   StateReader
	logger  *slog.Logger
}

func NewHistoryHandler(trades domain.TradeStore, audit domain.AuditStore, candles CandleReader, state StateReader, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		trades:  trades,
		audit:   audit,
		candles: candles,
		state:   state,
		logger:  logger,
	}
}

// ListTrades handles GET /api/trades.
func (h *HistoryHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		writeJSON(w, http.StatusOK, map[string]any{"trades": []domain.TradeRecord{}})
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	trades, err := h.trades.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": trades})
}

// ListAudit handles GET /api/audit.
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []domain.AuditEntry{}})
		return
	}
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListCandles handles GET /api/candles?limit=N, oldest first.
func (h *HistoryHandler) ListCandles(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	var candles []domain.Candle
	if h.candles != nil {
		var err error
		candles, err = h.candles.LatestCandles(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list candles failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list candles")
			return
		}
	} else if h.state != nil {
		candles = h.state.Candles(limit)
	}
	if candles == nil {
		candles = []domain.Candle{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"candles": candles})
}

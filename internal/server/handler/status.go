package handler

import (
	"net/http"

	"github.com/suhyunle/coin-trader/internal/dashboard"
	"github.com/suhyunle/coin-trader/internal/domain"
)

// StateReader is the dashboard read model. *dashboard.State satisfies it.
type StateReader interface {
	Status() dashboard.Status
	Position() domain.PositionSnapshot
	Events(limit int) []dashboard.EventView
	Candles(limit int) []domain.Candle
}

// StatusHandler serves the in-memory engine projections.
type StatusHandler struct {
	state StateReader
}

func NewStatusHandler(state StateReader) *StatusHandler {
	return &StatusHandler{state: state}
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Status())
}

// GetPosition handles GET /api/position.
func (h *StatusHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state.Position())
}

// ListEvents handles GET /api/events?limit=N, newest first.
func (h *StatusHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events := h.state.Events(parseLimit(r))
	if events == nil {
		events = []dashboard.EventView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

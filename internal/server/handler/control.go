package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// liquidationTimeout bounds a manual kill that sells the position. The
// request context is detached so a dropped client cannot abort the sell.
const liquidationTimeout = 15 * time.Second

// AutoToggler switches automatic order placement.
type AutoToggler interface {
	AutoEnabled() bool
	SetAuto(on bool)
}

// KillSwitch is the manual halt control. *killswitch.Switch satisfies it.
type KillSwitch interface {
	Activate(ctx context.Context, reason string, liquidate bool)
	Deactivate(ctx context.Context)
	IsActivated() bool
	Reason() string
}

// ControlHandler serves the mutating routes. They sit behind auth.
type ControlHandler struct {
	auto   AutoToggler
	ks     KillSwitch
	logger *slog.Logger
}

func NewControlHandler(auto AutoToggler, ks KillSwitch, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{auto: auto, ks: ks, logger: logger}
}

type autoRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetAuto handles POST /api/auto with {"enabled": bool}. Without a body the
// flag is flipped.
func (h *ControlHandler) SetAuto(w http.ResponseWriter, r *http.Request) {
	var req autoRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	on := !h.auto.AutoEnabled()
	if req.Enabled != nil {
		on = *req.Enabled
	}
	h.auto.SetAuto(on)
	writeJSON(w, http.StatusOK, map[string]bool{"auto": on})
}

type killRequest struct {
	Reason    string `json:"reason"`
	Liquidate *bool  `json:"liquidate"`
}

// Kill handles POST /api/kill. Liquidation defaults to true.
func (h *ControlHandler) Kill(w http.ResponseWriter, r *http.Request) {
	if h.ks == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine running")
		return
	}
	var req killRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual kill via api"
	}
	liquidate := req.Liquidate == nil || *req.Liquidate

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), liquidationTimeout)
	defer cancel()
	h.ks.Activate(ctx, reason, liquidate)

	writeJSON(w, http.StatusOK, map[string]any{
		"kill_switch": h.ks.IsActivated(),
		"reason":      h.ks.Reason(),
	})
}

// ResetKill handles POST /api/kill/reset.
func (h *ControlHandler) ResetKill(w http.ResponseWriter, r *http.Request) {
	if h.ks == nil {
		writeError(w, http.StatusServiceUnavailable, "no engine running")
		return
	}
	h.ks.Deactivate(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"kill_switch": h.ks.IsActivated()})
}

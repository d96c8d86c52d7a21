package handler

import (
	"context"
	"log/slog"
	"net/http"
)

// ReportLister lists archived run ids. *s3blob.Archiver satisfies it.
type ReportLister interface {
	ListReports(ctx context.Context) ([]string, error)
}

// ReportHandler serves GET /api/reports.
type ReportHandler struct {
	lister ReportLister
	logger *slog.Logger
}

func NewReportHandler(lister ReportLister, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{lister: lister, logger: logger}
}

func (h *ReportHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		writeError(w, http.StatusNotImplemented, "report archive not configured")
		return
	}
	ids, err := h.lister.ListReports(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list reports failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "failed to list reports")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": ids})
}

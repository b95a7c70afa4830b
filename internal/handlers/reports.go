package handlers

import (
	"context"
	"net/http"

	"github.com/guichetec/backend/internal/models"
)

// ReportLister is the subset of the report store used by the handler.
type ReportLister interface {
	ListReports(ctx context.Context) ([]models.DailyReport, error)
}

// ReportHandler serves archived daily reports.
type ReportHandler struct {
	reports ReportLister
}

// NewReportHandler creates a ReportHandler backed by the given store.
func NewReportHandler(reports ReportLister) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// List returns the archived daily reports, most recent first.
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.ListReports(r.Context())
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to fetch reports", err)
		return
	}
	if reports == nil {
		reports = []models.DailyReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

package handler

import (
	"log/slog"
	"net/http"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// AnalyticsSource defines the methods the analytics handler requires from
// the engine.
type AnalyticsSource interface {
	GetExecutionAnalytics(limit int) []domain.ExecutionReport
}

// AnalyticsHandler serves post-trade analytics endpoints.
type AnalyticsHandler struct {
	analytics AnalyticsSource
	logger    *slog.Logger
}

// NewAnalyticsHandler creates an AnalyticsHandler with the given source and
// logger.
func NewAnalyticsHandler(analytics AnalyticsSource, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics, logger: logger}
}

// listReportsResponse wraps the analytics list response.
type listReportsResponse struct {
	Reports []domain.ExecutionReport `json:"reports"`
}

// ListReports returns recent execution reports, newest first.
// GET /api/analytics?limit=50
func (h *AnalyticsHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	reports := h.analytics.GetExecutionAnalytics(opts.Limit)
	if reports == nil {
		reports = []domain.ExecutionReport{}
	}
	writeJSON(w, http.StatusOK, listReportsResponse{Reports: reports})
}

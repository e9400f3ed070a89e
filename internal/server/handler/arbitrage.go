package handler

import (
	"log/slog"
	"net/http"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// ArbSource defines the methods the arbitrage handler requires from the
// engine.
type ArbSource interface {
	GetArbitrageOpportunities() []domain.ArbOpportunity
}

// ArbHandler serves arbitrage-related HTTP endpoints.
type ArbHandler struct {
	arb    ArbSource
	logger *slog.Logger
}

// NewArbHandler creates an ArbHandler with the given source and logger.
func NewArbHandler(arb ArbSource, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{arb: arb, logger: logger}
}

// listOpportunitiesResponse wraps the arbitrage list response.
type listOpportunitiesResponse struct {
	Opportunities []domain.ArbOpportunity `json:"opportunities"`
}

// ListOpportunities returns live, unexpired cross-venue opportunities.
// GET /api/arbitrage
func (h *ArbHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	opps := h.arb.GetArbitrageOpportunities()
	if opps == nil {
		opps = []domain.ArbOpportunity{}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps})
}

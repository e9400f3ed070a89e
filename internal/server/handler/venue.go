package handler

import (
	"log/slog"
	"net/http"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// VenueSource defines the methods the venue handler requires from the engine.
type VenueSource interface {
	GetVenues() []domain.Venue
}

// VenueHandler serves venue-related HTTP endpoints.
type VenueHandler struct {
	venues VenueSource
	logger *slog.Logger
}

// NewVenueHandler creates a VenueHandler with the given source and logger.
func NewVenueHandler(venues VenueSource, logger *slog.Logger) *VenueHandler {
	return &VenueHandler{venues: venues, logger: logger}
}

// listVenuesResponse wraps the list venues response.
type listVenuesResponse struct {
	Venues []domain.Venue `json:"venues"`
}

// ListVenues returns all registered venues with their health and metrics.
// GET /api/venues
func (h *VenueHandler) ListVenues(w http.ResponseWriter, r *http.Request) {
	venues := h.venues.GetVenues()
	if venues == nil {
		venues = []domain.Venue{}
	}
	writeJSON(w, http.StatusOK, listVenuesResponse{Venues: venues})
}

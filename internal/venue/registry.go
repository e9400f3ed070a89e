// Package venue holds the registry of tradable venues and the suitability
// scorer used by the execution planner.
package venue

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// Registry is the single source of truth for venue state. Static fields are
// registered at startup; metrics are written only by the liquidity aggregator
// and the heartbeat loop.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*domain.Venue
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		venues: make(map[string]*domain.Venue),
		logger: logger.With(slog.String("component", "venue_registry")),
	}
}

// Register adds or replaces a venue. Replacing is intended for registry
// refreshes; callers must not replace a venue that still has in-flight
// child orders.
func (r *Registry) Register(v domain.Venue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := v
	r.venues[v.ID] = &cp
	r.logger.Info("venue registered",
		slog.String("venue_id", v.ID),
		slog.String("category", string(v.Category)),
		slog.Bool("connected", v.Connected),
	)
}

// Get returns a copy of the venue, or ErrVenueUnknown.
func (r *Registry) Get(id string) (domain.Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[id]
	if !ok {
		return domain.Venue{}, fmt.Errorf("registry: %q: %w", id, domain.ErrVenueUnknown)
	}
	return *v, nil
}

// List returns copies of all venues sorted by id.
func (r *Registry) List() []domain.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Venue, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Eligible returns copies of connected venues that trade the symbol, sorted
// by id. Disconnected venues are excluded entirely, never merely down-ranked.
func (r *Registry) Eligible(symbol string) []domain.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Venue, 0, len(r.venues))
	for _, v := range r.venues {
		if v.Connected && v.Supports(symbol) {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetConnected flips a venue's connectivity flag. It returns the previous
// value so callers can detect transitions, and ErrVenueUnknown for unknown
// ids.
func (r *Registry) SetConnected(id string, connected bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return false, fmt.Errorf("registry: %q: %w", id, domain.ErrVenueUnknown)
	}
	prev := v.Connected
	v.Connected = connected
	return prev, nil
}

// UpdateMetrics applies fn to the venue's metrics under the registry lock and
// stamps the update time. Writes to one venue are serialized here so that a
// heartbeat and an aggregator rebuild cannot lose updates to each other.
func (r *Registry) UpdateMetrics(id string, fn func(*domain.VenueMetrics)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return fmt.Errorf("registry: %q: %w", id, domain.ErrVenueUnknown)
	}
	fn(&v.Metrics)
	v.Metrics.UpdatedAt = time.Now().UTC()
	return nil
}

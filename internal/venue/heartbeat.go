package venue

import (
	"context"
	"log/slog"
	"time"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// HeartbeatConfig controls the connectivity probe loop.
type HeartbeatConfig struct {
	Interval   time.Duration // probe cadence per venue
	MaxBackoff time.Duration // cap for the reconnect backoff
}

// Heartbeat periodically probes every registered venue through its execution
// port, flips the registry connectivity flag on transitions, and retries
// disconnected venues with exponential backoff. Connectivity failures are
// never fatal to the engine; a down venue is simply excluded from scoring.
type Heartbeat struct {
	registry *Registry
	ports    domain.PortResolver
	cfg      HeartbeatConfig
	events   domain.EventSink
	logger   *slog.Logger

	// nextProbe defers probes for venues in backoff.
	nextProbe map[string]time.Time
	backoff   map[string]time.Duration
}

// NewHeartbeat creates a Heartbeat. events may be nil.
func NewHeartbeat(registry *Registry, ports domain.PortResolver, cfg HeartbeatConfig, events domain.EventSink, logger *slog.Logger) *Heartbeat {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Heartbeat{
		registry:  registry,
		ports:     ports,
		cfg:       cfg,
		events:    events,
		logger:    logger.With(slog.String("component", "venue_heartbeat")),
		nextProbe: make(map[string]time.Time),
		backoff:   make(map[string]time.Duration),
	}
}

// Run probes venues until ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.logger.Info("heartbeat started", slog.Duration("interval", h.cfg.Interval))
	defer h.logger.Info("heartbeat stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.probeAll(ctx)
		}
	}
}

// probeAll probes every venue that is due, honoring per-venue backoff.
func (h *Heartbeat) probeAll(ctx context.Context) {
	now := time.Now()
	for _, v := range h.registry.List() {
		if due, ok := h.nextProbe[v.ID]; ok && now.Before(due) {
			continue
		}
		h.probe(ctx, v)
	}
}

func (h *Heartbeat) probe(ctx context.Context, v domain.Venue) {
	port, ok := h.ports.PortFor(v.ID)
	if !ok {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, h.cfg.Interval)
	err := port.Connect(probeCtx, v.ID)
	cancel()

	if err != nil {
		h.markDown(v.ID, err)
		return
	}
	h.markUp(v.ID)
}

func (h *Heartbeat) markDown(id string, err error) {
	prev, regErr := h.registry.SetConnected(id, false)
	if regErr != nil {
		return
	}

	// Exponential backoff, doubling per consecutive failure.
	b := h.backoff[id]
	if b <= 0 {
		b = h.cfg.Interval
	} else {
		b *= 2
	}
	if b > h.cfg.MaxBackoff {
		b = h.cfg.MaxBackoff
	}
	h.backoff[id] = b
	h.nextProbe[id] = time.Now().Add(b)

	if prev {
		h.logger.Warn("venue disconnected",
			slog.String("venue_id", id),
			slog.String("error", err.Error()),
			slog.Duration("retry_in", b),
		)
		h.emit(domain.EventVenueDisconnected, id)
	}
}

func (h *Heartbeat) markUp(id string) {
	prev, err := h.registry.SetConnected(id, true)
	if err != nil {
		return
	}
	delete(h.backoff, id)
	delete(h.nextProbe, id)

	if !prev {
		h.logger.Info("venue connected", slog.String("venue_id", id))
		h.emit(domain.EventVenueConnected, id)
	}
}

func (h *Heartbeat) emit(t domain.EventType, venueID string) {
	if h.events == nil {
		return
	}
	h.events(domain.Event{Type: t, At: time.Now().UTC(), VenueID: venueID})
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// relayChannels are the bus channels the relay listens on.
var relayChannels = []string{"orders", "fills", "arb", "venues"}

// Relay subscribes to the engine's event channels and forwards selected
// events to the notifier as human-readable alerts.
type Relay struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewRelay creates a relay over the given bus and notifier.
func NewRelay(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Relay {
	return &Relay{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_relay")),
	}
}

// Run subscribes to every relay channel and forwards events until ctx is
// cancelled.
func (r *Relay) Run(ctx context.Context) error {
	chans := make([]<-chan []byte, 0, len(relayChannels))
	for _, name := range relayChannels {
		ch, err := r.bus.Subscribe(ctx, name)
		if err != nil {
			return fmt.Errorf("notify relay: subscribe %s: %w", name, err)
		}
		chans = append(chans, ch)
	}

	r.logger.Info("notify relay started")
	defer r.logger.Info("notify relay stopped")

	merged := make(chan []byte, 256)
	for _, ch := range chans {
		ch := ch
		go func() {
			for payload := range ch {
				select {
				case merged <- payload:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-merged:
			r.handle(ctx, payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warn("bad event payload", slog.String("error", err.Error()))
		return
	}

	title, message, ok := format(ev)
	if !ok {
		return
	}
	if err := r.notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
		r.logger.Warn("notify failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// format renders the events operators conventionally alert on. Events with
// no rendering are skipped.
func format(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventArbDetected:
		return "Arbitrage opportunity",
			fmt.Sprintf("%s: buy %v at %v, sell %v at %v (net %v bps)",
				ev.Symbol,
				ev.Detail["buy_venue"], ev.Detail["buy_price"],
				ev.Detail["sell_venue"], ev.Detail["sell_price"],
				ev.Detail["net_bps"],
			), true

	case domain.EventOrderCompleted:
		return "Order completed",
			fmt.Sprintf("%s %s: status %v, filled %v at avg %v",
				ev.Symbol, ev.OrderID,
				ev.Detail["status"], ev.Detail["filled"], ev.Detail["avg_fill_price"],
			), true

	case domain.EventVenueDisconnected:
		return "Venue disconnected",
			fmt.Sprintf("venue %s is unreachable", ev.VenueID), true

	case domain.EventVenueConnected:
		return "Venue reconnected",
			fmt.Sprintf("venue %s is healthy again", ev.VenueID), true
	}

	return "", "", false
}

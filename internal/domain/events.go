package domain

import "time"

// EventType enumerates the engine's lifecycle event stream.
type EventType string

const (
	EventOrderCreated      EventType = "order_created"
	EventOrderStarted      EventType = "order_started"
	EventChildFilled       EventType = "child_filled"
	EventOrderCompleted    EventType = "order_completed"
	EventArbDetected       EventType = "arb_detected"
	EventVenueConnected    EventType = "venue_connected"
	EventVenueDisconnected EventType = "venue_disconnected"
)

// Channel returns the signal-bus channel an event type is published on.
func (t EventType) Channel() string {
	switch t {
	case EventArbDetected:
		return "arb"
	case EventVenueConnected, EventVenueDisconnected:
		return "venues"
	case EventChildFilled:
		return "fills"
	default:
		return "orders"
	}
}

// Event is one entry in the engine's event stream. Detail carries
// event-specific fields and is marshaled to JSON for bus consumers.
type Event struct {
	Type    EventType      `json:"type"`
	At      time.Time      `json:"at"`
	OrderID string         `json:"order_id,omitempty"`
	VenueID string         `json:"venue_id,omitempty"`
	Symbol  string         `json:"symbol,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// EventSink receives engine events. Implementations must not block.
type EventSink func(Event)

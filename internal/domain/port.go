package domain

import (
	"context"
	"time"
)

// ChildOrderRequest is the wire-level submission to a venue execution port.
type ChildOrderRequest struct {
	VenueID  string
	Symbol   string
	Side     Side
	Quantity float64
	Kind     OrderKind
	Price    float64 // limit price, or the limit leg of a stop-limit
	Stop     float64 // stop price for stop / stop-limit kinds
	TrailAmt float64 // absolute trailing distance
	TrailPct float64 // trailing distance as a percentage of price
}

// ExecutionUpdate is the asynchronous status/fill callback payload from a
// venue port. FilledQty is the incremental quantity of this update, not a
// cumulative total.
type ExecutionUpdate struct {
	ChildOrderID string
	VenueID      string
	Status       ChildStatus
	FilledQty    float64
	FillPrice    float64
	LatencyMs    float64
	Reason       string
	At           time.Time
}

// ExecutionCallback receives execution updates. Implementations must be safe
// for concurrent use and must not block the port's internal loops.
type ExecutionCallback func(ExecutionUpdate)

// VenueExecutionPort is the contract between the lifecycle manager and a
// liquidity source adapter. One port may serve several venues; the built-in
// matching simulator implements this without a network.
type VenueExecutionPort interface {
	// Connect establishes (or probes) connectivity for the given venue.
	Connect(ctx context.Context, venueID string) error

	// SubmitChildOrder sends a child order and returns the port-side order id.
	// Completion is signaled via the callback, not the return value.
	SubmitChildOrder(ctx context.Context, req ChildOrderRequest) (string, error)

	// CancelChildOrder requests cancellation of a resting child order.
	CancelChildOrder(ctx context.Context, childOrderID string) error

	// GetQuote returns the venue's current top of book for the symbol.
	GetQuote(ctx context.Context, venueID, symbol string) (Quote, error)

	// SetCallback registers the status/fill callback. Must be called before
	// any SubmitChildOrder.
	SetCallback(cb ExecutionCallback)
}

// PortResolver maps a venue id to the execution port that serves it.
type PortResolver interface {
	PortFor(venueID string) (VenueExecutionPort, bool)
}

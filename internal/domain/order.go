package domain

import "time"

// Side indicates whether an order buys or sells.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Urgency indicates how aggressively an intent should be worked.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// OrderKind is the child-order type sent to a venue.
type OrderKind string

const (
	KindMarket       OrderKind = "market"
	KindLimit        OrderKind = "limit"
	KindStop         OrderKind = "stop"
	KindStopLimit    OrderKind = "stop_limit"
	KindTrailingStop OrderKind = "trailing_stop"
	KindMidpointPeg  OrderKind = "midpoint_peg"
	KindIceberg      OrderKind = "iceberg"
)

// OrderIntent is the caller's request: what to trade and how urgently.
// Immutable once submitted.
type OrderIntent struct {
	Symbol         string
	Side           Side
	Quantity       float64
	LimitPrice     float64 // 0 means no limit
	Urgency        Urgency
	MaxSlippageBps float64 // 0 means no cap; venues above it are not routed to
	PreferDark     bool
	ArrivalPrice   float64 // benchmark price at submission, 0 if unknown
}

// ParentStatus tracks the smart-order lifecycle.
type ParentStatus string

const (
	ParentPending   ParentStatus = "pending"
	ParentWorking   ParentStatus = "working"
	ParentFilled    ParentStatus = "filled"
	ParentPartial   ParentStatus = "partial"
	ParentCancelled ParentStatus = "cancelled"
	ParentRejected  ParentStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s ParentStatus) Terminal() bool {
	switch s {
	case ParentFilled, ParentPartial, ParentCancelled, ParentRejected:
		return true
	}
	return false
}

// ChildStatus tracks a venue-targeted child order.
type ChildStatus string

const (
	ChildPending      ChildStatus = "pending"
	ChildSent         ChildStatus = "sent"
	ChildAcknowledged ChildStatus = "acknowledged"
	ChildFilled       ChildStatus = "filled"
	ChildPartialFill  ChildStatus = "partially_filled"
	ChildCancelled    ChildStatus = "cancelled"
	ChildRejected     ChildStatus = "rejected"
)

// Terminal reports whether the child order can no longer change state.
func (s ChildStatus) Terminal() bool {
	switch s {
	case ChildFilled, ChildCancelled, ChildRejected:
		return true
	}
	return false
}

// ChildOrder is one venue-targeted fragment of a parent order. Its lifetime
// is bounded by the parent's.
type ChildOrder struct {
	ID        string
	ParentID  string
	VenueID   string
	Kind      OrderKind
	Quantity  float64
	Price     float64 // 0 for market-style kinds
	Status    ChildStatus
	FilledQty float64
	FillPrice float64 // volume-weighted across this child's fills
	LatencyMs float64 // observed
	SentAt    time.Time
	AckedAt   *time.Time
	FilledAt  *time.Time
}

// ParentOrder is a smart order being worked across venues. It is owned
// exclusively by the lifecycle manager; callers only ever see copies.
type ParentOrder struct {
	ID                string
	Intent            OrderIntent
	Status            ParentStatus
	Plan              *ExecutionPlan
	Children          []ChildOrder
	QuantityFilled    float64
	QuantityRemaining float64
	AvgFillPrice      float64 // volume-weighted

	// Post-trade summary, written once by analytics after settlement.
	ImplementationShortfallBps float64
	MarketImpactBps            float64

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// FillRatio returns the filled fraction of the requested quantity.
func (p ParentOrder) FillRatio() float64 {
	if p.Intent.Quantity <= 0 {
		return 0
	}
	return p.QuantityFilled / p.Intent.Quantity
}

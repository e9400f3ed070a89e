package domain

import "time"

// VenueBreakdown attributes a settled order's fills to one venue.
type VenueBreakdown struct {
	VenueID      string
	Fills        int
	Quantity     float64
	AvgPrice     float64
	AvgLatencyMs float64
	SlippageBps  float64 // vs the parent's arrival price
}

// ExecutionReport is the post-trade record for a settled parent order.
type ExecutionReport struct {
	ID             string
	OrderID        string
	Symbol         string
	Side           Side
	Quantity       float64
	QuantityFilled float64
	AvgFillPrice   float64
	ArrivalPrice   float64

	ImplementationShortfallBps float64
	MarketImpactBps            float64
	VWAPSlippageBps            float64
	TWAPSlippageBps            float64

	Venues          []VenueBreakdown
	Recommendations []string
	CreatedAt       time.Time
}

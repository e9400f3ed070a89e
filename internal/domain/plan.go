package domain

import "time"

// VenueAllocation is one slice of an execution plan: how much of the parent
// quantity goes to a venue and in what child-order form.
type VenueAllocation struct {
	VenueID             string
	Quantity            float64
	Pct                 float64 // fraction of parent quantity, 0..1
	Kind               OrderKind
	Priority            int // dispatch order, 0 first
	ExpectedFillRate    float64
	ExpectedSlippageBps float64
	Rationale           string
}

// ExecutionPlan is the allocation of a parent order across venues. Plans are
// immutable once generated; re-planning produces a new plan.
type ExecutionPlan struct {
	ID                  string
	Symbol              string
	Side                Side
	TotalQuantity       float64
	Allocations         []VenueAllocation
	ExpectedSlippageBps float64
	ExpectedCost        float64 // taker fees across allocations, quote currency
	Confidence          float64 // 0..1
	CreatedAt           time.Time
}

// AllocatedQuantity returns the sum of all allocation quantities. It can be
// less than TotalQuantity when available liquidity falls short.
func (p ExecutionPlan) AllocatedQuantity() float64 {
	var total float64
	for _, a := range p.Allocations {
		total += a.Quantity
	}
	return total
}

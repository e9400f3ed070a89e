package domain

import "time"

// ArbOpportunity is a detected cross-venue price dislocation. It is immutable
// after creation and becomes invalid once ExpiresAt passes.
type ArbOpportunity struct {
	ID           string
	Symbol       string
	BuyVenueID   string
	BuyPrice     float64 // best composite ask
	SellVenueID  string
	SellPrice    float64 // best composite bid
	SpreadBps    float64 // gross
	NetProfitBps float64 // gross minus both venues' taker fees
	MaxQuantity  float64 // bounded by the thinner side's depth
	Confidence   float64 // 0..1
	RiskScore    float64 // 0..100, higher is riskier
	DetectedAt   time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the opportunity may no longer be actioned.
func (o ArbOpportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

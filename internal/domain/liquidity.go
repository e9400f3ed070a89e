package domain

import "time"

// Quote is a single top-of-book snapshot from one venue.
type Quote struct {
	Bid       float64
	Ask       float64
	BidSize   float64
	AskSize   float64
	Timestamp time.Time
}

// Mid returns the quote midpoint, or 0 when one side is missing.
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// VenueQuote pairs a quote with the venue that produced it.
type VenueQuote struct {
	VenueID string
	Quote
}

// LiquidityPool is the composite per-symbol view across venues. Each rebuild
// produces a fresh snapshot; a pool is never partially updated.
type LiquidityPool struct {
	Symbol            string
	BestBid           float64
	BestAsk           float64
	Spread            float64
	Quotes            []VenueQuote
	TotalBidLiquidity float64
	TotalAskLiquidity float64
	Imbalance         float64 // -1..1
	QualityScore      float64 // 0..100
	BuiltAt           time.Time
}

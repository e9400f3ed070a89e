package domain

import "time"

// VenueCategory classifies a liquidity source.
type VenueCategory string

const (
	VenueLitExchange    VenueCategory = "lit_exchange"
	VenueDarkPool       VenueCategory = "dark_pool"
	VenueMidpoint       VenueCategory = "midpoint"
	VenueCryptoExchange VenueCategory = "crypto_exchange"
	VenueDEX            VenueCategory = "dex"
	VenueForexECN       VenueCategory = "forex_ecn"
	VenueOTCDesk        VenueCategory = "otc_desk"
)

// FeeSchedule holds a venue's fee parameters in basis points, plus a
// per-trade minimum in quote currency.
type FeeSchedule struct {
	MakerBps float64
	TakerBps float64
	Minimum  float64
}

// VenueMetrics is the rolling market-quality state of a venue. It is written
// only by the liquidity aggregator and the heartbeat loop.
type VenueMetrics struct {
	LiquidityScore float64 // 0..100
	FillRate       float64 // 0..1, historical
	AvgSlippageBps float64 // realized, >= 0
	SpreadBps      float64
	BidDepth       float64 // units at or near best bid
	AskDepth       float64 // units at or near best ask
	Imbalance      float64 // -1..1, (bidDepth-askDepth)/(bidDepth+askDepth)
	Toxicity       float64 // 0..1, adverse-selection proxy
	Momentum       float64 // -1..1
	UpdatedAt      time.Time
}

// Venue is a tradable liquidity source known to the registry.
type Venue struct {
	ID        string
	Name      string
	Category  VenueCategory
	LatencyMs float64 // round-trip estimate
	Fees      FeeSchedule
	Symbols   []string
	Kinds     []OrderKind
	Connected bool
	Metrics   VenueMetrics
}

// IsDark reports whether the venue executes without pre-trade transparency.
func (v Venue) IsDark() bool {
	return v.Category == VenueDarkPool || v.Category == VenueMidpoint
}

// Supports reports whether the venue trades the given symbol.
func (v Venue) Supports(symbol string) bool {
	for _, s := range v.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// SupportsKind reports whether the venue accepts the given child-order kind.
func (v Venue) SupportsKind(kind OrderKind) bool {
	for _, k := range v.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

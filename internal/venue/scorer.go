package venue

import "github.com/tdmboyd-dev/smartrouter/internal/domain"

// ScoreWeights controls the contribution of each factor to a venue's
// suitability score. The defaults are tuning parameters, not derived
// business rules.
type ScoreWeights struct {
	Latency         float64 // max contribution of the latency bonus
	Liquidity       float64 // scales metrics.LiquidityScore/100
	FillRate        float64 // scales metrics.FillRate
	Slippage        float64 // scales 1/(1+avgSlippageBps)
	Fee             float64 // scales 1/(1+takerBps)
	DarkBonus       float64 // flat bonus for dark venues on large orders
	ToxicityPenalty float64 // scales metrics.Toxicity, subtracted
	ImbalanceBonus  float64 // max bonus when book imbalance favors the side

	// LatencyRefMs is the latency at which the latency bonus reaches zero.
	LatencyRefMs float64
	// LargeOrderQty is the quantity threshold for the dark-pool bonus.
	LargeOrderQty float64
}

// DefaultWeights returns the stock scoring weights. The factors sum to 100
// for a venue that is ideal on every axis.
func DefaultWeights() ScoreWeights {
	return ScoreWeights{
		Latency:         20,
		Liquidity:       25,
		FillRate:        20,
		Slippage:        15,
		Fee:             10,
		DarkBonus:       8,
		ToxicityPenalty: 15,
		ImbalanceBonus:  5,
		LatencyRefMs:    200,
		LargeOrderQty:   10_000,
	}
}

// Score rates a venue's suitability for an intent on a 0..100 scale and
// returns the liquidity available on the relevant side of the book. It is a
// pure function of its inputs: no clock, no randomness, no hidden state.
// Disconnected venues score zero and must be filtered out by the caller
// before ranking.
func Score(v domain.Venue, intent domain.OrderIntent, w ScoreWeights) (score, availableLiquidity float64) {
	if !v.Connected || !v.Supports(intent.Symbol) {
		return 0, 0
	}

	m := v.Metrics

	// Lower latency earns a larger bonus, linearly down to zero at the
	// reference latency.
	if w.LatencyRefMs > 0 && v.LatencyMs < w.LatencyRefMs {
		score += w.Latency * (1 - v.LatencyMs/w.LatencyRefMs)
	}

	score += w.Liquidity * clamp(m.LiquidityScore/100, 0, 1)
	score += w.FillRate * clamp(m.FillRate, 0, 1)

	if m.AvgSlippageBps >= 0 {
		score += w.Slippage / (1 + m.AvgSlippageBps)
	}
	if v.Fees.TakerBps >= 0 {
		score += w.Fee / (1 + v.Fees.TakerBps)
	}

	if v.IsDark() && intent.Quantity >= w.LargeOrderQty {
		score += w.DarkBonus
	}

	score -= w.ToxicityPenalty * clamp(m.Toxicity, 0, 1)

	// A buy wants resting ask depth (imbalance < 0), a sell wants resting
	// bid depth (imbalance > 0).
	switch {
	case intent.Side == domain.SideBuy && m.Imbalance < 0:
		score += w.ImbalanceBonus * clamp(-m.Imbalance, 0, 1)
	case intent.Side == domain.SideSell && m.Imbalance > 0:
		score += w.ImbalanceBonus * clamp(m.Imbalance, 0, 1)
	}

	if intent.Side == domain.SideBuy {
		availableLiquidity = m.AskDepth
	} else {
		availableLiquidity = m.BidDepth
	}

	return clamp(score, 0, 100), availableLiquidity
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

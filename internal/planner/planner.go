// Package planner turns an order intent into an execution plan: a ranked
// allocation of quantity across venues with a child-order kind per slice.
package planner

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/venue"
)

// Config holds the allocation caps and confidence levels. The caps bound how
// much of one venue's visible liquidity a single plan may consume.
type Config struct {
	DarkPoolCapFrac float64 // fraction of a dark venue's liquidity, first pass
	LitCapFrac      float64 // fraction of any venue's liquidity, second pass
	MinAllocation   float64 // allocations below this quantity are dropped
	HighConfidence  float64
	LowConfidence   float64
	Weights         venue.ScoreWeights
}

// DefaultConfig returns the stock planner parameters.
func DefaultConfig() Config {
	return Config{
		DarkPoolCapFrac: 0.30,
		LitCapFrac:      0.25,
		MinAllocation:   1,
		HighConfidence:  0.85,
		LowConfidence:   0.2,
		Weights:         venue.DefaultWeights(),
	}
}

// PoolSource provides composite liquidity views for expected-cost pricing.
type PoolSource interface {
	Pool(symbol string) (*domain.LiquidityPool, bool)
}

// Planner produces execution plans from the venue registry and the scorer.
// Plan is deterministic for a fixed registry state and intent.
type Planner struct {
	registry *venue.Registry
	pools    PoolSource // may be nil; cost falls back to fee-per-unit
	cfg      Config
	logger   *slog.Logger
}

// NewPlanner creates a Planner. pools may be nil.
func NewPlanner(registry *venue.Registry, pools PoolSource, cfg Config, logger *slog.Logger) *Planner {
	return &Planner{
		registry: registry,
		pools:    pools,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "planner")),
	}
}

// ranked pairs a venue with its score and available liquidity for one intent.
type ranked struct {
	venue     domain.Venue
	score     float64
	available float64
}

// Plan builds an execution plan for the intent. Insufficient liquidity is not
// an error: the plan allocates what is available and the shortfall shows up
// as remaining quantity after execution. Zero eligible venues and malformed
// intents fail fast with typed errors.
func (p *Planner) Plan(intent domain.OrderIntent) (*domain.ExecutionPlan, error) {
	if err := validateIntent(intent); err != nil {
		return nil, err
	}

	eligible := p.registry.Eligible(intent.Symbol)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("planner: %s: %w", intent.Symbol, domain.ErrNoEligibleVenues)
	}

	candidates := make([]ranked, 0, len(eligible))
	for _, v := range eligible {
		// A slippage cap on the intent excludes venues whose observed
		// slippage already exceeds it.
		if intent.MaxSlippageBps > 0 && v.Metrics.AvgSlippageBps > intent.MaxSlippageBps {
			continue
		}
		score, avail := venue.Score(v, intent, p.cfg.Weights)
		candidates = append(candidates, ranked{venue: v, score: score, available: avail})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("planner: %s: all venues above slippage cap %.1f bps: %w",
			intent.Symbol, intent.MaxSlippageBps, domain.ErrNoEligibleVenues)
	}
	// Score descending; venue id breaks ties so the ranking is total.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].venue.ID < candidates[j].venue.ID
	})

	plan := &domain.ExecutionPlan{
		ID:            uuid.New().String(),
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		TotalQuantity: intent.Quantity,
		CreatedAt:     time.Now().UTC(),
	}

	remaining := intent.Quantity
	allocated := make(map[string]bool, len(candidates))

	// Pass 1: dark pools first when the intent asks for them, each capped at
	// a fraction of that venue's visible liquidity.
	if intent.PreferDark {
		for _, c := range candidates {
			if remaining <= 0 {
				break
			}
			if !c.venue.IsDark() {
				continue
			}
			qty := allocQty(remaining, c.available, p.cfg.DarkPoolCapFrac)
			if qty < p.cfg.MinAllocation {
				continue
			}
			plan.Allocations = append(plan.Allocations, p.allocation(c, intent, qty, true))
			allocated[c.venue.ID] = true
			remaining -= qty
		}
	}

	// Pass 2: everything else in score order, capped so no single venue
	// absorbs enough of the order to move its own market.
	for _, c := range candidates {
		if remaining <= 0 {
			break
		}
		if allocated[c.venue.ID] {
			continue
		}
		qty := allocQty(remaining, c.available, p.cfg.LitCapFrac)
		if qty < p.cfg.MinAllocation {
			continue
		}
		plan.Allocations = append(plan.Allocations, p.allocation(c, intent, qty, false))
		allocated[c.venue.ID] = true
		remaining -= qty
	}

	p.finalize(plan, intent)

	p.logger.Debug("plan generated",
		slog.String("plan_id", plan.ID),
		slog.String("symbol", intent.Symbol),
		slog.Int("allocations", len(plan.Allocations)),
		slog.Float64("allocated_qty", plan.AllocatedQuantity()),
		slog.Float64("requested_qty", intent.Quantity),
	)
	return plan, nil
}

// allocQty caps an allocation at capFrac of the venue's available liquidity.
func allocQty(remaining, available, capFrac float64) float64 {
	capped := available * capFrac
	if capped < remaining {
		return capped
	}
	return remaining
}

func (p *Planner) allocation(c ranked, intent domain.OrderIntent, qty float64, dark bool) domain.VenueAllocation {
	kind := selectKind(c.venue, intent)
	pct := 0.0
	if intent.Quantity > 0 {
		pct = qty / intent.Quantity
	}

	pass := "liquidity pass"
	if dark {
		pass = "dark pass"
	}

	return domain.VenueAllocation{
		VenueID:             c.venue.ID,
		Quantity:            qty,
		Pct:                 pct,
		Kind:                kind,
		ExpectedFillRate:    c.venue.Metrics.FillRate,
		ExpectedSlippageBps: c.venue.Metrics.AvgSlippageBps,
		Rationale: fmt.Sprintf("%s: score %.1f, %s %s, %.0f units available",
			pass, c.score, c.venue.Category, kind, c.available),
	}
}

// selectKind picks a child-order kind the venue supports, honoring urgency.
// Critical intents want immediate execution; patient ones prefer the venue's
// stealth kinds, then a limit when the intent carries a price.
func selectKind(v domain.Venue, intent domain.OrderIntent) domain.OrderKind {
	if intent.Urgency == domain.UrgencyCritical {
		if v.SupportsKind(domain.KindMarket) {
			return domain.KindMarket
		}
		if v.SupportsKind(domain.KindLimit) {
			return domain.KindLimit
		}
	}

	for _, stealth := range []domain.OrderKind{domain.KindMidpointPeg, domain.KindIceberg} {
		if v.SupportsKind(stealth) {
			return stealth
		}
	}

	if intent.LimitPrice > 0 && v.SupportsKind(domain.KindLimit) {
		return domain.KindLimit
	}
	if v.SupportsKind(domain.KindMarket) {
		return domain.KindMarket
	}

	// Fall back to whatever the venue lists first.
	if len(v.Kinds) > 0 {
		return v.Kinds[0]
	}
	return domain.KindMarket
}

// finalize stamps priorities and plan-level expectations.
func (p *Planner) finalize(plan *domain.ExecutionPlan, intent domain.OrderIntent) {
	refPrice := p.referencePrice(intent)

	var weightedSlippage, totalQty float64
	for i := range plan.Allocations {
		a := &plan.Allocations[i]
		a.Priority = i

		weightedSlippage += a.ExpectedSlippageBps * a.Quantity
		totalQty += a.Quantity

		if v, err := p.registry.Get(a.VenueID); err == nil {
			fee := a.Quantity * refPrice * v.Fees.TakerBps / 10_000
			if fee < v.Fees.Minimum {
				fee = v.Fees.Minimum
			}
			plan.ExpectedCost += fee
		}
	}

	if totalQty > 0 {
		plan.ExpectedSlippageBps = weightedSlippage / totalQty
	}

	if len(plan.Allocations) > 0 {
		plan.Confidence = p.cfg.HighConfidence
	} else {
		plan.Confidence = p.cfg.LowConfidence
	}
}

// referencePrice returns the best proxy for the intent's execution price:
// composite mid, then limit, then arrival. Returns 1 when no price is known
// so expected cost degrades to fee-per-unit rather than zero.
func (p *Planner) referencePrice(intent domain.OrderIntent) float64 {
	if p.pools != nil {
		if pool, ok := p.pools.Pool(intent.Symbol); ok && pool.BestBid > 0 && pool.BestAsk > 0 {
			return (pool.BestBid + pool.BestAsk) / 2
		}
	}
	if intent.LimitPrice > 0 {
		return intent.LimitPrice
	}
	if intent.ArrivalPrice > 0 {
		return intent.ArrivalPrice
	}
	return 1
}

func validateIntent(intent domain.OrderIntent) error {
	if intent.Symbol == "" {
		return fmt.Errorf("planner: empty symbol: %w", domain.ErrInvalidIntent)
	}
	if intent.Side != domain.SideBuy && intent.Side != domain.SideSell {
		return fmt.Errorf("planner: side %q: %w", intent.Side, domain.ErrInvalidIntent)
	}
	if intent.Quantity <= 0 {
		return fmt.Errorf("planner: quantity %.4f: %w", intent.Quantity, domain.ErrInvalidIntent)
	}
	return nil
}

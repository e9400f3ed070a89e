// Package analytics builds post-trade execution reports for settled parent
// orders: implementation shortfall, benchmark slippage, per-venue quality
// and routing recommendations.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// Config controls report generation and retention.
type Config struct {
	HistoryCap       int     // reports kept in memory, oldest evicted
	HighSlippageBps  float64 // above this, recommend more dark allocation
	HighShortfallBps float64 // above this, flag the execution
}

// DefaultConfig returns the stock analyzer parameters.
func DefaultConfig() Config {
	return Config{
		HistoryCap:       1000,
		HighSlippageBps:  20,
		HighShortfallBps: 35,
	}
}

// EvictFunc receives reports evicted from the in-memory history.
type EvictFunc func(domain.ExecutionReport)

// Analyzer turns settled parent orders into execution reports and keeps a
// bounded history of them.
type Analyzer struct {
	cfg     Config
	store   domain.ReportStore // optional
	onEvict EvictFunc          // optional
	logger  *slog.Logger

	mu      sync.Mutex
	history []domain.ExecutionReport
}

// NewAnalyzer creates an analyzer. store and onEvict may be nil.
func NewAnalyzer(cfg Config, store domain.ReportStore, onEvict EvictFunc, logger *slog.Logger) *Analyzer {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 1000
	}
	return &Analyzer{
		cfg:     cfg,
		store:   store,
		onEvict: onEvict,
		logger:  logger.With(slog.String("component", "analytics")),
	}
}

// Settle builds and records the report for a settled parent order. A parent
// that never filled carries nothing to analyze; it is skipped and the second
// return is false.
func (a *Analyzer) Settle(parent domain.ParentOrder) (domain.ExecutionReport, bool) {
	if parent.QuantityFilled <= 0 {
		return domain.ExecutionReport{}, false
	}
	report := a.build(parent)

	var evicted *domain.ExecutionReport
	a.mu.Lock()
	a.history = append(a.history, report)
	if len(a.history) > a.cfg.HistoryCap {
		old := a.history[0]
		evicted = &old
		a.history = a.history[1:]
	}
	a.mu.Unlock()

	if evicted != nil && a.onEvict != nil {
		a.onEvict(*evicted)
	}

	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.Insert(ctx, report); err != nil {
			a.logger.Warn("report insert failed",
				slog.String("order_id", report.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.Info("execution report",
		slog.String("order_id", report.OrderID),
		slog.String("symbol", report.Symbol),
		slog.Float64("shortfall_bps", report.ImplementationShortfallBps),
		slog.Float64("vwap_slippage_bps", report.VWAPSlippageBps),
	)
	return report, true
}

// Recent returns up to limit reports, newest first.
func (a *Analyzer) Recent(limit int) []domain.ExecutionReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.ExecutionReport, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, a.history[i])
	}
	return out
}

func (a *Analyzer) build(parent domain.ParentOrder) domain.ExecutionReport {
	report := domain.ExecutionReport{
		ID:             uuid.New().String(),
		OrderID:        parent.ID,
		Symbol:         parent.Intent.Symbol,
		Side:           parent.Intent.Side,
		Quantity:       parent.Intent.Quantity,
		QuantityFilled: parent.QuantityFilled,
		AvgFillPrice:   parent.AvgFillPrice,
		ArrivalPrice:   parent.Intent.ArrivalPrice,
		CreatedAt:      time.Now().UTC(),
	}

	if parent.QuantityFilled > 0 && parent.Intent.ArrivalPrice > 0 {
		report.ImplementationShortfallBps = shortfallBps(parent.Intent.Side, parent.AvgFillPrice, parent.Intent.ArrivalPrice)
	}

	vwap, twap := benchmarks(parent.Children)
	if parent.QuantityFilled > 0 {
		if vwap > 0 {
			report.VWAPSlippageBps = shortfallBps(parent.Intent.Side, parent.AvgFillPrice, vwap)
		}
		if twap > 0 {
			report.TWAPSlippageBps = shortfallBps(parent.Intent.Side, parent.AvgFillPrice, twap)
		}
		// Market impact: how far the traded prices drifted away from the
		// arrival price over the life of the order.
		if vwap > 0 && parent.Intent.ArrivalPrice > 0 {
			report.MarketImpactBps = shortfallBps(parent.Intent.Side, vwap, parent.Intent.ArrivalPrice)
		}
	}

	report.Venues = venueBreakdowns(parent)
	report.Recommendations = a.recommend(parent, report)
	return report
}

// shortfallBps is the signed execution cost versus a benchmark price:
// positive when the fill is worse than the benchmark, for either side.
func shortfallBps(side domain.Side, fill, benchmark float64) float64 {
	bps := (fill - benchmark) / benchmark * 10_000
	if side == domain.SideSell {
		bps = -bps
	}
	return bps
}

// benchmarks derives the volume-weighted and time-weighted average fill
// prices over the parent's filled children.
func benchmarks(children []domain.ChildOrder) (vwap, twap float64) {
	var notional, qty, priceSum float64
	fills := 0
	for _, c := range children {
		if c.FilledQty <= 0 || c.FillPrice <= 0 {
			continue
		}
		notional += c.FilledQty * c.FillPrice
		qty += c.FilledQty
		priceSum += c.FillPrice
		fills++
	}
	if qty > 0 {
		vwap = notional / qty
	}
	if fills > 0 {
		twap = priceSum / float64(fills)
	}
	return vwap, twap
}

func venueBreakdowns(parent domain.ParentOrder) []domain.VenueBreakdown {
	byVenue := make(map[string]*domain.VenueBreakdown)
	order := make([]string, 0, 4)

	for _, c := range parent.Children {
		if c.FilledQty <= 0 {
			continue
		}
		vb, ok := byVenue[c.VenueID]
		if !ok {
			vb = &domain.VenueBreakdown{VenueID: c.VenueID}
			byVenue[c.VenueID] = vb
			order = append(order, c.VenueID)
		}
		prevQty := vb.Quantity
		vb.Fills++
		vb.Quantity += c.FilledQty
		vb.AvgPrice = (vb.AvgPrice*prevQty + c.FillPrice*c.FilledQty) / vb.Quantity
		vb.AvgLatencyMs += (c.LatencyMs - vb.AvgLatencyMs) / float64(vb.Fills)
		if parent.Intent.ArrivalPrice > 0 {
			vb.SlippageBps = shortfallBps(parent.Intent.Side, vb.AvgPrice, parent.Intent.ArrivalPrice)
		}
	}

	out := make([]domain.VenueBreakdown, 0, len(order))
	for _, id := range order {
		out = append(out, *byVenue[id])
	}
	return out
}

func (a *Analyzer) recommend(parent domain.ParentOrder, report domain.ExecutionReport) []string {
	var recs []string

	if report.VWAPSlippageBps > a.cfg.HighSlippageBps || report.ImplementationShortfallBps > a.cfg.HighShortfallBps {
		recs = append(recs, "slippage above threshold: route a larger share to dark venues for this symbol")
	}

	rejects := 0
	for _, c := range parent.Children {
		if c.Status == domain.ChildRejected {
			rejects++
		}
	}
	if rejects > 0 {
		recs = append(recs, "child rejections observed: review venue connectivity and capacity")
	}

	if parent.Status == domain.ParentPartial {
		recs = append(recs, "partial completion: consider raising urgency or widening the venue set")
	}

	return recs
}

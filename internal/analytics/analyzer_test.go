package analytics

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAnalyzer(cfg Config) *Analyzer {
	return NewAnalyzer(cfg, nil, nil, testLogger())
}

func filledChild(venueID string, qty, price, latencyMs float64) domain.ChildOrder {
	return domain.ChildOrder{
		VenueID:   venueID,
		Quantity:  qty,
		Status:    domain.ChildFilled,
		FilledQty: qty,
		FillPrice: price,
		LatencyMs: latencyMs,
	}
}

func settledBuy(id string) domain.ParentOrder {
	return domain.ParentOrder{
		ID: id,
		Intent: domain.OrderIntent{
			Symbol:       "ACME",
			Side:         domain.SideBuy,
			Quantity:     1000,
			ArrivalPrice: 100.0,
		},
		Status:         domain.ParentFilled,
		QuantityFilled: 1000,
		AvgFillPrice:   100.5,
		Children: []domain.ChildOrder{
			filledChild("nyx", 600, 100.4, 20),
			filledChild("mpx", 400, 100.65, 40),
		},
	}
}

func TestSettle_BuyShortfallIsPositiveWhenFillWorse(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())

	report, ok := a.Settle(settledBuy("ord-1"))
	require.True(t, ok)

	// Paid 100.5 against a 100.0 arrival: 50bps of cost.
	assert.InDelta(t, 50.0, report.ImplementationShortfallBps, 1e-9)
	assert.Equal(t, "ord-1", report.OrderID)
	assert.Equal(t, "ACME", report.Symbol)
	assert.Equal(t, 1000.0, report.QuantityFilled)
}

func TestSettle_SellShortfallFlipsSign(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())
	parent := settledBuy("ord-2")
	parent.Intent.Side = domain.SideSell

	report, ok := a.Settle(parent)
	require.True(t, ok)

	// Sold at 100.5 against a 100.0 arrival: price improvement.
	assert.InDelta(t, -50.0, report.ImplementationShortfallBps, 1e-9)
}

func TestSettle_Benchmarks(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())
	parent := settledBuy("ord-3")

	report, ok := a.Settle(parent)
	require.True(t, ok)

	vwap := (600*100.4 + 400*100.65) / 1000.0
	twap := (100.4 + 100.65) / 2.0
	assert.InDelta(t, (100.5-vwap)/vwap*10_000, report.VWAPSlippageBps, 1e-9)
	assert.InDelta(t, (100.5-twap)/twap*10_000, report.TWAPSlippageBps, 1e-9)
}

func TestSettle_ZeroFillProducesNoReport(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())
	parent := domain.ParentOrder{
		ID:     "ord-4",
		Intent: domain.OrderIntent{Symbol: "ACME", Side: domain.SideBuy, Quantity: 1000, ArrivalPrice: 100},
		Status: domain.ParentRejected,
	}

	// A parent that never traded carries nothing to analyze: no report is
	// built and the history stays empty.
	_, ok := a.Settle(parent)
	assert.False(t, ok)
	assert.Empty(t, a.Recent(0))
}

func TestSettle_MarketImpact(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())

	report, ok := a.Settle(settledBuy("ord-8"))
	require.True(t, ok)

	// Impact is the drift of the traded prices from arrival.
	vwap := (600*100.4 + 400*100.65) / 1000.0
	assert.InDelta(t, (vwap-100.0)/100.0*10_000, report.MarketImpactBps, 1e-9)
}

func TestSettle_VenueBreakdown(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())
	parent := settledBuy("ord-5")
	// A second fill on nyx blends into its breakdown.
	parent.Children = append(parent.Children, filledChild("nyx", 200, 101.0, 60))

	report, ok := a.Settle(parent)
	require.True(t, ok)

	require.Len(t, report.Venues, 2)
	nyx := report.Venues[0]
	assert.Equal(t, "nyx", nyx.VenueID, "breakdowns keep first-seen venue order")
	assert.Equal(t, 2, nyx.Fills)
	assert.Equal(t, 800.0, nyx.Quantity)
	assert.InDelta(t, (600*100.4+200*101.0)/800.0, nyx.AvgPrice, 1e-9)
	assert.InDelta(t, 40.0, nyx.AvgLatencyMs, 1e-9)

	mpx := report.Venues[1]
	assert.Equal(t, "mpx", mpx.VenueID)
	assert.Equal(t, 1, mpx.Fills)
	assert.Equal(t, 400.0, mpx.Quantity)
}

func TestSettle_Recommendations(t *testing.T) {
	a := newTestAnalyzer(Config{HistoryCap: 10, HighSlippageBps: 20, HighShortfallBps: 35})

	parent := settledBuy("ord-6")
	parent.Status = domain.ParentPartial
	parent.QuantityFilled = 600
	parent.AvgFillPrice = 101.0 // 100bps shortfall
	parent.Children = []domain.ChildOrder{
		filledChild("nyx", 600, 101.0, 20),
		{VenueID: "mpx", Quantity: 400, Status: domain.ChildRejected},
	}

	report, ok := a.Settle(parent)
	require.True(t, ok)

	require.Len(t, report.Recommendations, 3)
	assert.Contains(t, report.Recommendations[0], "dark venues")
	assert.Contains(t, report.Recommendations[1], "rejections")
	assert.Contains(t, report.Recommendations[2], "partial")
}

func TestSettle_CleanExecutionNoRecommendations(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())
	parent := settledBuy("ord-7")
	parent.AvgFillPrice = 100.01
	parent.Children = []domain.ChildOrder{filledChild("nyx", 1000, 100.01, 20)}

	report, ok := a.Settle(parent)
	require.True(t, ok)

	assert.Empty(t, report.Recommendations)
}

func TestRecent_NewestFirstAndBounded(t *testing.T) {
	a := newTestAnalyzer(DefaultConfig())
	for i := 0; i < 5; i++ {
		a.Settle(settledBuy(fmt.Sprintf("ord-%d", i)))
	}

	recent := a.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "ord-4", recent[0].OrderID)
	assert.Equal(t, "ord-2", recent[2].OrderID)

	all := a.Recent(0)
	assert.Len(t, all, 5)
}

func TestSettle_HistoryCapEvictsOldest(t *testing.T) {
	var evicted []domain.ExecutionReport
	a := NewAnalyzer(Config{HistoryCap: 3}, nil, func(r domain.ExecutionReport) {
		evicted = append(evicted, r)
	}, testLogger())

	for i := 0; i < 5; i++ {
		a.Settle(settledBuy(fmt.Sprintf("ord-%d", i)))
	}

	require.Len(t, evicted, 2)
	assert.Equal(t, "ord-0", evicted[0].OrderID)
	assert.Equal(t, "ord-1", evicted[1].OrderID)
	assert.Len(t, a.Recent(0), 3)
}

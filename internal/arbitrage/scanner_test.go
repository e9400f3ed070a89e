package arbitrage

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// staticPools serves fixed liquidity pools.
type staticPools map[string]*domain.LiquidityPool

func (p staticPools) Symbols() []string {
	out := make([]string, 0, len(p))
	for s := range p {
		out = append(out, s)
	}
	return out
}

func (p staticPools) Pool(symbol string) (*domain.LiquidityPool, bool) {
	pool, ok := p[symbol]
	return pool, ok
}

// staticVenues serves fixed venue records.
type staticVenues map[string]domain.Venue

func (v staticVenues) Get(id string) (domain.Venue, error) {
	venue, ok := v[id]
	if !ok {
		return domain.Venue{}, domain.ErrVenueUnknown
	}
	return venue, nil
}

func crossedPool() *domain.LiquidityPool {
	return &domain.LiquidityPool{
		Symbol: "ACME",
		Quotes: []domain.VenueQuote{
			{VenueID: "cheap", Quote: domain.Quote{Bid: 99.8, Ask: 100.0, BidSize: 500, AskSize: 800}},
			{VenueID: "rich", Quote: domain.Quote{Bid: 100.4, Ask: 100.6, BidSize: 300, AskSize: 400}},
		},
	}
}

func testVenues() staticVenues {
	return staticVenues{
		"cheap": {ID: "cheap", LatencyMs: 20, Fees: domain.FeeSchedule{TakerBps: 2}, Metrics: domain.VenueMetrics{FillRate: 0.9}},
		"rich":  {ID: "rich", LatencyMs: 80, Fees: domain.FeeSchedule{TakerBps: 3}, Metrics: domain.VenueMetrics{FillRate: 0.8}},
	}
}

func newTestScanner(pools staticPools, venues staticVenues, cfg Config) *Scanner {
	return NewScanner(pools, venues, cfg, nil, testLogger())
}

func TestScan_DetectsCrossedMarket(t *testing.T) {
	s := newTestScanner(staticPools{"ACME": crossedPool()}, testVenues(), Config{
		MinNetBps: 5, TTL: time.Minute, MaxLatencyMs: 200,
	})

	s.Scan()

	opps := s.Opportunities()
	require.Len(t, opps, 1)
	opp := opps[0]

	assert.Equal(t, "cheap", opp.BuyVenueID)
	assert.Equal(t, "rich", opp.SellVenueID)
	assert.Equal(t, 100.0, opp.BuyPrice)
	assert.Equal(t, 100.4, opp.SellPrice)

	grossBps := (100.4 - 100.0) / 100.0 * 10_000
	assert.InDelta(t, grossBps, opp.SpreadBps, 1e-9)
	assert.InDelta(t, grossBps-2-3, opp.NetProfitBps, 1e-9)
	// Bounded by the thinner side: rich's bid size.
	assert.Equal(t, 300.0, opp.MaxQuantity)
	assert.GreaterOrEqual(t, opp.Confidence, 0.5)
	assert.LessOrEqual(t, opp.Confidence, 0.99)
}

func TestScan_FeesEatThinEdges(t *testing.T) {
	venues := testVenues()
	// 40bps gross, 50bps of taker fees across the legs.
	venues["cheap"] = domain.Venue{ID: "cheap", Fees: domain.FeeSchedule{TakerBps: 25}}
	venues["rich"] = domain.Venue{ID: "rich", Fees: domain.FeeSchedule{TakerBps: 25}}

	s := newTestScanner(staticPools{"ACME": crossedPool()}, venues, Config{
		MinNetBps: 5, TTL: time.Minute,
	})

	s.Scan()
	assert.Empty(t, s.Opportunities())
}

func TestScan_UncrossedBookIsQuiet(t *testing.T) {
	pool := &domain.LiquidityPool{
		Symbol: "ACME",
		Quotes: []domain.VenueQuote{
			{VenueID: "cheap", Quote: domain.Quote{Bid: 99.8, Ask: 100.0, BidSize: 500, AskSize: 500}},
			{VenueID: "rich", Quote: domain.Quote{Bid: 99.9, Ask: 100.1, BidSize: 500, AskSize: 500}},
		},
	}
	s := newTestScanner(staticPools{"ACME": pool}, testVenues(), Config{MinNetBps: 1, TTL: time.Minute})

	s.Scan()
	assert.Empty(t, s.Opportunities())
}

func TestScan_PersistentDislocationKeepsOneEntry(t *testing.T) {
	var events int
	sink := func(domain.Event) { events++ }
	s := NewScanner(staticPools{"ACME": crossedPool()}, testVenues(), Config{
		MinNetBps: 5, TTL: time.Minute,
	}, sink, testLogger())

	s.Scan()
	s.Scan()
	s.Scan()

	assert.Len(t, s.Opportunities(), 1)
	assert.Equal(t, 1, events, "only the first detection emits an event")
}

func TestOpportunities_ExpiredDropped(t *testing.T) {
	s := newTestScanner(staticPools{"ACME": crossedPool()}, testVenues(), Config{
		MinNetBps: 5, TTL: 10 * time.Millisecond,
	})

	s.Scan()
	require.Len(t, s.Opportunities(), 1)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s.Opportunities())
}

func TestOpportunities_SortedByNetProfit(t *testing.T) {
	pools := staticPools{
		"ACME": crossedPool(),
		"GLOBO": {
			Symbol: "GLOBO",
			Quotes: []domain.VenueQuote{
				{VenueID: "cheap", Quote: domain.Quote{Bid: 49.0, Ask: 50.0, BidSize: 100, AskSize: 100}},
				{VenueID: "rich", Quote: domain.Quote{Bid: 51.0, Ask: 51.5, BidSize: 100, AskSize: 100}},
			},
		},
	}
	s := newTestScanner(pools, testVenues(), Config{MinNetBps: 5, TTL: time.Minute})

	s.Scan()

	opps := s.Opportunities()
	require.Len(t, opps, 2)
	assert.Equal(t, "GLOBO", opps[0].Symbol, "wider edge first")
	assert.GreaterOrEqual(t, opps[0].NetProfitBps, opps[1].NetProfitBps)
}

func TestRiskScore_RisesWithLatency(t *testing.T) {
	fast := testVenues()
	slow := testVenues()
	slowRich := slow["rich"]
	slowRich.LatencyMs = 200
	slow["rich"] = slowRich

	cfg := Config{MinNetBps: 5, TTL: time.Minute, MaxLatencyMs: 200}
	fastScanner := newTestScanner(staticPools{"ACME": crossedPool()}, fast, cfg)
	slowScanner := newTestScanner(staticPools{"ACME": crossedPool()}, slow, cfg)

	fastScanner.Scan()
	slowScanner.Scan()

	fastOpp := fastScanner.Opportunities()[0]
	slowOpp := slowScanner.Opportunities()[0]
	assert.Greater(t, slowOpp.RiskScore, fastOpp.RiskScore)
}

func TestConfidence_GrowsWithEdge(t *testing.T) {
	assert.Equal(t, 0.5, confidence(5, 5))
	assert.Greater(t, confidence(20, 5), confidence(10, 5))
	assert.Equal(t, 0.99, confidence(1_000, 5))
}

package liquidity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// quotePort serves canned quotes keyed by venue id and can be told to fail
// for specific venues.
type quotePort struct {
	mu     sync.Mutex
	quotes map[string]domain.Quote
	fail   map[string]bool
}

func newQuotePort() *quotePort {
	return &quotePort{quotes: make(map[string]domain.Quote), fail: make(map[string]bool)}
}

func (p *quotePort) set(venueID string, q domain.Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[venueID] = q
}

func (p *quotePort) Connect(context.Context, string) error { return nil }

func (p *quotePort) SubmitChildOrder(context.Context, domain.ChildOrderRequest) (string, error) {
	return "", errors.New("not implemented")
}

func (p *quotePort) CancelChildOrder(context.Context, string) error { return nil }

func (p *quotePort) SetCallback(domain.ExecutionCallback) {}

func (p *quotePort) GetQuote(_ context.Context, venueID, _ string) (domain.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[venueID] {
		return domain.Quote{}, errors.New("venue unavailable")
	}
	q, ok := p.quotes[venueID]
	if !ok {
		return domain.Quote{}, errors.New("no quote")
	}
	return q, nil
}

func (p *quotePort) PortFor(string) (domain.VenueExecutionPort, bool) { return p, true }

// recordingCache captures SetQuote mirror writes.
type recordingCache struct {
	mu   sync.Mutex
	sets map[string]domain.Quote
}

func (c *recordingCache) SetQuote(_ context.Context, venueID, symbol string, q domain.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sets == nil {
		c.sets = make(map[string]domain.Quote)
	}
	c.sets[venueID+"|"+symbol] = q
	return nil
}

func (c *recordingCache) GetQuote(context.Context, string, string) (domain.Quote, error) {
	return domain.Quote{}, errors.New("not cached")
}

func quoteVenue(id string) domain.Venue {
	return domain.Venue{
		ID:        id,
		Name:      id,
		Category:  domain.VenueLitExchange,
		Symbols:   []string{"ACME"},
		Connected: true,
	}
}

func newTestAggregator(t *testing.T, port *quotePort, cache domain.QuoteCache, venueIDs ...string) (*Aggregator, *venue.Registry) {
	t.Helper()
	reg := venue.NewRegistry(testLogger())
	for _, id := range venueIDs {
		reg.Register(quoteVenue(id))
	}
	agg := NewAggregator(reg, port, cache, Config{Symbols: []string{"ACME"}}, testLogger())
	return agg, reg
}

func TestRebuild_CompositeBook(t *testing.T) {
	port := newQuotePort()
	port.set("nyx", domain.Quote{Bid: 99.9, Ask: 100.1, BidSize: 600, AskSize: 400})
	port.set("mpx", domain.Quote{Bid: 100.0, Ask: 100.05, BidSize: 200, AskSize: 300})
	agg, _ := newTestAggregator(t, port, nil, "nyx", "mpx")

	agg.Rebuild(context.Background())

	pool, ok := agg.Pool("ACME")
	require.True(t, ok)
	require.Len(t, pool.Quotes, 2)

	assert.Equal(t, 100.0, pool.BestBid)
	assert.Equal(t, 100.05, pool.BestAsk)
	assert.InDelta(t, 0.05, pool.Spread, 1e-9)
	assert.Equal(t, 800.0, pool.TotalBidLiquidity)
	assert.Equal(t, 700.0, pool.TotalAskLiquidity)
	assert.InDelta(t, (800.0-700.0)/1500.0, pool.Imbalance, 1e-9)
	assert.Greater(t, pool.QualityScore, 0.0)
	assert.False(t, pool.BuiltAt.IsZero())
}

func TestRebuild_SkipsFailedVenues(t *testing.T) {
	port := newQuotePort()
	port.set("nyx", domain.Quote{Bid: 99.9, Ask: 100.1, BidSize: 600, AskSize: 400})
	port.fail["mpx"] = true
	agg, _ := newTestAggregator(t, port, nil, "nyx", "mpx")

	agg.Rebuild(context.Background())

	pool, ok := agg.Pool("ACME")
	require.True(t, ok)
	require.Len(t, pool.Quotes, 1)
	assert.Equal(t, "nyx", pool.Quotes[0].VenueID)
}

func TestRebuild_NoVenuesProducesNoPool(t *testing.T) {
	agg, _ := newTestAggregator(t, newQuotePort(), nil)

	agg.Rebuild(context.Background())

	_, ok := agg.Pool("ACME")
	assert.False(t, ok)
}

func TestRebuild_EmptyQuoteIgnored(t *testing.T) {
	port := newQuotePort()
	port.set("nyx", domain.Quote{})
	agg, _ := newTestAggregator(t, port, nil, "nyx")

	agg.Rebuild(context.Background())

	_, ok := agg.Pool("ACME")
	assert.False(t, ok, "a pool with no usable quotes is not published")
}

func TestRebuild_KeepsLastSnapshotOnOutage(t *testing.T) {
	port := newQuotePort()
	port.set("nyx", domain.Quote{Bid: 99.9, Ask: 100.1, BidSize: 600, AskSize: 400})
	agg, _ := newTestAggregator(t, port, nil, "nyx")

	agg.Rebuild(context.Background())
	first, ok := agg.Pool("ACME")
	require.True(t, ok)

	port.fail["nyx"] = true
	agg.Rebuild(context.Background())

	second, ok := agg.Pool("ACME")
	require.True(t, ok)
	assert.Same(t, first, second, "failed rebuild leaves the previous snapshot in place")
}

func TestRebuild_WritesMetricsToRegistry(t *testing.T) {
	port := newQuotePort()
	port.set("nyx", domain.Quote{Bid: 99.9, Ask: 100.1, BidSize: 600, AskSize: 400})
	agg, reg := newTestAggregator(t, port, nil, "nyx")

	agg.Rebuild(context.Background())

	v, err := reg.Get("nyx")
	require.NoError(t, err)
	assert.Equal(t, 600.0, v.Metrics.BidDepth)
	assert.Equal(t, 400.0, v.Metrics.AskDepth)
	assert.InDelta(t, 0.2, v.Metrics.Imbalance, 1e-9)
	assert.InDelta(t, 0.2/100.0*10_000, v.Metrics.SpreadBps, 1e-6)
}

func TestRebuild_MirrorsQuotesToCache(t *testing.T) {
	port := newQuotePort()
	port.set("nyx", domain.Quote{Bid: 99.9, Ask: 100.1, BidSize: 600, AskSize: 400})
	cache := &recordingCache{}
	agg, _ := newTestAggregator(t, port, cache, "nyx")

	agg.Rebuild(context.Background())

	cache.mu.Lock()
	defer cache.mu.Unlock()
	q, ok := cache.sets["nyx|ACME"]
	require.True(t, ok)
	assert.Equal(t, 99.9, q.Bid)
}

func TestQualityScore_TighterSpreadScoresHigher(t *testing.T) {
	tight := &domain.LiquidityPool{
		Quotes:  []domain.VenueQuote{{VenueID: "a"}, {VenueID: "b"}},
		BestBid: 99.99, BestAsk: 100.01, Spread: 0.02,
	}
	wide := &domain.LiquidityPool{
		Quotes:  []domain.VenueQuote{{VenueID: "a"}, {VenueID: "b"}},
		BestBid: 99.5, BestAsk: 100.5, Spread: 1.0,
	}
	assert.Greater(t, qualityScore(tight), qualityScore(wide))
}

func TestSymbols_ReturnsCopy(t *testing.T) {
	agg, _ := newTestAggregator(t, newQuotePort(), nil, "nyx")
	syms := agg.Symbols()
	require.Equal(t, []string{"ACME"}, syms)
	syms[0] = "mutated"
	assert.Equal(t, []string{"ACME"}, agg.Symbols())
}

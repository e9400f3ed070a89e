package sim

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// updateRecorder collects execution updates for assertions.
type updateRecorder struct {
	mu      sync.Mutex
	updates []domain.ExecutionUpdate
}

func (r *updateRecorder) callback(u domain.ExecutionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *updateRecorder) byStatus(status domain.ChildStatus) []domain.ExecutionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionUpdate
	for _, u := range r.updates {
		if u.Status == status {
			out = append(out, u)
		}
	}
	return out
}

func (r *updateRecorder) waitFor(t *testing.T, status domain.ChildStatus) domain.ExecutionUpdate {
	t.Helper()
	var got domain.ExecutionUpdate
	require.Eventually(t, func() bool {
		matches := r.byStatus(status)
		if len(matches) == 0 {
			return false
		}
		got = matches[0]
		return true
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s update", status)
	return got
}

func newTestSim(t *testing.T) (*Simulator, *updateRecorder) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Prices = map[string]float64{"ACME": 100}
	cfg.SlippagePct = 0
	cfg.CommissionFlat = 0
	cfg.CommissionPct = 0

	s := NewSimulator(cfg, testLogger())
	s.AddVenue(VenueParams{ID: "nyx", SpreadBps: 20, DepthBase: 1_000, LatencyMs: 1})

	rec := &updateRecorder{}
	s.SetCallback(rec.callback)
	return s, rec
}

func TestGetQuote_SpreadAndSkew(t *testing.T) {
	s, _ := newTestSim(t)
	s.AddVenue(VenueParams{ID: "skewed", SpreadBps: 20, SkewBps: 10, DepthBase: 500})

	q, err := s.GetQuote(context.Background(), "nyx", "ACME")
	require.NoError(t, err)
	// Mid 100, half-spread 10bps each side.
	assert.InDelta(t, 99.9, q.Bid, 1e-9)
	assert.InDelta(t, 100.1, q.Ask, 1e-9)
	assert.Equal(t, 1_000.0, q.BidSize)

	skewed, err := s.GetQuote(context.Background(), "skewed", "ACME")
	require.NoError(t, err)
	mid := 100 * (1 + 10.0/10_000)
	assert.InDelta(t, mid*(1-20.0/20_000), skewed.Bid, 1e-9)
	assert.InDelta(t, mid*(1+20.0/20_000), skewed.Ask, 1e-9)
}

func TestGetQuote_UnknownVenueOrSymbol(t *testing.T) {
	s, _ := newTestSim(t)

	_, err := s.GetQuote(context.Background(), "nope", "ACME")
	assert.ErrorIs(t, err, domain.ErrVenueUnknown)

	_, err = s.GetQuote(context.Background(), "nyx", "NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubmit_MarketOrderFills(t *testing.T) {
	s, rec := newTestSim(t)

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID:  "nyx",
		Symbol:   "ACME",
		Side:     domain.SideBuy,
		Quantity: 10,
		Kind:     domain.KindMarket,
	})
	require.NoError(t, err)

	rec.waitFor(t, domain.ChildAcknowledged)
	fill := rec.waitFor(t, domain.ChildFilled)
	assert.Equal(t, 10.0, fill.FilledQty)
	assert.InDelta(t, 100.1, fill.FillPrice, 1e-9) // the ask
	assert.Equal(t, 1.0, fill.LatencyMs)

	pos, ok := s.Account().Position("ACME")
	require.True(t, ok)
	assert.Equal(t, 10.0, pos.Quantity)
}

func TestSubmit_SlippageAndCommissionApplied(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prices = map[string]float64{"ACME": 100}
	cfg.SlippagePct = 0.1
	cfg.CommissionFlat = 1
	cfg.CommissionPct = 0.01

	s := NewSimulator(cfg, testLogger())
	s.AddVenue(VenueParams{ID: "nyx", SpreadBps: 20, DepthBase: 1_000, LatencyMs: 1})
	rec := &updateRecorder{}
	s.SetCallback(rec.callback)

	startCash := s.Account().Cash()

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10, Kind: domain.KindMarket,
	})
	require.NoError(t, err)

	fill := rec.waitFor(t, domain.ChildFilled)
	wantPrice := 100.1 * 1.001
	assert.InDelta(t, wantPrice, fill.FillPrice, 1e-9)

	commission := 1 + 10*wantPrice*0.01/100
	assert.InDelta(t, startCash-10*wantPrice-commission, s.Account().Cash(), 1e-6)
}

func TestSubmit_LimitRestsUntilTriggered(t *testing.T) {
	s, rec := newTestSim(t)

	// Buy limit below the current ask rests.
	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10,
		Kind: domain.KindLimit, Price: 99.5,
	})
	require.NoError(t, err)
	rec.waitFor(t, domain.ChildAcknowledged)

	s.Evaluate()
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	// Price falls through the limit.
	s.SetPrice("ACME", 99)
	s.Evaluate()

	fill := rec.waitFor(t, domain.ChildFilled)
	assert.Equal(t, 10.0, fill.FilledQty)
}

func TestSubmit_StopTriggersOnAdverseMove(t *testing.T) {
	s, rec := newTestSim(t)

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideSell, Quantity: 10,
		Kind: domain.KindStop, Stop: 98,
	})
	require.NoError(t, err)

	s.Evaluate()
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	s.SetPrice("ACME", 97)
	s.Evaluate()
	rec.waitFor(t, domain.ChildFilled)
}

func TestSubmit_StopLimitNeedsBothLegs(t *testing.T) {
	s, rec := newTestSim(t)

	// Buy stop-limit: stop at 102, limit at 103.
	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10,
		Kind: domain.KindStopLimit, Stop: 102, Price: 103,
	})
	require.NoError(t, err)

	s.Evaluate()
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	// Stop leg hits, and the ask is still within the limit.
	s.SetPrice("ACME", 102.5)
	s.Evaluate()
	rec.waitFor(t, domain.ChildFilled)
}

func TestSubmit_StopLimitHoldsAboveLimit(t *testing.T) {
	s, rec := newTestSim(t)

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10,
		Kind: domain.KindStopLimit, Stop: 102, Price: 103,
	})
	require.NoError(t, err)

	// Gaps straight past the limit: the stop leg arms but the limit check
	// keeps the order resting.
	s.SetPrice("ACME", 105)
	s.Evaluate()
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	// Pulls back inside the limit with the stop already armed.
	s.SetPrice("ACME", 102.2)
	s.Evaluate()
	rec.waitFor(t, domain.ChildFilled)
}

func TestSubmit_TrailingStopRatchets(t *testing.T) {
	s, rec := newTestSim(t)

	// Sell trailing stop 2 points behind the bid.
	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideSell, Quantity: 10,
		Kind: domain.KindTrailingStop, TrailAmt: 2,
	})
	require.NoError(t, err)

	s.Evaluate() // trigger initializes near 97.9
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	// Rally drags the trigger up behind it.
	s.SetPrice("ACME", 104)
	s.Evaluate()
	s.SetPrice("ACME", 103)
	s.Evaluate() // bid ~102.9, trigger ~101.89: still above
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	// Falling back through the ratcheted trigger fires; the original
	// trigger from the 100 start would not have.
	s.SetPrice("ACME", 101.5)
	s.Evaluate()
	rec.waitFor(t, domain.ChildFilled)
}

func TestCancel_RemovesRestingOrder(t *testing.T) {
	s, rec := newTestSim(t)

	id, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10,
		Kind: domain.KindLimit, Price: 90,
	})
	require.NoError(t, err)

	require.NoError(t, s.CancelChildOrder(context.Background(), id))
	rec.waitFor(t, domain.ChildCancelled)

	// Cancelled orders never fire.
	s.SetPrice("ACME", 80)
	s.Evaluate()
	assert.Empty(t, rec.byStatus(domain.ChildFilled))

	assert.ErrorIs(t, s.CancelChildOrder(context.Background(), id), domain.ErrNotFound)
}

func TestEvaluate_RestingTTLExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prices = map[string]float64{"ACME": 100}
	cfg.RestingTTL = 10 * time.Millisecond

	s := NewSimulator(cfg, testLogger())
	s.AddVenue(VenueParams{ID: "nyx", SpreadBps: 20, DepthBase: 1_000})
	rec := &updateRecorder{}
	s.SetCallback(rec.callback)

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10,
		Kind: domain.KindLimit, Price: 90,
	})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	s.Evaluate()

	cancelled := rec.waitFor(t, domain.ChildCancelled)
	assert.Equal(t, "expired", cancelled.Reason)
}

func TestSubmit_InsufficientCashRejects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prices = map[string]float64{"ACME": 100}
	cfg.StartingCash = 50

	s := NewSimulator(cfg, testLogger())
	s.AddVenue(VenueParams{ID: "nyx", SpreadBps: 20, DepthBase: 1_000, LatencyMs: 1})
	rec := &updateRecorder{}
	s.SetCallback(rec.callback)

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10, Kind: domain.KindMarket,
	})
	require.NoError(t, err)

	rejected := rec.waitFor(t, domain.ChildRejected)
	assert.Contains(t, rejected.Reason, "insufficient cash")
}

func TestSubmit_ValidationErrors(t *testing.T) {
	s, _ := newTestSim(t)

	_, err := s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nope", Symbol: "ACME", Side: domain.SideBuy, Quantity: 10, Kind: domain.KindMarket,
	})
	assert.ErrorIs(t, err, domain.ErrVenueUnknown)

	_, err = s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "NOPE", Side: domain.SideBuy, Quantity: 10, Kind: domain.KindMarket,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.SubmitChildOrder(context.Background(), domain.ChildOrderRequest{
		VenueID: "nyx", Symbol: "ACME", Side: domain.SideBuy, Quantity: 0, Kind: domain.KindMarket,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
}

func TestPortFor_OnlyKnownVenues(t *testing.T) {
	s, _ := newTestSim(t)

	port, ok := s.PortFor("nyx")
	require.True(t, ok)
	assert.NotNil(t, port)

	_, ok = s.PortFor("nope")
	assert.False(t, ok)
}

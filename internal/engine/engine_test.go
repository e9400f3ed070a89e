package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdmboyd-dev/smartrouter/internal/bus"
	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/lifecycle"
	"github.com/tdmboyd-dev/smartrouter/internal/liquidity"
	"github.com/tdmboyd-dev/smartrouter/internal/planner"
	"github.com/tdmboyd-dev/smartrouter/internal/sim"
	"github.com/tdmboyd-dev/smartrouter/internal/venue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStack is a fully wired engine over the matching simulator, the way the
// sim mode assembles one.
type testStack struct {
	engine    *Engine
	simulator *sim.Simulator
	registry  *venue.Registry
}

func newTestStack(t *testing.T, signals domain.SignalBus) *testStack {
	t.Helper()
	logger := testLogger()

	simulator := sim.NewSimulator(sim.Config{
		TickInterval: time.Hour, // ticks driven manually in tests
		EvalInterval: time.Hour,
		StartingCash: 1_000_000,
		Prices:       map[string]float64{"ACME": 100.0},
	}, logger)
	simulator.AddVenue(sim.VenueParams{ID: "nyx", SpreadBps: 20, DepthBase: 50_000, LatencyMs: 1})
	simulator.AddVenue(sim.VenueParams{ID: "sigma-x", SpreadBps: 10, DepthBase: 50_000, LatencyMs: 1})

	registry := venue.NewRegistry(logger)
	registry.Register(domain.Venue{
		ID: "nyx", Name: "Nyx", Category: domain.VenueLitExchange,
		LatencyMs: 15, Symbols: []string{"ACME"},
		Kinds:     []domain.OrderKind{domain.KindMarket, domain.KindLimit},
		Connected: true,
	})
	registry.Register(domain.Venue{
		ID: "sigma-x", Name: "Sigma X", Category: domain.VenueDarkPool,
		LatencyMs: 30, Symbols: []string{"ACME"},
		Kinds:     []domain.OrderKind{domain.KindMarket, domain.KindMidpointPeg},
		Connected: true,
	})

	aggregator := liquidity.NewAggregator(registry, simulator, nil, liquidity.Config{
		Symbols:  []string{"ACME"},
		Interval: time.Hour,
	}, logger)
	aggregator.Rebuild(context.Background())

	pl := planner.NewPlanner(registry, aggregator, planner.DefaultConfig(), logger)

	var sink domain.EventSink
	emit := func(ev domain.Event) {
		if sink != nil {
			sink(ev)
		}
	}
	manager := lifecycle.NewManager(simulator, lifecycle.Config{
		ChildTimeout: time.Second,
	}, emit, nil, logger)
	simulator.SetCallback(manager.HandleUpdate)

	eng := New(Components{
		Registry:   registry,
		Planner:    pl,
		Lifecycle:  manager,
		Aggregator: aggregator,
	}, signals, logger)
	sink = eng.EventSink()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testStack{engine: eng, simulator: simulator, registry: registry}
}

func TestEngine_CreateOrderFills(t *testing.T) {
	st := newTestStack(t, nil)

	id, err := st.engine.CreateOrder(context.Background(), domain.OrderIntent{
		Symbol:   "ACME",
		Side:     domain.SideBuy,
		Quantity: 1000,
		Urgency:  domain.UrgencyCritical,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		order, err := st.engine.GetOrder(id)
		return err == nil && order.Status == domain.ParentFilled
	}, 2*time.Second, 10*time.Millisecond)

	order, err := st.engine.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, order.QuantityFilled)
	assert.Zero(t, order.QuantityRemaining)
	assert.Greater(t, order.AvgFillPrice, 100.0, "a buy crosses the spread")
	assert.NotNil(t, order.CompletedAt)
}

func TestEngine_CreateOrderUnknownSymbol(t *testing.T) {
	st := newTestStack(t, nil)

	_, err := st.engine.CreateOrder(context.Background(), domain.OrderIntent{
		Symbol:   "NOPE",
		Side:     domain.SideBuy,
		Quantity: 100,
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleVenues)
}

func TestEngine_CancelWorkingOrder(t *testing.T) {
	st := newTestStack(t, nil)

	// Only the lit venue stays up, so the far limit rests instead of
	// pegging to the dark pool's midpoint.
	_, err := st.registry.SetConnected("sigma-x", false)
	require.NoError(t, err)

	id, err := st.engine.CreateOrder(context.Background(), domain.OrderIntent{
		Symbol:     "ACME",
		Side:       domain.SideBuy,
		Quantity:   1000,
		LimitPrice: 90.0, // far from the market, rests
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		order, err := st.engine.GetOrder(id)
		return err == nil && order.Status == domain.ParentWorking
	}, 2*time.Second, 10*time.Millisecond)

	ok, err := st.engine.CancelOrder(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		order, err := st.engine.GetOrder(id)
		return err == nil && order.Status == domain.ParentCancelled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_GetLiquidityPool(t *testing.T) {
	st := newTestStack(t, nil)

	pool, err := st.engine.GetLiquidityPool("ACME")
	require.NoError(t, err)
	assert.Equal(t, "ACME", pool.Symbol)
	assert.NotEmpty(t, pool.Quotes)

	_, err = st.engine.GetLiquidityPool("NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEngine_GetVenues(t *testing.T) {
	st := newTestStack(t, nil)
	assert.Len(t, st.engine.GetVenues(), 2)
}

func TestEngine_OptionalComponentsAbsent(t *testing.T) {
	st := newTestStack(t, nil)
	assert.Nil(t, st.engine.GetArbitrageOpportunities())
	assert.Nil(t, st.engine.GetExecutionAnalytics(10))
}

func TestEngine_EventsReachTheBus(t *testing.T) {
	signals := bus.NewMemory()
	st := newTestStack(t, signals)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := signals.Subscribe(ctx, domain.EventOrderCreated.Channel())
	require.NoError(t, err)

	id, err := st.engine.CreateOrder(ctx, domain.OrderIntent{
		Symbol:   "ACME",
		Side:     domain.SideBuy,
		Quantity: 500,
		Urgency:  domain.UrgencyCritical,
	})
	require.NoError(t, err)

	select {
	case payload := <-ch:
		var ev domain.Event
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, domain.EventOrderCreated, ev.Type)
		assert.Equal(t, id, ev.OrderID)
	case <-time.After(2 * time.Second):
		t.Fatal("no order event published")
	}
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	logger := testLogger()
	simulator := sim.NewSimulator(sim.Config{
		TickInterval: 5 * time.Millisecond,
		EvalInterval: 5 * time.Millisecond,
		Prices:       map[string]float64{"ACME": 100.0},
	}, logger)

	registry := venue.NewRegistry(logger)
	aggregator := liquidity.NewAggregator(registry, simulator, nil, liquidity.Config{
		Symbols:  []string{"ACME"},
		Interval: 5 * time.Millisecond,
	}, logger)
	manager := lifecycle.NewManager(simulator, lifecycle.Config{}, nil, nil, logger)

	eng := New(Components{
		Registry:   registry,
		Planner:    planner.NewPlanner(registry, aggregator, planner.DefaultConfig(), logger),
		Lifecycle:  manager,
		Aggregator: aggregator,
		Extra:      []Runner{simulator},
	}, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "context cancellation is a clean stop")
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

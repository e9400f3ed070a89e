// Package engine composes the routing components behind one facade: order
// intake, venue and liquidity queries, arbitrage and analytics access, and
// the background loops that keep them running.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tdmboyd-dev/smartrouter/internal/analytics"
	"github.com/tdmboyd-dev/smartrouter/internal/arbitrage"
	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/lifecycle"
	"github.com/tdmboyd-dev/smartrouter/internal/liquidity"
	"github.com/tdmboyd-dev/smartrouter/internal/planner"
	"github.com/tdmboyd-dev/smartrouter/internal/venue"
)

// Runner is a background loop owned by the engine.
type Runner interface {
	Run(ctx context.Context) error
}

// Components holds everything the engine composes. Registry, Planner,
// Lifecycle and Aggregator are required; the rest are optional.
type Components struct {
	Registry   *venue.Registry
	Planner    *planner.Planner
	Lifecycle  *lifecycle.Manager
	Aggregator *liquidity.Aggregator
	Scanner    *arbitrage.Scanner
	Heartbeat  *venue.Heartbeat
	Analytics  *analytics.Analyzer
	Extra      []Runner // additional loops, e.g. the matching simulator
}

// Engine is the top-level facade over the routing pipeline.
type Engine struct {
	c      Components
	bus    domain.SignalBus
	logger *slog.Logger
}

// New creates an engine. bus may be nil to disable event publication.
func New(c Components, bus domain.SignalBus, logger *slog.Logger) *Engine {
	return &Engine{
		c:      c,
		bus:    bus,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// EventSink returns the sink components should emit events through. Events
// are serialized and published on their channel.
func (e *Engine) EventSink() domain.EventSink {
	return func(ev domain.Event) {
		if e.bus == nil {
			return
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			e.logger.Warn("event marshal failed", slog.String("type", string(ev.Type)))
			return
		}
		if err := e.bus.Publish(context.Background(), ev.Type.Channel(), payload); err != nil {
			e.logger.Warn("event publish failed",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// CreateOrder plans and submits a parent order, returning its id.
func (e *Engine) CreateOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	plan, err := e.c.Planner.Plan(intent)
	if err != nil {
		return "", err
	}
	return e.c.Lifecycle.Submit(ctx, intent, plan)
}

// CancelOrder cancels a working parent order. The bool reports whether this
// call performed the cancellation.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return e.c.Lifecycle.Cancel(ctx, orderID)
}

// GetOrder returns a snapshot of the parent order.
func (e *Engine) GetOrder(orderID string) (domain.ParentOrder, error) {
	return e.c.Lifecycle.Get(orderID)
}

// ListOrders returns snapshots of all in-memory parent orders.
func (e *Engine) ListOrders() []domain.ParentOrder {
	return e.c.Lifecycle.List()
}

// GetVenues lists all registered venues.
func (e *Engine) GetVenues() []domain.Venue {
	return e.c.Registry.List()
}

// GetLiquidityPool returns the current aggregated pool for a symbol.
func (e *Engine) GetLiquidityPool(symbol string) (*domain.LiquidityPool, error) {
	pool, ok := e.c.Aggregator.Pool(symbol)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return pool, nil
}

// GetArbitrageOpportunities returns live cross-venue opportunities.
func (e *Engine) GetArbitrageOpportunities() []domain.ArbOpportunity {
	if e.c.Scanner == nil {
		return nil
	}
	return e.c.Scanner.Opportunities()
}

// GetExecutionAnalytics returns up to limit recent execution reports.
func (e *Engine) GetExecutionAnalytics(limit int) []domain.ExecutionReport {
	if e.c.Analytics == nil {
		return nil
	}
	return e.c.Analytics.Recent(limit)
}

// Run starts every background loop and blocks until ctx is cancelled or one
// of them fails.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	runners := []Runner{e.c.Lifecycle, e.c.Aggregator}
	if e.c.Scanner != nil {
		runners = append(runners, e.c.Scanner)
	}
	if e.c.Heartbeat != nil {
		runners = append(runners, e.c.Heartbeat)
	}
	runners = append(runners, e.c.Extra...)

	for _, r := range runners {
		r := r
		g.Go(func() error {
			err := r.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	e.logger.Info("engine started", slog.Int("loops", len(runners)))
	defer e.logger.Info("engine stopped")
	return g.Wait()
}

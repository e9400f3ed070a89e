package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tdmboyd-dev/smartrouter/internal/analytics"
	"github.com/tdmboyd-dev/smartrouter/internal/arbitrage"
	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/engine"
	"github.com/tdmboyd-dev/smartrouter/internal/lifecycle"
	"github.com/tdmboyd-dev/smartrouter/internal/liquidity"
	"github.com/tdmboyd-dev/smartrouter/internal/notify"
	"github.com/tdmboyd-dev/smartrouter/internal/planner"
	"github.com/tdmboyd-dev/smartrouter/internal/server"
	"github.com/tdmboyd-dev/smartrouter/internal/server/handler"
	"github.com/tdmboyd-dev/smartrouter/internal/server/ws"
	"github.com/tdmboyd-dev/smartrouter/internal/sim"
	"github.com/tdmboyd-dev/smartrouter/internal/venue"
)

// SimMode runs the full routing pipeline against the built-in matching
// simulator: venue registry, liquidity aggregation, planning, lifecycle
// management, arbitrage scanning, and analytics. The HTTP server starts
// when enabled in config.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng, true)
	}

	return g.Wait()
}

// ServerMode is SimMode with the HTTP server always on. It exists so
// deployments can force the API surface regardless of the server.enabled
// flag.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	a.startHTTPServer(ctx, g, deps, eng, true)

	return g.Wait()
}

// MonitorMode runs the observation side only: quotes, aggregated liquidity,
// venue health, and arbitrage scanning are live, but order intake is
// disabled. The HTTP server always starts, without the order endpoints.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	eng, err := a.buildEngine(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	a.startHTTPServer(ctx, g, deps, eng, false)

	return g.Wait()
}

// buildEngine constructs the full component graph: simulator ports, venue
// registry, aggregator, planner, lifecycle manager, scanner, heartbeat, and
// analytics, composed behind the engine facade.
func (a *App) buildEngine(ctx context.Context, deps *Dependencies) (*engine.Engine, error) {
	logger := slog.Default()

	// Components are constructed before the engine that owns the event
	// sink, so events pass through a late-bound forwarder. The sink is set
	// before any loop starts.
	var sink domain.EventSink
	emit := func(ev domain.Event) {
		if sink != nil {
			sink(ev)
		}
	}

	// Matching simulator hosts every configured venue.
	simulator := sim.NewSimulator(sim.Config{
		TickInterval:   a.cfg.Simulator.TickInterval.Duration,
		EvalInterval:   a.cfg.Simulator.EvalInterval.Duration,
		WalkBps:        a.cfg.Simulator.WalkBps,
		SlippagePct:    a.cfg.Simulator.SlippagePct,
		CommissionFlat: a.cfg.Simulator.CommissionFlat,
		CommissionPct:  a.cfg.Simulator.CommissionPct,
		RestingTTL:     a.cfg.Simulator.RestingTTL.Duration,
		Seed:           a.cfg.Simulator.Seed,
		StartingCash:   a.cfg.Simulator.StartingCash,
		Prices:         a.cfg.Simulator.Prices,
	}, logger)

	registry := venue.NewRegistry(logger)
	for _, vc := range a.cfg.Venues {
		simulator.AddVenue(sim.VenueParams{
			ID:        vc.ID,
			SpreadBps: vc.SpreadBps,
			SkewBps:   vc.SkewBps,
			DepthBase: vc.DepthBase,
			LatencyMs: vc.LatencyMs,
		})

		kinds := make([]domain.OrderKind, 0, len(vc.Kinds))
		for _, k := range vc.Kinds {
			kinds = append(kinds, domain.OrderKind(k))
		}
		connected := simulator.Connect(ctx, vc.ID) == nil
		registry.Register(domain.Venue{
			ID:        vc.ID,
			Name:      vc.Name,
			Category:  domain.VenueCategory(vc.Category),
			LatencyMs: vc.LatencyMs,
			Fees: domain.FeeSchedule{
				MakerBps: vc.MakerBps,
				TakerBps: vc.TakerBps,
				Minimum:  vc.FeeMin,
			},
			Symbols:   vc.Symbols,
			Kinds:     kinds,
			Connected: connected,
		})
	}

	aggregator := liquidity.NewAggregator(registry, simulator, deps.QuoteCache, liquidity.Config{
		Symbols:      a.cfg.Liquidity.Symbols,
		Interval:     a.cfg.Liquidity.Interval.Duration,
		QuoteTimeout: a.cfg.Liquidity.QuoteTimeout.Duration,
	}, logger)

	plnr := planner.NewPlanner(registry, aggregator, planner.Config{
		DarkPoolCapFrac: a.cfg.Planner.DarkPoolCapFrac,
		LitCapFrac:      a.cfg.Planner.LitCapFrac,
		MinAllocation:   a.cfg.Planner.MinAllocation,
		HighConfidence:  a.cfg.Planner.HighConfidence,
		LowConfidence:   a.cfg.Planner.LowConfidence,
		Weights: venue.ScoreWeights{
			Latency:         a.cfg.Scoring.Latency,
			Liquidity:       a.cfg.Scoring.Liquidity,
			FillRate:        a.cfg.Scoring.FillRate,
			Slippage:        a.cfg.Scoring.Slippage,
			Fee:             a.cfg.Scoring.Fee,
			DarkBonus:       a.cfg.Scoring.DarkBonus,
			ToxicityPenalty: a.cfg.Scoring.ToxicityPenalty,
			ImbalanceBonus:  a.cfg.Scoring.ImbalanceBonus,
			LatencyRefMs:    a.cfg.Scoring.LatencyRefMs,
			LargeOrderQty:   a.cfg.Scoring.LargeOrderQty,
		},
	}, logger)

	// Evicted reports are pushed to blob storage so the rolling in-memory
	// window loses nothing.
	var onEvict analytics.EvictFunc
	if deps.Archiver != nil {
		archiver := deps.Archiver
		onEvict = func(report domain.ExecutionReport) {
			go func() {
				actx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := archiver.ArchiveEvicted(actx, report); err != nil {
					logger.Warn("evicted report archive failed",
						slog.String("report_id", report.ID),
						slog.String("error", err.Error()),
					)
				}
			}()
		}
	}
	analyzer := analytics.NewAnalyzer(analytics.Config{
		HistoryCap:       a.cfg.Analytics.HistoryCap,
		HighSlippageBps:  a.cfg.Analytics.HighSlippageBps,
		HighShortfallBps: a.cfg.Analytics.HighShortfallBps,
	}, deps.ReportStore, onEvict, logger)

	// Orders are persisted only once terminal; working state is in-memory.
	// The manager is bound below; onSettle only runs once it is live. The
	// analytics numbers are written back onto the parent through the manager
	// so the persisted row carries them.
	var manager *lifecycle.Manager
	onSettle := func(parent domain.ParentOrder) {
		report, ok := analyzer.Settle(parent)
		if ok {
			if err := manager.SetPostTrade(parent.ID, report.ImplementationShortfallBps, report.MarketImpactBps); err != nil {
				logger.Warn("post-trade write-back failed",
					slog.String("order_id", parent.ID),
					slog.String("error", err.Error()),
				)
			} else if updated, err := manager.Get(parent.ID); err == nil {
				parent = updated
			}
		}
		if deps.OrderStore == nil {
			return
		}
		store := deps.OrderStore
		go func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Insert(sctx, parent); err != nil {
				logger.Warn("settled order persist failed",
					slog.String("order_id", parent.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	manager = lifecycle.NewManager(simulator, lifecycle.Config{
		ChildTimeout:  a.cfg.Lifecycle.ChildTimeout.Duration,
		FillThreshold: a.cfg.Lifecycle.FillThreshold,
		UpdateBuffer:  a.cfg.Lifecycle.UpdateBuffer,
	}, emit, onSettle, logger)
	simulator.SetCallback(manager.HandleUpdate)

	var scanner *arbitrage.Scanner
	if a.cfg.Arbitrage.Enabled {
		scanner = arbitrage.NewScanner(aggregator, registry, arbitrage.Config{
			Interval:     a.cfg.Arbitrage.Interval.Duration,
			MinNetBps:    a.cfg.Arbitrage.MinNetBps,
			TTL:          a.cfg.Arbitrage.TTL.Duration,
			MaxLatencyMs: a.cfg.Arbitrage.MaxLatencyMs,
		}, emit, logger)
	}

	heartbeat := venue.NewHeartbeat(registry, simulator, venue.HeartbeatConfig{
		Interval:   a.cfg.Heartbeat.Interval.Duration,
		MaxBackoff: a.cfg.Heartbeat.MaxBackoff.Duration,
	}, emit, logger)

	extra := []engine.Runner{simulator}
	if deps.Notifier != nil {
		extra = append(extra, notify.NewRelay(deps.SignalBus, deps.Notifier, logger))
	}
	if deps.Archiver != nil && deps.OrderStore != nil {
		extra = append(extra, newArchiveSweeper(deps.Archiver, logger))
	}

	eng := engine.New(engine.Components{
		Registry:   registry,
		Planner:    plnr,
		Lifecycle:  manager,
		Aggregator: aggregator,
		Scanner:    scanner,
		Heartbeat:  heartbeat,
		Analytics:  analyzer,
		Extra:      extra,
	}, deps.SignalBus, logger)
	sink = eng.EventSink()

	return eng, nil
}

// startHTTPServer registers handlers over the engine facade, starts the
// WebSocket hub, and runs the HTTP server on the errgroup. withOrders
// controls whether the order intake endpoints are exposed.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine, withOrders bool) {
	logger := slog.Default()

	hub := ws.NewHub(deps.SignalBus, logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error { return hub.Run(ctx) })

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(logger),
		Venues:    handler.NewVenueHandler(eng, logger),
		Liquidity: handler.NewLiquidityHandler(eng, logger),
		Arb:       handler.NewArbHandler(eng, logger),
		Analytics: handler.NewAnalyticsHandler(eng, logger),
	}
	if withOrders {
		handlers.Orders = handler.NewOrderHandler(eng, logger)
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, logger)

	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// archiveSweeper periodically rolls settled orders and execution reports
// older than the retention window out to blob storage.
type archiveSweeper struct {
	archiver  domain.Archiver
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func newArchiveSweeper(archiver domain.Archiver, logger *slog.Logger) *archiveSweeper {
	return &archiveSweeper{
		archiver:  archiver,
		interval:  6 * time.Hour,
		retention: 30 * 24 * time.Hour,
		logger:    logger.With(slog.String("component", "archive_sweeper")),
	}
}

// Run sweeps on a fixed cadence until ctx is cancelled.
func (s *archiveSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.retention)
			if n, err := s.archiver.ArchiveOrders(ctx, cutoff); err != nil {
				s.logger.Warn("order archive sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Info("orders archived", slog.Int64("count", n))
			}
			if n, err := s.archiver.ArchiveReports(ctx, cutoff); err != nil {
				s.logger.Warn("report archive sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				s.logger.Info("reports archived", slog.Int64("count", n))
			}
		}
	}
}

// Package liquidity builds composite per-symbol liquidity views from the
// quotes of every connected venue.
package liquidity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/venue"
)

// Config controls the aggregator's rebuild loop.
type Config struct {
	Symbols      []string
	Interval     time.Duration
	QuoteTimeout time.Duration // per-venue GetQuote budget
}

// Aggregator periodically rebuilds an immutable LiquidityPool snapshot per
// tracked symbol. It is the only component besides the heartbeat that writes
// venue metrics back to the registry.
type Aggregator struct {
	registry *venue.Registry
	ports    domain.PortResolver
	cache    domain.QuoteCache // optional mirror of per-venue quotes
	cfg      Config
	logger   *slog.Logger

	mu    sync.RWMutex
	pools map[string]*domain.LiquidityPool
}

// NewAggregator creates an Aggregator. cache may be nil.
func NewAggregator(registry *venue.Registry, ports domain.PortResolver, cache domain.QuoteCache, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.QuoteTimeout <= 0 {
		cfg.QuoteTimeout = 250 * time.Millisecond
	}
	return &Aggregator{
		registry: registry,
		ports:    ports,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "liquidity_aggregator")),
		pools:    make(map[string]*domain.LiquidityPool),
	}
}

// Symbols returns the tracked symbols.
func (a *Aggregator) Symbols() []string {
	out := make([]string, len(a.cfg.Symbols))
	copy(out, a.cfg.Symbols)
	return out
}

// Pool returns the latest snapshot for a symbol, or false when no rebuild
// has produced one yet. The returned pool is immutable; callers must not
// modify it.
func (a *Aggregator) Pool(symbol string) (*domain.LiquidityPool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pools[symbol]
	return p, ok
}

// Run rebuilds pools on the configured interval until ctx is cancelled. One
// rebuild happens immediately on start so dependents do not begin with an
// empty view.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("aggregator started",
		slog.Duration("interval", a.cfg.Interval),
		slog.Int("symbols", len(a.cfg.Symbols)),
	)
	defer a.logger.Info("aggregator stopped")

	a.Rebuild(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Rebuild(ctx)
		}
	}
}

// Rebuild produces a fresh snapshot for every tracked symbol. A pool is
// swapped in atomically; readers never observe a partial update.
func (a *Aggregator) Rebuild(ctx context.Context) {
	for _, symbol := range a.cfg.Symbols {
		pool := a.buildPool(ctx, symbol)
		if pool == nil {
			continue
		}
		a.mu.Lock()
		a.pools[symbol] = pool
		a.mu.Unlock()
	}
}

func (a *Aggregator) buildPool(ctx context.Context, symbol string) *domain.LiquidityPool {
	venues := a.registry.Eligible(symbol)
	if len(venues) == 0 {
		return nil
	}

	pool := &domain.LiquidityPool{
		Symbol:  symbol,
		BuiltAt: time.Now().UTC(),
	}

	for _, v := range venues {
		port, ok := a.ports.PortFor(v.ID)
		if !ok {
			continue
		}

		quoteCtx, cancel := context.WithTimeout(ctx, a.cfg.QuoteTimeout)
		q, err := port.GetQuote(quoteCtx, v.ID, symbol)
		cancel()
		if err != nil {
			a.logger.Debug("quote fetch failed",
				slog.String("venue_id", v.ID),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if q.Bid <= 0 && q.Ask <= 0 {
			continue
		}

		pool.Quotes = append(pool.Quotes, domain.VenueQuote{VenueID: v.ID, Quote: q})
		pool.TotalBidLiquidity += q.BidSize
		pool.TotalAskLiquidity += q.AskSize

		if q.Bid > pool.BestBid {
			pool.BestBid = q.Bid
		}
		if q.Ask > 0 && (pool.BestAsk == 0 || q.Ask < pool.BestAsk) {
			pool.BestAsk = q.Ask
		}

		a.writeVenueMetrics(v.ID, q)

		if a.cache != nil {
			if err := a.cache.SetQuote(ctx, v.ID, symbol, q); err != nil {
				a.logger.Debug("quote cache update failed",
					slog.String("venue_id", v.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if len(pool.Quotes) == 0 {
		return nil
	}

	if pool.BestBid > 0 && pool.BestAsk > 0 {
		pool.Spread = pool.BestAsk - pool.BestBid
	}
	if total := pool.TotalBidLiquidity + pool.TotalAskLiquidity; total > 0 {
		pool.Imbalance = (pool.TotalBidLiquidity - pool.TotalAskLiquidity) / total
	}
	pool.QualityScore = qualityScore(pool)

	return pool
}

// writeVenueMetrics pushes observed spread and depth back into the registry.
func (a *Aggregator) writeVenueMetrics(venueID string, q domain.Quote) {
	mid := q.Mid()
	_ = a.registry.UpdateMetrics(venueID, func(m *domain.VenueMetrics) {
		m.BidDepth = q.BidSize
		m.AskDepth = q.AskSize
		if total := q.BidSize + q.AskSize; total > 0 {
			m.Imbalance = (q.BidSize - q.AskSize) / total
		}
		if mid > 0 {
			m.SpreadBps = (q.Ask - q.Bid) / mid * 10_000
		}
	})
}

// qualityScore rates a pool 0..100: more quoting venues and a tighter spread
// mean a healthier composite book.
func qualityScore(p *domain.LiquidityPool) float64 {
	score := float64(len(p.Quotes)) * 15
	if score > 60 {
		score = 60
	}

	if p.BestBid > 0 && p.BestAsk > 0 {
		mid := (p.BestBid + p.BestAsk) / 2
		spreadBps := p.Spread / mid * 10_000
		switch {
		case spreadBps <= 5:
			score += 40
		case spreadBps <= 20:
			score += 25
		case spreadBps <= 50:
			score += 10
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Package arbitrage scans aggregated liquidity pools for crossed markets,
// where one venue's best bid exceeds another venue's best ask for the same
// symbol.
package arbitrage

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// Config configures the scanner.
type Config struct {
	Interval     time.Duration // scan cadence
	MinNetBps    float64       // minimum net profit after fees
	TTL          time.Duration // opportunity lifetime
	MaxLatencyMs float64       // latency reference for risk scoring
}

// DefaultConfig returns the stock scanner parameters.
func DefaultConfig() Config {
	return Config{
		Interval:     250 * time.Millisecond,
		MinNetBps:    5,
		TTL:          500 * time.Millisecond,
		MaxLatencyMs: 200,
	}
}

// PoolSource yields the current liquidity pool for a symbol.
type PoolSource interface {
	Symbols() []string
	Pool(symbol string) (*domain.LiquidityPool, bool)
}

// VenueSource resolves venue records for fee and latency lookups.
type VenueSource interface {
	Get(id string) (domain.Venue, error)
}

// Scanner detects cross-venue dislocations and keeps a window of live
// opportunities until they expire.
type Scanner struct {
	pools  PoolSource
	venues VenueSource
	cfg    Config
	events domain.EventSink
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]domain.ArbOpportunity
}

// NewScanner creates a scanner over the given pool and venue sources.
func NewScanner(pools PoolSource, venues VenueSource, cfg Config, events domain.EventSink, logger *slog.Logger) *Scanner {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 500 * time.Millisecond
	}
	return &Scanner{
		pools:  pools,
		venues: venues,
		cfg:    cfg,
		events: events,
		logger: logger.With(slog.String("component", "arb_scanner")),
		live:   make(map[string]domain.ArbOpportunity),
	}
}

// Run scans on a ticker until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("arb scanner started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Float64("min_net_bps", s.cfg.MinNetBps),
	)
	defer s.logger.Info("arb scanner stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Scan()
		}
	}
}

// Scan runs one detection pass across every tracked symbol.
func (s *Scanner) Scan() {
	now := time.Now().UTC()
	for _, symbol := range s.pools.Symbols() {
		pool, ok := s.pools.Pool(symbol)
		if !ok {
			continue
		}
		for _, opp := range s.detect(pool, now) {
			s.record(opp)
		}
	}
	s.prune(now)
}

// detect compares every bid/ask pair across the pool's venue quotes and
// returns opportunities whose net edge clears the threshold.
func (s *Scanner) detect(pool *domain.LiquidityPool, now time.Time) []domain.ArbOpportunity {
	var out []domain.ArbOpportunity
	for _, bidQ := range pool.Quotes {
		for _, askQ := range pool.Quotes {
			if bidQ.VenueID == askQ.VenueID {
				continue
			}
			if bidQ.Bid <= 0 || askQ.Ask <= 0 || bidQ.Bid <= askQ.Ask {
				continue
			}

			grossBps := (bidQ.Bid - askQ.Ask) / askQ.Ask * 10_000
			netBps := grossBps - s.takerFeeBps(bidQ.VenueID) - s.takerFeeBps(askQ.VenueID)
			if netBps < s.cfg.MinNetBps {
				continue
			}

			qty := askQ.AskSize
			if bidQ.BidSize < qty {
				qty = bidQ.BidSize
			}
			if qty <= 0 {
				continue
			}

			opp := domain.ArbOpportunity{
				ID:         uuid.New().String(),
				Symbol:     pool.Symbol,
				BuyVenueID: askQ.VenueID,
				BuyPrice:   askQ.Ask,
				SellVenueID: bidQ.VenueID,
				SellPrice:  bidQ.Bid,
				SpreadBps:  grossBps,
				NetProfitBps: netBps,
				MaxQuantity: qty,
				Confidence: confidence(netBps, s.cfg.MinNetBps),
				RiskScore:  s.riskScore(askQ.VenueID, bidQ.VenueID),
				DetectedAt: now,
				ExpiresAt:  now.Add(s.cfg.TTL),
			}
			out = append(out, opp)
		}
	}
	return out
}

// record stores the opportunity, replacing an existing one for the same
// venue pair so a persistent dislocation does not flood the window. Only
// new pairs emit a detection event.
func (s *Scanner) record(opp domain.ArbOpportunity) {
	key := opp.Symbol + "|" + opp.BuyVenueID + "|" + opp.SellVenueID

	s.mu.Lock()
	_, seen := s.live[key]
	s.live[key] = opp
	s.mu.Unlock()

	if seen {
		return
	}

	s.logger.Info("arb opportunity",
		slog.String("symbol", opp.Symbol),
		slog.String("buy_venue", opp.BuyVenueID),
		slog.String("sell_venue", opp.SellVenueID),
		slog.Float64("net_bps", opp.NetProfitBps),
		slog.Float64("max_qty", opp.MaxQuantity),
	)

	if s.events != nil {
		s.events(domain.Event{
			Type:   domain.EventArbDetected,
			At:     opp.DetectedAt,
			Symbol: opp.Symbol,
			Detail: map[string]any{
				"id":          opp.ID,
				"buy_venue":   opp.BuyVenueID,
				"sell_venue":  opp.SellVenueID,
				"buy_price":   opp.BuyPrice,
				"sell_price":  opp.SellPrice,
				"net_bps":     opp.NetProfitBps,
				"max_qty":     opp.MaxQuantity,
				"confidence":  opp.Confidence,
				"risk_score":  opp.RiskScore,
			},
		})
	}
}

func (s *Scanner) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, opp := range s.live {
		if opp.Expired(now) {
			delete(s.live, key)
		}
	}
}

// Opportunities returns live, unexpired opportunities sorted by net profit
// descending.
func (s *Scanner) Opportunities() []domain.ArbOpportunity {
	now := time.Now().UTC()

	s.mu.Lock()
	out := make([]domain.ArbOpportunity, 0, len(s.live))
	for key, opp := range s.live {
		if opp.Expired(now) {
			delete(s.live, key)
			continue
		}
		out = append(out, opp)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].NetProfitBps != out[j].NetProfitBps {
			return out[i].NetProfitBps > out[j].NetProfitBps
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// takerFeeBps looks up the venue's taker fee, zero when the venue is
// unknown.
func (s *Scanner) takerFeeBps(venueID string) float64 {
	v, err := s.venues.Get(venueID)
	if err != nil {
		return 0
	}
	return v.Fees.TakerBps
}

// riskScore rises with the slower leg's latency and falls with the legs'
// fill rates. Range [0, 100].
func (s *Scanner) riskScore(buyVenueID, sellVenueID string) float64 {
	var maxLatency, fillSum float64
	legs := 0
	for _, id := range []string{buyVenueID, sellVenueID} {
		v, err := s.venues.Get(id)
		if err != nil {
			continue
		}
		if v.LatencyMs > maxLatency {
			maxLatency = v.LatencyMs
		}
		fillSum += v.Metrics.FillRate
		legs++
	}

	score := 50.0
	if s.cfg.MaxLatencyMs > 0 {
		score += 30 * maxLatency / s.cfg.MaxLatencyMs
	}
	if legs > 0 {
		score -= 30 * (fillSum / float64(legs))
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// confidence grows with how far the net edge clears the minimum.
func confidence(netBps, minBps float64) float64 {
	if minBps <= 0 {
		minBps = 1
	}
	c := 0.5 + 0.1*(netBps/minBps-1)
	if c > 0.99 {
		c = 0.99
	}
	if c < 0.5 {
		c = 0.5
	}
	return c
}

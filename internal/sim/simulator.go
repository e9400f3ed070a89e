// Package sim is the built-in matching simulator: a multi-venue paper
// implementation of the venue execution port. Prices follow a bounded random
// walk; resting conditional orders are evaluated against the current quote
// on every evaluation tick and execute with a slippage and commission model
// against a simulated account.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// VenueParams describes one simulated venue hosted by the Simulator. Skew
// shifts the venue's quotes off the shared symbol price so that cross-venue
// dislocations can occur.
type VenueParams struct {
	ID        string
	SpreadBps float64
	SkewBps   float64
	DepthBase float64 // resting size per side
	LatencyMs float64
}

// Config controls the simulator loops and the execution model.
type Config struct {
	TickInterval time.Duration // price random-walk cadence
	EvalInterval time.Duration // conditional-order evaluation cadence
	WalkBps      float64       // max absolute per-tick price move
	SlippagePct  float64       // applied against the order on execution
	CommissionFlat float64
	CommissionPct  float64 // of notional
	RestingTTL   time.Duration // 0 disables expiry of resting orders
	Seed         int64
	StartingCash float64
	Prices       map[string]float64 // symbol -> initial price
}

// DefaultConfig returns the stock simulator parameters.
func DefaultConfig() Config {
	return Config{
		TickInterval:   200 * time.Millisecond,
		EvalInterval:   100 * time.Millisecond,
		WalkBps:        20,
		SlippagePct:    0.05,
		CommissionFlat: 0.5,
		CommissionPct:  0.01,
		Seed:           1,
		StartingCash:   1_000_000,
	}
}

// restingOrder is a conditional order waiting for its trigger.
type restingOrder struct {
	id        string
	req       domain.ChildOrderRequest
	trigger   float64 // trailing trigger price, 0 until first evaluation
	stopHit   bool    // stop leg satisfied (stop-limit only)
	createdAt time.Time
}

// Simulator implements domain.VenueExecutionPort without a network.
type Simulator struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	last    map[string]float64
	venues  map[string]VenueParams
	resting map[string]*restingOrder
	cb      domain.ExecutionCallback

	account *Account
}

// NewSimulator creates a Simulator seeded from cfg. The seed makes price
// paths reproducible across runs.
func NewSimulator(cfg Config, logger *slog.Logger) *Simulator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = 100 * time.Millisecond
	}

	last := make(map[string]float64, len(cfg.Prices))
	for sym, px := range cfg.Prices {
		last[sym] = px
	}

	return &Simulator{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "matching_simulator")),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		last:    last,
		venues:  make(map[string]VenueParams),
		resting: make(map[string]*restingOrder),
		account: NewAccount(cfg.StartingCash),
	}
}

// AddVenue registers a simulated venue.
func (s *Simulator) AddVenue(p VenueParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[p.ID] = p
}

// Account exposes the simulated account for inspection.
func (s *Simulator) Account() *Account {
	return s.account
}

// SetCallback registers the execution update callback.
func (s *Simulator) SetCallback(cb domain.ExecutionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// Connect reports whether the venue is hosted here. The simulator has no
// transport, so a known venue is always reachable.
func (s *Simulator) Connect(_ context.Context, venueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.venues[venueID]; !ok {
		return fmt.Errorf("sim: %q: %w", venueID, domain.ErrVenueUnknown)
	}
	return nil
}

// GetQuote returns the venue's current top of book, derived from the shared
// symbol price with the venue's skew and spread applied.
func (s *Simulator) GetQuote(_ context.Context, venueID, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quoteLocked(venueID, symbol)
}

func (s *Simulator) quoteLocked(venueID, symbol string) (domain.Quote, error) {
	v, ok := s.venues[venueID]
	if !ok {
		return domain.Quote{}, fmt.Errorf("sim: %q: %w", venueID, domain.ErrVenueUnknown)
	}
	px, ok := s.last[symbol]
	if !ok {
		return domain.Quote{}, fmt.Errorf("sim: %q: %w", symbol, domain.ErrNotFound)
	}

	mid := px * (1 + v.SkewBps/10_000)
	half := mid * v.SpreadBps / 20_000
	return domain.Quote{
		Bid:       mid - half,
		Ask:       mid + half,
		BidSize:   v.DepthBase,
		AskSize:   v.DepthBase,
		Timestamp: time.Now().UTC(),
	}, nil
}

// SubmitChildOrder accepts a child order. Immediate kinds execute after the
// venue's simulated latency; conditional kinds rest until their trigger.
func (s *Simulator) SubmitChildOrder(_ context.Context, req domain.ChildOrderRequest) (string, error) {
	s.mu.Lock()
	v, ok := s.venues[req.VenueID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("sim: %q: %w", req.VenueID, domain.ErrVenueUnknown)
	}
	if _, ok := s.last[req.Symbol]; !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("sim: %q: %w", req.Symbol, domain.ErrNotFound)
	}
	if req.Quantity <= 0 {
		s.mu.Unlock()
		return "", fmt.Errorf("sim: quantity %.4f: %w", req.Quantity, domain.ErrInvalidIntent)
	}

	id := uuid.New().String()

	switch req.Kind {
	case domain.KindLimit, domain.KindStop, domain.KindStopLimit, domain.KindTrailingStop:
		s.resting[id] = &restingOrder{id: id, req: req, createdAt: time.Now().UTC()}
		s.mu.Unlock()
		s.ack(id, req, v)

	default:
		// Market-style kinds (market, midpoint peg, iceberg) execute at the
		// quote after the venue's latency.
		s.mu.Unlock()
		latency := time.Duration(v.LatencyMs * float64(time.Millisecond))
		time.AfterFunc(latency, func() {
			s.ackNow(id, req, v)
			s.execute(id, req, v)
		})
	}

	return id, nil
}

// ack acknowledges asynchronously after the venue latency.
func (s *Simulator) ack(id string, req domain.ChildOrderRequest, v VenueParams) {
	latency := time.Duration(v.LatencyMs * float64(time.Millisecond))
	time.AfterFunc(latency, func() {
		s.ackNow(id, req, v)
	})
}

func (s *Simulator) ackNow(id string, req domain.ChildOrderRequest, v VenueParams) {
	s.send(domain.ExecutionUpdate{
		ChildOrderID: id,
		VenueID:      req.VenueID,
		Status:       domain.ChildAcknowledged,
		LatencyMs:    v.LatencyMs,
		At:           time.Now().UTC(),
	})
}

// CancelChildOrder removes a resting order. Immediate kinds cannot be
// cancelled once submitted.
func (s *Simulator) CancelChildOrder(_ context.Context, childOrderID string) error {
	s.mu.Lock()
	ro, ok := s.resting[childOrderID]
	if ok {
		delete(s.resting, childOrderID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("sim: %q: %w", childOrderID, domain.ErrNotFound)
	}

	s.send(domain.ExecutionUpdate{
		ChildOrderID: childOrderID,
		VenueID:      ro.req.VenueID,
		Status:       domain.ChildCancelled,
		At:           time.Now().UTC(),
	})
	return nil
}

// Run drives the price and evaluation loops until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulator started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Duration("eval_interval", s.cfg.EvalInterval),
		slog.Int64("seed", s.cfg.Seed),
	)
	defer s.logger.Info("simulator stopped")

	priceTicker := time.NewTicker(s.cfg.TickInterval)
	defer priceTicker.Stop()
	evalTicker := time.NewTicker(s.cfg.EvalInterval)
	defer evalTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-priceTicker.C:
			s.tick()
		case <-evalTicker.C:
			s.Evaluate()
		}
	}
}

// tick perturbs every symbol's price by a bounded random walk and marks the
// account to market.
func (s *Simulator) tick() {
	s.mu.Lock()
	prices := make(map[string]float64, len(s.last))
	for sym, px := range s.last {
		move := (s.rng.Float64()*2 - 1) * s.cfg.WalkBps / 10_000
		s.last[sym] = px * (1 + move)
		prices[sym] = s.last[sym]
	}
	s.mu.Unlock()

	s.account.MarkToMarket(prices)
}

// SetPrice overrides a symbol's last price. Intended for tests and replay.
func (s *Simulator) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	s.last[symbol] = price
	s.mu.Unlock()
}

// Evaluate runs one trigger-evaluation pass over all resting orders against
// each order's current venue quote.
func (s *Simulator) Evaluate() {
	s.mu.Lock()
	now := time.Now().UTC()
	type firing struct {
		ro *restingOrder
		v  VenueParams
	}
	var fired []firing
	var expired []*restingOrder

	for id, ro := range s.resting {
		if s.cfg.RestingTTL > 0 && now.Sub(ro.createdAt) > s.cfg.RestingTTL {
			delete(s.resting, id)
			expired = append(expired, ro)
			continue
		}

		v := s.venues[ro.req.VenueID]
		q, err := s.quoteLocked(ro.req.VenueID, ro.req.Symbol)
		if err != nil {
			continue
		}
		if s.triggered(ro, q) {
			delete(s.resting, id)
			fired = append(fired, firing{ro: ro, v: v})
		}
	}
	s.mu.Unlock()

	for _, ro := range expired {
		s.send(domain.ExecutionUpdate{
			ChildOrderID: ro.id,
			VenueID:      ro.req.VenueID,
			Status:       domain.ChildCancelled,
			Reason:       "expired",
			At:           now,
		})
	}
	for _, f := range fired {
		s.execute(f.ro.id, f.ro.req, f.v)
	}
}

// triggered evaluates one resting order's condition against the quote, and
// ratchets trailing-stop triggers. Buys reference the ask, sells the bid.
func (s *Simulator) triggered(ro *restingOrder, q domain.Quote) bool {
	req := ro.req
	buy := req.Side == domain.SideBuy

	ref := q.Bid
	if buy {
		ref = q.Ask
	}

	switch req.Kind {
	case domain.KindLimit:
		if buy {
			return ref <= req.Price
		}
		return ref >= req.Price

	case domain.KindStop:
		if buy {
			return ref >= req.Stop
		}
		return ref <= req.Stop

	case domain.KindStopLimit:
		if !ro.stopHit {
			if buy && ref >= req.Stop {
				ro.stopHit = true
			} else if !buy && ref <= req.Stop {
				ro.stopHit = true
			}
		}
		if !ro.stopHit {
			return false
		}
		if buy {
			return ref <= req.Price
		}
		return ref >= req.Price

	case domain.KindTrailingStop:
		dist := req.TrailAmt
		if dist <= 0 && req.TrailPct > 0 {
			dist = ref * req.TrailPct / 100
		}
		if dist <= 0 {
			return false
		}
		if buy {
			// The trigger only ever moves down as the market falls.
			candidate := ref + dist
			if ro.trigger == 0 || candidate < ro.trigger {
				ro.trigger = candidate
			}
			return ref >= ro.trigger
		}
		// Sell: the trigger only ever moves up as the market rises.
		candidate := ref - dist
		if candidate > ro.trigger {
			ro.trigger = candidate
		}
		return ref <= ro.trigger
	}

	return false
}

// execute fills a child order as a market order at the current quote with
// slippage and commission applied, updating the simulated account. Orders
// the account cannot afford are rejected whole.
func (s *Simulator) execute(id string, req domain.ChildOrderRequest, v VenueParams) {
	s.mu.Lock()
	q, err := s.quoteLocked(req.VenueID, req.Symbol)
	s.mu.Unlock()
	if err != nil {
		s.send(domain.ExecutionUpdate{
			ChildOrderID: id,
			VenueID:      req.VenueID,
			Status:       domain.ChildRejected,
			Reason:       err.Error(),
			At:           time.Now().UTC(),
		})
		return
	}

	var price float64
	if req.Side == domain.SideBuy {
		price = q.Ask * (1 + s.cfg.SlippagePct/100)
	} else {
		price = q.Bid * (1 - s.cfg.SlippagePct/100)
	}

	commission := s.cfg.CommissionFlat + req.Quantity*price*s.cfg.CommissionPct/100

	if err := s.account.Execute(req.Symbol, req.Side, req.Quantity, price, commission); err != nil {
		s.logger.Warn("order rejected",
			slog.String("child_id", id),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		s.send(domain.ExecutionUpdate{
			ChildOrderID: id,
			VenueID:      req.VenueID,
			Status:       domain.ChildRejected,
			Reason:       err.Error(),
			At:           time.Now().UTC(),
		})
		return
	}

	s.logger.Debug("order filled",
		slog.String("child_id", id),
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("qty", req.Quantity),
		slog.Float64("price", price),
	)

	s.send(domain.ExecutionUpdate{
		ChildOrderID: id,
		VenueID:      req.VenueID,
		Status:       domain.ChildFilled,
		FilledQty:    req.Quantity,
		FillPrice:    price,
		LatencyMs:    v.LatencyMs,
		At:           time.Now().UTC(),
	})
}

func (s *Simulator) send(u domain.ExecutionUpdate) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(u)
	}
}

// PortFor implements domain.PortResolver for the single-port case where the
// simulator hosts every venue.
func (s *Simulator) PortFor(venueID string) (domain.VenueExecutionPort, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.venues[venueID]; !ok {
		return nil, false
	}
	return s, true
}

// Package lifecycle owns all parent and child order state and drives
// execution plans against venue execution ports. No other component mutates
// an order once it exists; callers only ever see copies.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// Config controls child-order timeouts and the fill threshold at which a
// parent counts as filled.
type Config struct {
	ChildTimeout  time.Duration
	FillThreshold float64 // fraction of quantity, default 0.99
	UpdateBuffer  int
}

// DefaultConfig returns the stock lifecycle parameters.
func DefaultConfig() Config {
	return Config{
		ChildTimeout:  5 * time.Second,
		FillThreshold: 0.99,
		UpdateBuffer:  1024,
	}
}

// childRef locates a child order inside its parent.
type childRef struct {
	parentID string
	index    int
}

// parkedUpdate is an execution update that arrived before the port returned
// the child id it belongs to. It is replayed once the id is registered.
type parkedUpdate struct {
	update domain.ExecutionUpdate
	at     time.Time
}

// Manager is the order state machine. Execution updates from every port are
// funneled through one channel and applied by a single goroutine, so fills
// for a given parent are applied strictly in the order they are received.
type Manager struct {
	ports    domain.PortResolver
	cfg      Config
	events   domain.EventSink            // optional
	onSettle func(domain.ParentOrder)    // optional, called after terminal transition
	logger   *slog.Logger

	mu       sync.Mutex
	orders   map[string]*domain.ParentOrder
	children map[string]childRef // port child id -> location
	parked   map[string][]parkedUpdate
	timers   map[string]*time.Timer

	updates chan domain.ExecutionUpdate
}

// NewManager creates a Manager. events and onSettle may be nil.
func NewManager(ports domain.PortResolver, cfg Config, events domain.EventSink, onSettle func(domain.ParentOrder), logger *slog.Logger) *Manager {
	if cfg.ChildTimeout <= 0 {
		cfg.ChildTimeout = 5 * time.Second
	}
	if cfg.FillThreshold <= 0 {
		cfg.FillThreshold = 0.99
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 1024
	}
	return &Manager{
		ports:    ports,
		cfg:      cfg,
		events:   events,
		onSettle: onSettle,
		logger:   logger.With(slog.String("component", "lifecycle")),
		orders:   make(map[string]*domain.ParentOrder),
		children: make(map[string]childRef),
		parked:   make(map[string][]parkedUpdate),
		timers:   make(map[string]*time.Timer),
		updates:  make(chan domain.ExecutionUpdate, cfg.UpdateBuffer),
	}
}

// HandleUpdate is the ExecutionCallback registered with every port. It only
// enqueues; application happens on the Run goroutine.
func (m *Manager) HandleUpdate(u domain.ExecutionUpdate) {
	m.updates <- u
}

// Run applies execution updates until ctx is cancelled, then drains whatever
// is already buffered so in-flight fills are not silently dropped.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("lifecycle manager started")
	defer m.logger.Info("lifecycle manager stopped")

	for {
		select {
		case <-ctx.Done():
			m.drain()
			return ctx.Err()
		case u := <-m.updates:
			m.apply(u)
		}
	}
}

func (m *Manager) drain() {
	for {
		select {
		case u := <-m.updates:
			m.apply(u)
		default:
			return
		}
	}
}

// Submit creates a parent order for the intent, transitions it to working,
// and dispatches one child per plan allocation in priority order. It blocks
// only on the port submission calls themselves. A plan with zero allocations
// produces an immediately rejected parent.
func (m *Manager) Submit(ctx context.Context, intent domain.OrderIntent, plan *domain.ExecutionPlan) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("lifecycle: nil plan: %w", domain.ErrInvalidIntent)
	}

	parent := &domain.ParentOrder{
		ID:                uuid.New().String(),
		Intent:            intent,
		Status:            domain.ParentPending,
		Plan:              plan,
		QuantityRemaining: intent.Quantity,
		CreatedAt:         time.Now().UTC(),
	}

	m.mu.Lock()
	m.orders[parent.ID] = parent
	m.mu.Unlock()

	m.emit(domain.Event{
		Type:    domain.EventOrderCreated,
		At:      parent.CreatedAt,
		OrderID: parent.ID,
		Symbol:  intent.Symbol,
		Detail: map[string]any{
			"side":     intent.Side,
			"quantity": intent.Quantity,
			"urgency":  intent.Urgency,
		},
	})

	if len(plan.Allocations) == 0 {
		m.finalizeEmpty(parent.ID)
		return parent.ID, nil
	}

	m.mu.Lock()
	parent.Status = domain.ParentWorking
	m.mu.Unlock()
	m.emit(domain.Event{Type: domain.EventOrderStarted, At: time.Now().UTC(), OrderID: parent.ID, Symbol: intent.Symbol})

	m.dispatch(ctx, parent.ID, intent, plan)
	return parent.ID, nil
}

// dispatch sends one child per allocation. A later allocation is skipped once
// the remaining quantity hits zero or the parent was cancelled meanwhile.
func (m *Manager) dispatch(ctx context.Context, parentID string, intent domain.OrderIntent, plan *domain.ExecutionPlan) {
	for _, alloc := range plan.Allocations {
		m.mu.Lock()
		parent := m.orders[parentID]
		skip := parent.Status != domain.ParentWorking || parent.QuantityRemaining <= 0
		m.mu.Unlock()
		if skip {
			break
		}

		m.dispatchChild(ctx, parentID, intent, alloc)
	}

	m.mu.Lock()
	m.settle(parentID)
	m.mu.Unlock()
}

func (m *Manager) dispatchChild(ctx context.Context, parentID string, intent domain.OrderIntent, alloc domain.VenueAllocation) {
	child := domain.ChildOrder{
		ID:       uuid.New().String(),
		ParentID: parentID,
		VenueID:  alloc.VenueID,
		Kind:     alloc.Kind,
		Quantity: alloc.Quantity,
		Status:   domain.ChildPending,
	}
	if alloc.Kind == domain.KindLimit || alloc.Kind == domain.KindStopLimit {
		child.Price = intent.LimitPrice
	}

	m.mu.Lock()
	parent := m.orders[parentID]
	idx := len(parent.Children)
	parent.Children = append(parent.Children, child)
	m.mu.Unlock()

	port, ok := m.ports.PortFor(alloc.VenueID)
	if !ok {
		m.rejectChild(parentID, idx, "no port for venue")
		return
	}

	req := domain.ChildOrderRequest{
		VenueID:  alloc.VenueID,
		Symbol:   intent.Symbol,
		Side:     intent.Side,
		Quantity: alloc.Quantity,
		Kind:     alloc.Kind,
		Price:    child.Price,
	}

	portID, err := port.SubmitChildOrder(ctx, req)
	if err != nil {
		m.logger.Warn("child submission failed",
			slog.String("parent_id", parentID),
			slog.String("venue_id", alloc.VenueID),
			slog.String("error", err.Error()),
		)
		m.rejectChild(parentID, idx, err.Error())
		return
	}

	now := time.Now().UTC()
	m.mu.Lock()
	parent = m.orders[parentID]
	parent.Children[idx].Status = domain.ChildSent
	parent.Children[idx].SentAt = now
	ref := childRef{parentID: parentID, index: idx}
	m.children[portID] = ref
	childID := parent.Children[idx].ID

	// Timeout: an unacknowledged or unfilled child degrades to rejected so
	// the parent always makes forward progress.
	m.timers[childID] = time.AfterFunc(m.cfg.ChildTimeout, func() {
		m.updates <- domain.ExecutionUpdate{
			ChildOrderID: portID,
			VenueID:      alloc.VenueID,
			Status:       domain.ChildRejected,
			Reason:       "timeout",
			At:           time.Now().UTC(),
		}
	})

	// A fast venue can report executions before SubmitChildOrder returns the
	// port's child id. Those updates were parked; fold them in now, still
	// under the lock, so nothing later in the channel can overtake them.
	var fillEvents []domain.Event
	if waiting := m.parked[portID]; len(waiting) > 0 {
		delete(m.parked, portID)
		for _, p := range waiting {
			if ev := m.applyLocked(ref, p.update); ev != nil {
				fillEvents = append(fillEvents, *ev)
			}
		}
		m.settle(parentID)
	}
	m.mu.Unlock()

	for _, ev := range fillEvents {
		m.emit(ev)
	}
}

// rejectChild marks a child rejected outside the update path (submission
// failures and missing ports).
func (m *Manager) rejectChild(parentID string, idx int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent := m.orders[parentID]
	if parent == nil || parent.Children[idx].Status.Terminal() {
		return
	}
	parent.Children[idx].Status = domain.ChildRejected
	_ = reason
}

// Cancel marks the parent cancelled and prevents further child dispatch.
// Fills already acknowledged are still applied afterwards. The second call
// for the same order returns false with ErrAlreadyTerminal.
func (m *Manager) Cancel(ctx context.Context, parentID string) (bool, error) {
	m.mu.Lock()
	parent, ok := m.orders[parentID]
	if !ok {
		m.mu.Unlock()
		return false, fmt.Errorf("lifecycle: %q: %w", parentID, domain.ErrNotFound)
	}
	if parent.Status.Terminal() {
		m.mu.Unlock()
		return false, fmt.Errorf("lifecycle: %q: %w", parentID, domain.ErrAlreadyTerminal)
	}

	parent.Status = domain.ParentCancelled

	// Best-effort cancels for children still resting at a venue.
	type pending struct {
		portID  string
		venueID string
	}
	var outstanding []pending
	for portID, ref := range m.children {
		if ref.parentID != parentID {
			continue
		}
		c := parent.Children[ref.index]
		if !c.Status.Terminal() {
			outstanding = append(outstanding, pending{portID: portID, venueID: c.VenueID})
		}
	}

	m.settle(parentID)
	m.mu.Unlock()

	for _, p := range outstanding {
		if port, ok := m.ports.PortFor(p.venueID); ok {
			if err := port.CancelChildOrder(ctx, p.portID); err != nil {
				m.logger.Debug("venue cancel failed",
					slog.String("child_id", p.portID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	m.logger.Info("order cancelled", slog.String("parent_id", parentID))
	return true, nil
}

// Get returns a deep copy of the parent order.
func (m *Manager) Get(parentID string) (domain.ParentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.orders[parentID]
	if !ok {
		return domain.ParentOrder{}, fmt.Errorf("lifecycle: %q: %w", parentID, domain.ErrNotFound)
	}
	return snapshot(parent), nil
}

// SetPostTrade writes the analytics summary back onto a settled parent. The
// manager stays the only writer of order state; analytics hands the numbers
// here instead of touching the order itself.
func (m *Manager) SetPostTrade(parentID string, shortfallBps, marketImpactBps float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.orders[parentID]
	if !ok {
		return fmt.Errorf("lifecycle: %q: %w", parentID, domain.ErrNotFound)
	}
	parent.ImplementationShortfallBps = shortfallBps
	parent.MarketImpactBps = marketImpactBps
	return nil
}

// List returns deep copies of all orders, newest first.
func (m *Manager) List() []domain.ParentOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ParentOrder, 0, len(m.orders))
	for _, p := range m.orders {
		out = append(out, snapshot(p))
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// apply processes one execution update on the Run goroutine.
func (m *Manager) apply(u domain.ExecutionUpdate) {
	m.mu.Lock()
	ref, ok := m.children[u.ChildOrderID]
	if !ok {
		// The port has not returned this child's id yet. Park the update;
		// dispatchChild replays it under the same lock right after
		// registration, so no execution is ever lost to the race.
		m.park(u)
		m.mu.Unlock()
		return
	}
	fillEvent := m.applyLocked(ref, u)

	// A timed-out child may still be resting at the venue.
	var cancelVenue string
	if u.Reason == "timeout" {
		cancelVenue = m.orders[ref.parentID].Children[ref.index].VenueID
	}

	m.settle(ref.parentID)
	m.mu.Unlock()

	if cancelVenue != "" {
		if port, ok := m.ports.PortFor(cancelVenue); ok {
			_ = port.CancelChildOrder(context.Background(), u.ChildOrderID)
		}
	}
	if fillEvent != nil {
		m.emit(*fillEvent)
	}
}

// park buffers an update whose child id is not registered yet. Entries older
// than twice the child timeout belong to submissions that ultimately failed
// and are dropped. Caller holds m.mu.
func (m *Manager) park(u domain.ExecutionUpdate) {
	cutoff := time.Now().Add(-2 * m.cfg.ChildTimeout)
	for id, list := range m.parked {
		kept := list[:0]
		for _, p := range list {
			if p.at.After(cutoff) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(m.parked, id)
		} else {
			m.parked[id] = kept
		}
	}
	m.parked[u.ChildOrderID] = append(m.parked[u.ChildOrderID], parkedUpdate{update: u, at: time.Now()})
}

// applyLocked folds one update into the child it addresses and returns the
// fill event to emit, if any. Caller holds m.mu and settles afterwards.
func (m *Manager) applyLocked(ref childRef, u domain.ExecutionUpdate) *domain.Event {
	parent := m.orders[ref.parentID]
	child := &parent.Children[ref.index]

	var fillEvent *domain.Event

	switch u.Status {
	case domain.ChildAcknowledged:
		if child.Status == domain.ChildSent {
			child.Status = domain.ChildAcknowledged
			at := u.At
			child.AckedAt = &at
			child.LatencyMs = u.LatencyMs
		}

	case domain.ChildFilled, domain.ChildPartialFill:
		if child.Status.Terminal() {
			break
		}
		m.applyFill(parent, child, u)
		if u.Status == domain.ChildFilled {
			child.Status = domain.ChildFilled
			at := u.At
			child.FilledAt = &at
			m.stopTimer(child.ID)
		} else {
			child.Status = domain.ChildPartialFill
		}
		fillEvent = &domain.Event{
			Type:    domain.EventChildFilled,
			At:      u.At,
			OrderID: parent.ID,
			VenueID: child.VenueID,
			Symbol:  parent.Intent.Symbol,
			Detail: map[string]any{
				"child_id":   child.ID,
				"filled_qty": u.FilledQty,
				"fill_price": u.FillPrice,
				"latency_ms": u.LatencyMs,
			},
		}

	case domain.ChildRejected, domain.ChildCancelled:
		if !child.Status.Terminal() {
			status := u.Status
			// A child that already executed part of its quantity was not
			// rejected by the venue; only its remainder is dead. Terminalize
			// as cancelled so the fills stay credited.
			if status == domain.ChildRejected && child.FilledQty > 0 {
				status = domain.ChildCancelled
			}
			child.Status = status
			m.stopTimer(child.ID)
			if u.Reason != "" {
				m.logger.Debug("child terminal",
					slog.String("child_id", child.ID),
					slog.String("status", string(status)),
					slog.String("reason", u.Reason),
				)
			}
		}
	}

	return fillEvent
}

// applyFill folds an incremental fill into the child and parent aggregates.
// The running averages are path-dependent, which is why updates for a parent
// are applied on a single goroutine in arrival order.
func (m *Manager) applyFill(parent *domain.ParentOrder, child *domain.ChildOrder, u domain.ExecutionUpdate) {
	qty := u.FilledQty
	if qty <= 0 {
		return
	}

	if prev := child.FilledQty; prev > 0 {
		child.FillPrice = (child.FillPrice*prev + u.FillPrice*qty) / (prev + qty)
	} else {
		child.FillPrice = u.FillPrice
	}
	child.FilledQty += qty
	if u.LatencyMs > 0 {
		child.LatencyMs = u.LatencyMs
	}

	if prev := parent.QuantityFilled; prev > 0 {
		parent.AvgFillPrice = (parent.AvgFillPrice*prev + u.FillPrice*qty) / (prev + qty)
	} else {
		parent.AvgFillPrice = u.FillPrice
	}
	parent.QuantityFilled += qty
	parent.QuantityRemaining -= qty
	if parent.QuantityRemaining < 0 {
		parent.QuantityRemaining = 0
	}
}

// settle checks whether the parent has reached a terminal state and performs
// the one-time completion work. Caller must hold m.mu.
func (m *Manager) settle(parentID string) {
	parent := m.orders[parentID]
	if parent == nil || parent.CompletedAt != nil {
		return
	}

	filled := parent.FillRatio() >= m.cfg.FillThreshold
	allTerminal := true
	anyDispatched := len(parent.Children) > 0
	for i := range parent.Children {
		if !parent.Children[i].Status.Terminal() {
			allTerminal = false
		}
	}

	switch {
	case parent.Status == domain.ParentCancelled:
		if !allTerminal {
			return
		}
	case filled:
		parent.Status = domain.ParentFilled
	case parent.Status == domain.ParentWorking && anyDispatched && allTerminal:
		if parent.QuantityFilled > 0 {
			parent.Status = domain.ParentPartial
		} else {
			parent.Status = domain.ParentRejected
		}
	default:
		return
	}

	now := time.Now().UTC()
	parent.CompletedAt = &now
	snap := snapshot(parent)

	// The fill threshold can be reached while later children are still
	// resting; those are cancelled best-effort.
	type pending struct {
		portID  string
		venueID string
	}
	var outstanding []pending
	if !allTerminal {
		for portID, ref := range m.children {
			if ref.parentID != parent.ID {
				continue
			}
			c := parent.Children[ref.index]
			if !c.Status.Terminal() {
				outstanding = append(outstanding, pending{portID: portID, venueID: c.VenueID})
			}
		}
	}

	// Event emission and the settle hook run outside the lock.
	go func() {
		for _, p := range outstanding {
			if port, ok := m.ports.PortFor(p.venueID); ok {
				_ = port.CancelChildOrder(context.Background(), p.portID)
			}
		}
		m.emit(domain.Event{
			Type:    domain.EventOrderCompleted,
			At:      now,
			OrderID: snap.ID,
			Symbol:  snap.Intent.Symbol,
			Detail: map[string]any{
				"status":         snap.Status,
				"filled":         snap.QuantityFilled,
				"remaining":      snap.QuantityRemaining,
				"avg_fill_price": snap.AvgFillPrice,
			},
		})
		if m.onSettle != nil {
			m.onSettle(snap)
		}
	}()
}

// finalizeEmpty rejects a parent whose plan had no allocations.
func (m *Manager) finalizeEmpty(parentID string) {
	m.mu.Lock()
	parent := m.orders[parentID]
	parent.Status = domain.ParentRejected
	now := time.Now().UTC()
	parent.CompletedAt = &now
	snap := snapshot(parent)
	m.mu.Unlock()

	m.emit(domain.Event{
		Type:    domain.EventOrderCompleted,
		At:      time.Now().UTC(),
		OrderID: snap.ID,
		Symbol:  snap.Intent.Symbol,
		Detail:  map[string]any{"status": snap.Status},
	})
	if m.onSettle != nil {
		m.onSettle(snap)
	}
}

// stopTimer stops and forgets a child's timeout timer. Caller holds m.mu.
func (m *Manager) stopTimer(childID string) {
	if t, ok := m.timers[childID]; ok {
		t.Stop()
		delete(m.timers, childID)
	}
}

func (m *Manager) emit(e domain.Event) {
	if m.events != nil {
		m.events(e)
	}
}

// snapshot deep-copies a parent order for handoff outside the lock.
func snapshot(p *domain.ParentOrder) domain.ParentOrder {
	cp := *p
	cp.Children = make([]domain.ChildOrder, len(p.Children))
	copy(cp.Children, p.Children)
	return cp
}

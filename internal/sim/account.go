package sim

import (
	"fmt"
	"sync"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// Position is a signed holding in one symbol. Quantity > 0 is long.
type Position struct {
	Symbol        string
	Quantity      float64
	AvgEntry      float64
	RealizedPnL   float64
	UnrealizedPnL float64
}

// Account tracks the simulated cash balance and positions. Executions apply
// atomically: an order that would require more cash than available is
// rejected in full, never partially filled.
type Account struct {
	mu        sync.Mutex
	cash      float64
	positions map[string]*Position
}

// NewAccount creates an Account with the given starting cash.
func NewAccount(startingCash float64) *Account {
	return &Account{
		cash:      startingCash,
		positions: make(map[string]*Position),
	}
}

// Cash returns the current cash balance.
func (a *Account) Cash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns a copy of the position for a symbol.
func (a *Account) Position(symbol string) (Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Positions returns copies of all non-flat positions.
func (a *Account) Positions() []Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Position, 0, len(a.positions))
	for _, p := range a.positions {
		if p.Quantity != 0 {
			out = append(out, *p)
		}
	}
	return out
}

// Execute applies a fill: cash moves by the notional plus commission and the
// position opens, adds, reduces, flips, or closes. Realized P&L is booked on
// any closed portion; the average entry only changes when exposure grows or
// flips.
func (a *Account) Execute(symbol string, side domain.Side, qty, price, commission float64) error {
	if qty <= 0 || price <= 0 {
		return fmt.Errorf("sim: qty %.4f price %.4f: %w", qty, price, domain.ErrInvalidIntent)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if side == domain.SideBuy {
		cost := qty*price + commission
		if cost > a.cash {
			return fmt.Errorf("sim: need %.2f, have %.2f: %w", cost, a.cash, domain.ErrInsufficientCash)
		}
		a.cash -= cost
	} else {
		a.cash += qty*price - commission
	}

	delta := qty
	if side == domain.SideSell {
		delta = -qty
	}

	pos, ok := a.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
		a.positions[symbol] = pos
	}

	switch {
	case pos.Quantity == 0 || sameSign(pos.Quantity, delta):
		// Opening or adding: blend the average entry.
		total := abs(pos.Quantity) + abs(delta)
		pos.AvgEntry = (pos.AvgEntry*abs(pos.Quantity) + price*abs(delta)) / total
		pos.Quantity += delta

	default:
		closed := abs(delta)
		if closed > abs(pos.Quantity) {
			closed = abs(pos.Quantity)
		}
		// Realized P&L on the closed portion, signed by the prior direction.
		dir := 1.0
		if pos.Quantity < 0 {
			dir = -1.0
		}
		pos.RealizedPnL += closed * (price - pos.AvgEntry) * dir

		pos.Quantity += delta
		switch {
		case pos.Quantity == 0:
			pos.AvgEntry = 0
		case !sameSign(pos.Quantity, dir):
			// Flipped: the surviving exposure was opened at this fill.
			pos.AvgEntry = price
		}
	}

	return nil
}

// MarkToMarket recomputes unrealized P&L from the given last prices.
func (a *Account) MarkToMarket(prices map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for sym, pos := range a.positions {
		price, ok := prices[sym]
		if !ok || pos.Quantity == 0 {
			pos.UnrealizedPnL = 0
			continue
		}
		pos.UnrealizedPnL = pos.Quantity * (price - pos.AvgEntry)
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

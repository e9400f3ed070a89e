package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. The execution
// plan and child orders are stored as JSONB alongside the flat columns used
// for querying.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Insert writes a settled parent order.
func (s *OrderStore) Insert(ctx context.Context, o domain.ParentOrder) error {
	planJSON, err := json.Marshal(o.Plan)
	if err != nil {
		return fmt.Errorf("postgres: marshal plan %s: %w", o.ID, err)
	}
	childrenJSON, err := json.Marshal(o.Children)
	if err != nil {
		return fmt.Errorf("postgres: marshal children %s: %w", o.ID, err)
	}

	const query = `
		INSERT INTO orders (
			id, symbol, side, urgency, quantity, limit_price, arrival_price,
			status, quantity_filled, avg_fill_price, shortfall_bps, market_impact_bps,
			plan, children, created_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)`

	_, err = s.pool.Exec(ctx, query,
		o.ID, o.Intent.Symbol, string(o.Intent.Side), string(o.Intent.Urgency),
		o.Intent.Quantity, o.Intent.LimitPrice, o.Intent.ArrivalPrice,
		string(o.Status), o.QuantityFilled, o.AvgFillPrice, o.ImplementationShortfallBps, o.MarketImpactBps,
		planJSON, childrenJSON, o.CreatedAt, o.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
	}
	return nil
}

const orderSelectCols = `id, symbol, side, urgency, quantity, limit_price, arrival_price,
	status, quantity_filled, avg_fill_price, shortfall_bps, market_impact_bps,
	plan, children, created_at, completed_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.ParentOrder, error) {
	var o domain.ParentOrder
	var side, urgency, status string
	var planJSON, childrenJSON []byte

	err := scanner.Scan(
		&o.ID, &o.Intent.Symbol, &side, &urgency,
		&o.Intent.Quantity, &o.Intent.LimitPrice, &o.Intent.ArrivalPrice,
		&status, &o.QuantityFilled, &o.AvgFillPrice, &o.ImplementationShortfallBps, &o.MarketImpactBps,
		&planJSON, &childrenJSON, &o.CreatedAt, &o.CompletedAt,
	)
	if err != nil {
		return domain.ParentOrder{}, err
	}

	o.Intent.Side = domain.Side(side)
	o.Intent.Urgency = domain.Urgency(urgency)
	o.Status = domain.ParentStatus(status)

	if len(planJSON) > 0 && string(planJSON) != "null" {
		var plan domain.ExecutionPlan
		if err := json.Unmarshal(planJSON, &plan); err != nil {
			return domain.ParentOrder{}, fmt.Errorf("unmarshal plan: %w", err)
		}
		o.Plan = &plan
	}
	if len(childrenJSON) > 0 {
		if err := json.Unmarshal(childrenJSON, &o.Children); err != nil {
			return domain.ParentOrder{}, fmt.Errorf("unmarshal children: %w", err)
		}
	}
	return o, nil
}

// GetByID returns a settled order by id, or domain.ErrNotFound.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.ParentOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE id = $1`
	o, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ParentOrder{}, domain.ErrNotFound
		}
		return domain.ParentOrder{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListRecent returns up to limit settled orders, newest first.
func (s *OrderStore) ListRecent(ctx context.Context, limit int) ([]domain.ParentOrder, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + orderSelectCols + ` FROM orders ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

// ListBefore returns settled orders created before the given time, oldest
// first. Used by the archiver to page through history.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ParentOrder, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", before, err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.ParentOrder, error) {
	var out []domain.ParentOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.OrderStore = (*OrderStore)(nil)

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// Insert writes an execution report.
func (s *ReportStore) Insert(ctx context.Context, r domain.ExecutionReport) error {
	venuesJSON, err := json.Marshal(r.Venues)
	if err != nil {
		return fmt.Errorf("postgres: marshal report venues %s: %w", r.ID, err)
	}
	recsJSON, err := json.Marshal(r.Recommendations)
	if err != nil {
		return fmt.Errorf("postgres: marshal report recommendations %s: %w", r.ID, err)
	}

	const query = `
		INSERT INTO execution_reports (
			id, order_id, symbol, side, quantity, quantity_filled,
			avg_fill_price, arrival_price, shortfall_bps, impact_bps, vwap_slip_bps,
			twap_slip_bps, venues, recommendations, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`

	_, err = s.pool.Exec(ctx, query,
		r.ID, r.OrderID, r.Symbol, string(r.Side), r.Quantity, r.QuantityFilled,
		r.AvgFillPrice, r.ArrivalPrice, r.ImplementationShortfallBps, r.MarketImpactBps, r.VWAPSlippageBps,
		r.TWAPSlippageBps, venuesJSON, recsJSON, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert report %s: %w", r.ID, err)
	}
	return nil
}

const reportSelectCols = `id, order_id, symbol, side, quantity, quantity_filled,
	avg_fill_price, arrival_price, shortfall_bps, impact_bps, vwap_slip_bps,
	twap_slip_bps, venues, recommendations, created_at`

func scanReport(scanner interface{ Scan(dest ...any) error }) (domain.ExecutionReport, error) {
	var r domain.ExecutionReport
	var side string
	var venuesJSON, recsJSON []byte

	err := scanner.Scan(
		&r.ID, &r.OrderID, &r.Symbol, &side, &r.Quantity, &r.QuantityFilled,
		&r.AvgFillPrice, &r.ArrivalPrice, &r.ImplementationShortfallBps, &r.MarketImpactBps, &r.VWAPSlippageBps,
		&r.TWAPSlippageBps, &venuesJSON, &recsJSON, &r.CreatedAt,
	)
	if err != nil {
		return domain.ExecutionReport{}, err
	}

	r.Side = domain.Side(side)
	if len(venuesJSON) > 0 {
		if err := json.Unmarshal(venuesJSON, &r.Venues); err != nil {
			return domain.ExecutionReport{}, fmt.Errorf("unmarshal venues: %w", err)
		}
	}
	if len(recsJSON) > 0 {
		if err := json.Unmarshal(recsJSON, &r.Recommendations); err != nil {
			return domain.ExecutionReport{}, fmt.Errorf("unmarshal recommendations: %w", err)
		}
	}
	return r, nil
}

// ListRecent returns up to limit reports, newest first.
func (s *ReportStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionReport, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + reportSelectCols + ` FROM execution_reports ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent reports: %w", err)
	}
	defer rows.Close()

	return collectReports(rows)
}

// ListBefore returns reports created before the given time, oldest first.
func (s *ReportStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionReport, error) {
	query := `SELECT ` + reportSelectCols + ` FROM execution_reports WHERE created_at < $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reports before %s: %w", before, err)
	}
	defer rows.Close()

	return collectReports(rows)
}

func collectReports(rows pgx.Rows) ([]domain.ExecutionReport, error) {
	var out []domain.ExecutionReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan report: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate reports: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ReportStore = (*ReportStore)(nil)

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// OrderStore persists settled parent orders for post-trade history. Live
// order state is in-memory and owned by the lifecycle manager; only terminal
// snapshots reach a store.
type OrderStore interface {
	Insert(ctx context.Context, order ParentOrder) error
	GetByID(ctx context.Context, id string) (ParentOrder, error)
	ListRecent(ctx context.Context, limit int) ([]ParentOrder, error)
	ListBefore(ctx context.Context, before time.Time) ([]ParentOrder, error)
}

// ReportStore persists execution-quality reports.
type ReportStore interface {
	Insert(ctx context.Context, report ExecutionReport) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionReport, error)
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionReport, error)
}

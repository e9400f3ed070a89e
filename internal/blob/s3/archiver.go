package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// archivePartSize is the multipart chunk size for monthly archive dumps.
const archivePartSize int64 = 8 * 1024 * 1024

// OrderArchiveStore provides read access to settled orders for archival.
// The Postgres order store satisfies this through its ListBefore method.
type OrderArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ParentOrder, error)
}

// ReportArchiveStore provides read access to execution reports for archival.
type ReportArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionReport, error)
}

// ArchiveImpl implements domain.Archiver by querying the stores for aged
// records, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here; that is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	orders  OrderArchiveStore
	reports ReportArchiveStore
	logger  *slog.Logger
}

// NewArchiver creates a new ArchiveImpl. orders and reports may be nil when
// the corresponding store is not configured.
func NewArchiver(writer domain.BlobWriter, orders OrderArchiveStore, reports ReportArchiveStore, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		orders:  orders,
		reports: reports,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveOrders queries settled orders before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at archive/orders/YYYY-MM.jsonl. The
// count of archived records is returned.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	if a.orders == nil {
		return 0, nil
	}

	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(orders)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders marshal: %w", err)
	}

	path := archivePath("orders", before)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), "application/x-ndjson", archivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive orders upload: %w", err)
	}

	count := int64(len(orders))
	a.logger.Info("orders archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// ArchiveReports queries execution reports before the cutoff, serializes them
// to JSONL, and uploads the file to S3 at archive/reports/YYYY-MM.jsonl. The
// count of archived records is returned.
func (a *ArchiveImpl) ArchiveReports(ctx context.Context, before time.Time) (int64, error) {
	if a.reports == nil {
		return 0, nil
	}

	reports, err := a.reports.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive reports query: %w", err)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(reports)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive reports marshal: %w", err)
	}

	path := archivePath("reports", before)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), "application/x-ndjson", archivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive reports upload: %w", err)
	}

	count := int64(len(reports))
	a.logger.Info("reports archived",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// ArchiveEvicted uploads a single execution report evicted from the in-memory
// analytics window. Reports are appended under archive/evicted/ keyed by
// report id so no history is lost when the window rolls.
func (a *ArchiveImpl) ArchiveEvicted(ctx context.Context, report domain.ExecutionReport) error {
	buf, err := marshalJSONL([]domain.ExecutionReport{report})
	if err != nil {
		return fmt.Errorf("s3blob: archive evicted marshal: %w", err)
	}

	path := fmt.Sprintf("archive/evicted/%s/%s.jsonl", report.CreatedAt.Format("2006-01"), report.ID)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive evicted upload: %w", err)
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/orders/2026-08.jsonl
//	archive/reports/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tdmboyd-dev/smartrouter/internal/domain"
)

// quoteTTL bounds how long a mirrored quote stays readable. Quotes are
// refreshed every aggregation cycle, so stale entries mean a dead venue.
const quoteTTL = 30 * time.Second

// QuoteCache implements domain.QuoteCache using Redis hashes. Each venue
// quote is stored at key "quote:{venueID}:{symbol}" with bid/ask fields and
// a Unix nanosecond timestamp.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(venueID, symbol string) string {
	return "quote:" + venueID + ":" + symbol
}

// SetQuote stores the latest top of book for a venue and symbol.
func (qc *QuoteCache) SetQuote(ctx context.Context, venueID, symbol string, q domain.Quote) error {
	key := quoteKey(venueID, symbol)
	fields := map[string]interface{}{
		"bid":      strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":      strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"bid_size": strconv.FormatFloat(q.BidSize, 'f', -1, 64),
		"ask_size": strconv.FormatFloat(q.AskSize, 'f', -1, 64),
		"ts":       strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}

	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s %s: %w", venueID, symbol, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a venue and symbol. It returns
// domain.ErrNotFound when the key does not exist or has expired.
func (qc *QuoteCache) GetQuote(ctx context.Context, venueID, symbol string) (domain.Quote, error) {
	key := quoteKey(venueID, symbol)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s %s: %w", venueID, symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	var q domain.Quote
	if q.Bid, err = parseField(vals, "bid"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s %s: %w", venueID, symbol, err)
	}
	if q.Ask, err = parseField(vals, "ask"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s %s: %w", venueID, symbol, err)
	}
	if q.BidSize, err = parseField(vals, "bid_size"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s %s: %w", venueID, symbol, err)
	}
	if q.AskSize, err = parseField(vals, "ask_size"); err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s %s: %w", venueID, symbol, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: quote %s %s: parse ts: %w", venueID, symbol, err)
	}
	q.Timestamp = time.Unix(0, tsNano)

	return q, nil
}

func parseField(vals map[string]string, field string) (float64, error) {
	s, ok := vals[field]
	if !ok {
		return 0, domain.ErrNotFound
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return f, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)

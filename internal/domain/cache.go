package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to the latest per-venue quotes, keyed by
// venue id and symbol.
type QuoteCache interface {
	SetQuote(ctx context.Context, venueID, symbol string, q Quote) error
	GetQuote(ctx context.Context, venueID, symbol string) (Quote, error)
}

// SignalBus is the engine's pub/sub surface. The in-memory implementation is
// the default; the Redis implementation mirrors events to external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter throttles request sources against a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

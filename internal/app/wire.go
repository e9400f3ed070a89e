package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/tdmboyd-dev/smartrouter/internal/blob/s3"
	"github.com/tdmboyd-dev/smartrouter/internal/bus"
	"github.com/tdmboyd-dev/smartrouter/internal/cache/redis"
	"github.com/tdmboyd-dev/smartrouter/internal/config"
	"github.com/tdmboyd-dev/smartrouter/internal/domain"
	"github.com/tdmboyd-dev/smartrouter/internal/notify"
	"github.com/tdmboyd-dev/smartrouter/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the operating modes
// need. Everything except SignalBus is optional: nil fields simply disable
// the feature they back. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores (Postgres, when enabled)
	OrderStore  domain.OrderStore
	ReportStore domain.ReportStore

	// Caches and pub/sub (Redis when enabled, in-memory bus otherwise)
	QuoteCache  domain.QuoteCache
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage (S3, when enabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.ArchiveImpl

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (settled orders and execution reports) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.ReportStore = postgres.NewReportStore(pool)
		logger.Info("postgres wired")
	}

	// --- Redis (quote mirror, event fan-out, rate limiting) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.QuoteCache = redis.NewQuoteCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		logger.Info("redis wired", slog.String("addr", cfg.Redis.Addr))
	} else {
		deps.SignalBus = bus.NewMemory()
	}

	// --- S3-compatible blob storage (archival) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)

		// Monthly archives need the stores; the eviction hook only needs
		// the writer, so the archiver is built either way.
		deps.Archiver = s3blob.NewArchiver(writer, deps.OrderStore, deps.ReportStore, logger)
		logger.Info("s3 wired", slog.String("bucket", cfg.S3.Bucket))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
		logger.Info("notifier wired", slog.Int("senders", len(senders)))
	}

	return deps, cleanup, nil
}

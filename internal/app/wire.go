package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/suhyunle/coin-trader/internal/blob/s3"
	"github.com/suhyunle/coin-trader/internal/cache/redis"
	"github.com/suhyunle/coin-trader/internal/config"
	"github.com/suhyunle/coin-trader/internal/domain"
	"github.com/suhyunle/coin-trader/internal/notify"
	"github.com/suhyunle/coin-trader/internal/server/handler"
	"github.com/suhyunle/coin-trader/internal/store/memory"
	"github.com/suhyunle/coin-trader/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. Stores always
// exist (in memory when postgres is off); caches, the bus and blob storage
// are nil unless their backend is enabled.
type Dependencies struct {
	// Stores
	CandleStore domain.CandleStore
	TradeStore  domain.TradeStore
	AuditStore  domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	RateLimiter domain.RateLimiter
	LockManager *redis.LockManager
	SignalBus   domain.SignalBus

	// Object storage: report archive and backtest candle files.
	Reports domain.ReportBucket
	Candles domain.CandleBucket

	Notifier *notify.Notifier

	// Checks feed GET /api/health, one per enabled backend.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL, falling back to memory ---
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
		deps.CandleStore = postgres.NewCandleStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	} else {
		logger.InfoContext(ctx, "postgres disabled, using in-memory stores")
		deps.CandleStore = memory.NewCandleStore()
		deps.TradeStore = memory.NewTradeStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis ---
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

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.BookCache = redis.NewOrderbookCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient, logger)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		bucket, err := s3blob.NewBucket(ctx, s3blob.BucketConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Name:           cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Reports = bucket
		deps.Candles = bucket
		deps.Checks["s3"] = bucket.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

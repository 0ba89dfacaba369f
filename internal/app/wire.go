package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/predictbook/internal/blob/s3"
	"github.com/alanyoungcy/predictbook/internal/cache/redis"
	"github.com/alanyoungcy/predictbook/internal/config"
	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/notify"
	"github.com/alanyoungcy/predictbook/internal/server/handler"
	"github.com/alanyoungcy/predictbook/internal/service"
	"github.com/alanyoungcy/predictbook/internal/store/memory"
	"github.com/alanyoungcy/predictbook/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Cache, bus and blob fields are nil when their backend is
// not configured.
type Dependencies struct {
	// Stores
	Tx      domain.TxStore
	Markets domain.MarketStore
	Orders  domain.OrderStore
	Trades  domain.TradeStore
	Fills   domain.FillStore
	Traders domain.TraderStore
	Audit   domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	MarketCache domain.MarketCache
	DepthCache  service.DepthCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	Archiver      domain.Archiver
	ArchiveReader domain.ArchiveReader

	// Notifications
	Notifier *notify.Notifier

	// Checks are pinged by GET /api/health.
	Checks map[string]handler.Pinger
}

// Sinks returns the post-commit side-effect destinations for the services.
func (d *Dependencies) Sinks() service.Sinks {
	return service.Sinks{
		Bus:     d.SignalBus,
		Prices:  d.PriceCache,
		Audit:   d.Audit,
		Markets: d.MarketCache,
		Depth:   d.DepthCache,
	}
}

// needsS3 returns true when the mode runs the archiver, or when an
// enabled archive should be served back by the API.
func needsS3(cfg *config.Config) bool {
	if strings.EqualFold(cfg.Mode, "archive") {
		return true
	}
	return cfg.Archive.Enabled
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

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- Primary store ---
	switch strings.ToLower(cfg.Store) {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart")
		s := memory.New(cfg.Engine.LockTimeout.Duration)
		deps.Tx = s
		deps.Markets = s.Markets()
		deps.Orders = s.Orders()
		deps.Trades = s.Trades()
		deps.Fills = s.Fills()
		deps.Traders = s.Traders()
		deps.Audit = s.Audit()

	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:         cfg.Postgres.DSN,
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			Database:    cfg.Postgres.Database,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			SSLMode:     cfg.Postgres.SSLMode,
			MaxConns:    cfg.Postgres.PoolMaxConns,
			MinConns:    cfg.Postgres.PoolMinConns,
			LockTimeout: cfg.Engine.LockTimeout.Duration,
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
		deps.Tx = pgClient.TxStore()
		deps.Markets = postgres.NewMarketStore(pool)
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Fills = postgres.NewFillStore(pool)
		deps.Traders = postgres.NewTraderStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient
	}

	// --- Redis (optional) ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketTTL.Duration)
		deps.DepthCache = redis.NewDepthCache(redisClient, cfg.Redis.DepthTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient
	} else {
		logger.InfoContext(ctx, "redis disabled: no caches, event bus or rate limiting")
	}

	// --- S3 blob storage (archiver and archive read-back) ---
	if needsS3(cfg) {
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
		archive := s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Trades,
			deps.Fills,
			deps.Orders,
			deps.Audit,
		)
		deps.Archiver = archive
		deps.ArchiveReader = archive
		deps.Checks["s3"] = s3Pinger{s3Client}
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

// s3Pinger adapts the bucket health check to handler.Pinger.
type s3Pinger struct{ c *s3blob.Client }

func (p s3Pinger) Ping(ctx context.Context) error { return p.c.Health(ctx) }

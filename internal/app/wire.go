package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/polyarb/internal/blob/s3"
	"github.com/alanyoungcy/polyarb/internal/cache/redis"
	"github.com/alanyoungcy/polyarb/internal/config"
	"github.com/alanyoungcy/polyarb/internal/domain"
	"github.com/alanyoungcy/polyarb/internal/notify"
	"github.com/alanyoungcy/polyarb/internal/server/handler"
	"github.com/alanyoungcy/polyarb/internal/server/middleware"
	"github.com/alanyoungcy/polyarb/internal/store/pebble"
	"github.com/alanyoungcy/polyarb/internal/store/postgres"
	"github.com/alanyoungcy/polyarb/internal/stream/kafka"
)

// Dependencies holds the optional infrastructure behind the core. Every
// field may be nil when its backend is disabled.
type Dependencies struct {
	// Journal persists positions. Postgres when enabled, else Pebble when
	// journal.dir is set, else nil (memory only).
	Journal    domain.PositionJournal
	Executions domain.ExecutionStore
	Audit      domain.AuditStore

	Locks   domain.LockManager
	Mirror  domain.BookMirror
	Limiter middleware.Limiter

	// Publisher fans events out to Redis pub/sub and Kafka.
	Publisher domain.EventPublisher
	Archiver  *s3blob.Archiver
	Notifier  *notify.Notifier

	// Health checks backends for /api/health.
	Health map[string]handler.Check
}

// Wire connects the configured backends and returns them with a cleanup
// function that closes them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: map[string]handler.Check{}}

	// --- Postgres ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pg.Pool()
		deps.Journal = postgres.NewPositionJournal(pool)
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pg.Ping
	} else if cfg.Journal.Dir != "" {
		// --- Pebble journal ---
		j, err := pebble.Open(cfg.Journal.Dir)
		if err != nil {
			return fail(fmt.Errorf("wire: journal: %w", err))
		}
		closers = append(closers, func() {
			if err := j.Close(); err != nil {
				logger.Warn("wire: close journal", slog.String("error", err.Error()))
			}
		})
		deps.Journal = j
	}

	// --- Redis ---
	var redisBus domain.EventPublisher
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Locks = redis.NewLockManager(rc)
		deps.Limiter = redis.NewRateLimiter(rc)
		if cfg.Redis.MirrorBooks {
			deps.Mirror = redis.NewBookMirror(rc)
		}
		redisBus = channelPublisher{bus: redis.NewEventBus(rc), channel: cfg.Redis.EventChannel}
		deps.Health["redis"] = rc.Ping
	}

	// --- Kafka ---
	var kafkaBus domain.EventPublisher
	if cfg.Kafka.Enabled {
		p, err := kafka.NewProducer(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			TopicPrefix:  cfg.Kafka.TopicPrefix,
			WriteTimeout: cfg.Kafka.WriteTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: kafka: %w", err))
		}
		closers = append(closers, func() {
			if err := p.Close(); err != nil {
				logger.Warn("wire: close kafka producer", slog.String("error", err.Error()))
			}
		})
		kafkaBus = p
	}
	deps.Publisher = newPublisher(redisBus, kafkaBus)

	// --- S3 archive ---
	if cfg.S3.Enabled {
		if deps.Journal == nil {
			logger.Warn("wire: s3 archive needs a position journal, archive disabled")
		} else {
			sc, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
			})
			if err != nil {
				return fail(fmt.Errorf("wire: s3: %w", err))
			}
			var execs s3blob.ExecutionSource
			if deps.Executions != nil {
				execs = deps.Executions
			}
			deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.Journal, execs, deps.Audit, logger)
			deps.Health["s3"] = sc.Health
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(notify.TelegramAPI, cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.QueueSize, logger)

	return deps, cleanup, nil
}

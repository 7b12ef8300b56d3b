package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/leadflow/internal/adapters/http/api"
	"github.com/okian/leadflow/internal/adapters/notifier/natsnotify"
	"github.com/okian/leadflow/internal/adapters/repository/postgres"
	"github.com/okian/leadflow/internal/config"
	"github.com/okian/leadflow/pkg/logger"
)

// OptionsFromConfig translates cfg into service options, connecting to the
// external backends it names. Connections opened before a failure are
// closed before returning.
func OptionsFromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (opts []Option, err error) {
	var cleanup []func() error
	defer func() {
		if err != nil {
			for _, c := range cleanup {
				_ = c()
			}
		}
	}()

	opts = []Option{
		WithLogger(log),
		WithWorkerCount(cfg.WorkerCount),
		WithQueueSize(cfg.QueueSize),
		WithDedupeSize(cfg.DedupeSize),
		WithConflictRetries(cfg.ConflictRetries),
		WithDefaultRules(cfg.DefaultRules),
		WithReconcile(cfg.ReconcileInterval(), cfg.ReconcileGrace()),
		WithRecalcOnRuleChange(cfg.RecalcOnRuleChange),
		WithAPIOptions(
			api.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
			api.WithIngestRateLimit(cfg.IngestRateLimit, cfg.IngestBurst),
			api.WithMaxUploadBytes(cfg.MaxUploadBytes),
			api.WithCORSOrigins(cfg.CORSOrigins),
		),
	}

	if cfg.Store == config.StorePostgres {
		store, err := postgres.Open(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		cleanup = append(cleanup, store.Close)
		opts = append(opts, WithStore(store))
		log.Info(ctx, "using postgres store")
	} else {
		log.Info(ctx, "using in-memory store")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cleanup = append(cleanup, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, WithRedisLock(client, cfg.LockTTL()))
		log.Info(ctx, "using redis lead lock", logger.String("addr", cfg.RedisAddr))
	}

	if cfg.NatsURL != "" {
		pub, err := natsnotify.Connect(cfg.NatsURL, log.Named("nats"))
		if err != nil {
			return nil, err
		}
		cleanup = append(cleanup, pub.Close)
		opts = append(opts, WithPublisher(pub))
		log.Info(ctx, "publishing score updates to nats", logger.String("url", cfg.NatsURL))
	}

	return opts, nil
}

// Package bootstrap wires configuration into the stores, locks and publishers shared by
// every binary.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pharmstock/internal/config"
	"pharmstock/internal/core"
	"pharmstock/internal/db"
	"pharmstock/internal/lock"
	"pharmstock/internal/messaging"
)

// CloseFunc releases a resource opened by this package.
type CloseFunc func()

// OpenStore returns the store selected by cfg.Store. For Postgres it connects the pool
// and, when cfg.AutoMigrate is set, applies pending migrations first.
func OpenStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (core.Store, CloseFunc, error) {
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory store, inventory is lost on restart")
		return core.NewMemoryStore(), func() {}, nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool, log); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return core.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// NewLocker returns a Redis-backed sweeper lock, or nil when REDIS_ADDR is unset.
func NewLocker(ctx context.Context, cfg config.Config, log zerolog.Logger) (core.Locker, CloseFunc, error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("REDIS_ADDR not set, every replica sweeps independently")
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	return lock.NewRedisLocker(client), func() { _ = client.Close() }, nil
}

// NewAlertPublisher returns a Kafka publisher when brokers are configured and a
// log publisher otherwise.
func NewAlertPublisher(cfg config.Config, log zerolog.Logger) (core.AlertPublisher, CloseFunc) {
	if len(cfg.KafkaBrokers) == 0 {
		return core.LogAlertPublisher{Log: log.With().Str("component", "restock_alerts").Logger()}, func() {}
	}
	pub := messaging.NewKafkaAlertPublisher(messaging.NewWriter(cfg.KafkaBrokers, cfg.KafkaRestockTopic))
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close kafka writer")
		}
	}
}

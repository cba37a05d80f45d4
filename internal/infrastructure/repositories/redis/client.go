package redis

import (
	"context"
	"fmt"
	"time"

	"rolechat/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientOptions describes the Redis connection shared by the role store,
// channel log, presence registry and event bus.
type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// Connect bounds the ping retries made before giving up.
	Connect retry.Config
}

// Connect dials Redis, waits for it to answer and brings the schema up to
// date. The caller owns the returned client.
func Connect(ctx context.Context, opts ClientOptions, migrate MigrateOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: min(opts.PoolSize, 5),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	err := retry.Retry(ctx, opts.Connect, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Address, err)
	}

	if err := Migrate(ctx, client, migrate, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Infow("Connected to Redis", "address", opts.Address, "db", opts.DB, "pool_size", opts.PoolSize)
	return client, nil
}

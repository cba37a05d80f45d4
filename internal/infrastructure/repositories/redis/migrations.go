package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/pkg/distributed"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "rolechat:schema:version"
	currentSchemaVersion = 2
	migrationLockTTL     = 30 * time.Second
)

// MigrateOptions scopes migrations to one tenant.
type MigrateOptions struct {
	Tenant string
}

// Migration represents a schema migration
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client, opts MigrateOptions) error
	Down    func(ctx context.Context, client *redis.Client, opts MigrateOptions) error
}

// Migrate runs all pending migrations. Instances starting together
// serialize on a lock so each migration runs once.
func Migrate(ctx context.Context, client *redis.Client, opts MigrateOptions, logger *zap.SugaredLogger) error {
	if opts.Tenant == "" {
		opts.Tenant = domain.DefaultTenant
	}

	locks := distributed.NewLockManager(client, "rolechat:lock:")
	return locks.WithLock(ctx, "migrate", migrationLockTTL, func(ctx context.Context) error {
		return migrate(ctx, client, opts, logger)
	})
}

func migrate(ctx context.Context, client *redis.Client, opts MigrateOptions, logger *zap.SugaredLogger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Infow("schema is up to date",
				"current_version", currentVersion,
				"target_version", currentSchemaVersion,
			)
		}
		return nil
	}

	for _, migration := range getMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		if logger != nil {
			logger.Infow("running migration", "version", migration.Version)
		}

		if err := migration.Up(ctx, client, opts); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}

		if logger != nil {
			logger.Infow("migration completed", "version", migration.Version)
		}
	}

	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

// getMigrations returns all migrations in order
func getMigrations() []Migration {
	return []Migration{
		{
			// The general and mod channels must exist for sign-in and role
			// transitions to work.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client, opts MigrateOptions) error {
				keys := newKeyspace(opts.Tenant)
				for _, channel := range []string{domain.DefaultChannelKey, domain.ModChannelKey} {
					if _, err := ensureChannel(ctx, client, keys, channel); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(ctx context.Context, client *redis.Client, opts MigrateOptions) error {
				keys := newKeyspace(opts.Tenant)
				return client.HDel(ctx, keys.resources(), domain.DefaultChannelKey, domain.ModChannelKey).Err()
			},
		},
		{
			// Users created before the index existed are added to it.
			Version: 2,
			Up: func(ctx context.Context, client *redis.Client, opts MigrateOptions) error {
				keys := newKeyspace(opts.Tenant)
				iter := client.Scan(ctx, 0, keys.userPattern(), 100).Iterator()
				for iter.Next(ctx) {
					key := keys.userKeyFromHash(iter.Val())
					if key == "" {
						continue
					}
					created, err := client.HGet(ctx, iter.Val(), fieldCreatedAt).Int64()
					if err != nil && !errors.Is(err, redis.Nil) {
						return err
					}
					if err := client.ZAddNX(ctx, keys.users(), redis.Z{Score: float64(created), Member: key}).Err(); err != nil {
						return err
					}
				}
				return iter.Err()
			},
			Down: func(ctx context.Context, client *redis.Client, opts MigrateOptions) error {
				return client.Del(ctx, newKeyspace(opts.Tenant).users()).Err()
			},
		},
	}
}

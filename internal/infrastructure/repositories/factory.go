package repositories

import (
	"context"
	"fmt"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/internal/infrastructure/distributed"
	"rolechat/internal/infrastructure/reliability"
	"rolechat/internal/infrastructure/repositories/memory"
	"rolechat/internal/infrastructure/repositories/permit"
	redisrepo "rolechat/internal/infrastructure/repositories/redis"
	"rolechat/pkg/circuitbreaker"
	"rolechat/pkg/config"
	"rolechat/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisConnectTimeout = 15 * time.Second

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	cfg         *config.Config
	useRedis    bool
	redisClient *redis.Client
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. When Redis is
// enabled but unreachable the factory falls back to memory repositories,
// unless the authorization provider itself is Redis.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		cfg:      cfg,
		useRedis: cfg.Redis.Enabled,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		connectCfg := retry.DefaultConfig()
		connectCfg.InitialDelay = 200 * time.Millisecond
		connectCfg.MaxDelay = 2 * time.Second

		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		client, err := redisrepo.Connect(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Connect:  connectCfg,
		}, redisrepo.MigrateOptions{Tenant: cfg.Authz.Tenant}, logger)
		cancel()
		if err != nil {
			if cfg.Authz.Provider == "redis" {
				return nil, fmt.Errorf("redis authorization provider: %w", err)
			}
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateAuthorizer creates the role store for the configured provider.
// Remote providers are wrapped with timeout, retry and circuit breaking.
func (f *RepositoryFactory) CreateAuthorizer(ctx context.Context) (ports.Authorizer, error) {
	authz := f.cfg.Authz
	seeds := append([]string{domain.DefaultChannelKey, domain.ModChannelKey}, authz.SeedChannels...)

	switch authz.Provider {
	case "", "memory":
		f.logger.Infow("using memory role store", "channels", seeds)
		return memory.NewRoleStore(authz.Tenant, seeds...), nil

	case "redis":
		store := redisrepo.NewRoleStore(f.redisClient, authz.Tenant)
		for _, key := range seeds {
			if _, err := store.EnsureChannel(ctx, key); err != nil {
				return nil, fmt.Errorf("seed channel %s: %w", key, err)
			}
		}
		f.logger.Infow("using Redis role store", "tenant", authz.Tenant)
		return f.withReliability(store), nil

	case "permit":
		store, err := permit.NewRoleStore(permit.Config{
			APIURL:      authz.PermitAPIURL,
			PDPURL:      authz.PermitPDPURL,
			APIKey:      authz.PermitAPIKey,
			Project:     authz.PermitProject,
			Environment: authz.PermitEnvironment,
			Tenant:      authz.Tenant,
			Timeout:     f.cfg.Reliability.CallTimeout,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		f.logger.Infow("using Permit role store", "pdp", authz.PermitPDPURL)
		return f.withReliability(store), nil

	default:
		return nil, fmt.Errorf("unknown authorization provider %q", authz.Provider)
	}
}

func (f *RepositoryFactory) withReliability(store ports.Authorizer) ports.Authorizer {
	rel := f.cfg.Reliability

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = rel.Retry.MaxAttempts
	retryCfg.InitialDelay = rel.Retry.InitialDelay
	retryCfg.MaxDelay = rel.Retry.MaxDelay
	retryCfg.Multiplier = rel.Retry.Multiplier

	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = rel.CircuitBreaker.MaxFailures
	cbCfg.Timeout = rel.CircuitBreaker.ResetTimeout

	return reliability.NewRoleStoreWrapper(store, rel.CallTimeout, retryCfg, cbCfg, f.logger)
}

// CreateChannelLog creates the realtime message log (Redis Streams or memory)
func (f *RepositoryFactory) CreateChannelLog() ports.ChannelLog {
	max := int(f.cfg.Realtime.MaxMessagesPerChannel)
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewChannelLog(f.redisClient, max)
	}
	return memory.NewChannelLog(max)
}

// CreatePresenceRegistry creates a presence registry shared across
// instances when Redis is available.
func (f *RepositoryFactory) CreatePresenceRegistry(instanceID string) ports.PresenceRegistry {
	if f.useRedis && f.redisClient != nil {
		return distributed.NewSharedPresenceRegistry(f.redisClient, instanceID, f.logger)
	}
	return memory.NewPresence()
}

// CreateMessageBus returns the cross-instance bus, or nil when this
// instance runs alone.
func (f *RepositoryFactory) CreateMessageBus(instanceID string) ports.MessageBus {
	if f.useRedis && f.redisClient != nil {
		return distributed.NewEventBus(f.redisClient, f.cfg.Authz.Tenant, instanceID, f.logger)
	}
	return nil
}

// RedisClient returns the shared client, nil when Redis is not in use.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if f.useRedis {
		return f.redisClient
	}
	return nil
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}

package monitoring

import (
	"context"
	"fmt"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck pings Redis. It is optional: the role store and channel log
// checks already cover Redis when they depend on it.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddOptionalCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddRoleStoreCheck verifies the authorization backend answers a resource
// listing.
func (h *HealthChecker) AddRoleStoreCheck(store ports.RoleStore, interval, timeout time.Duration) {
	h.AddCheck("role_store", func(ctx context.Context) error {
		_, err := store.ListResourceInstances(ctx)
		return err
	}, interval, timeout)
}

// AddBreakerCheck degrades health while the circuit breaker guarding the
// authorization service is open.
func (h *HealthChecker) AddBreakerCheck(name string, stats func() circuitbreaker.Stats, interval time.Duration) {
	h.AddOptionalCheck(name, func(ctx context.Context) error {
		s := stats()
		if s.State != circuitbreaker.StateOpen {
			return nil
		}
		return fmt.Errorf("circuit open since %s", s.StateChangeTime.UTC().Format(time.RFC3339))
	}, interval, time.Second)
}

// AddChannelLogCheck verifies the message log can serve history.
func (h *HealthChecker) AddChannelLogCheck(log ports.ChannelLog, interval, timeout time.Duration) {
	h.AddCheck("channel_log", func(ctx context.Context) error {
		_, err := log.History(ctx, "chat:health", domain.HistoryQuery{Limit: 1})
		return err
	}, interval, timeout)
}

// IsReady reports whether the service can take traffic; a degraded service
// still can.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status != StatusUnhealthy
}

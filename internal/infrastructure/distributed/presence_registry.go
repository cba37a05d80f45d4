package distributed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"rolechat/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const presenceTTL = 5 * time.Minute

// SharedPresenceRegistry keeps channel presence in Redis so every gateway
// instance sees the same members. Each channel is a hash of
// "<instance>/<connection>" to client id; entries of instances that stop
// refreshing expire with the hash.
type SharedPresenceRegistry struct {
	client     *redis.Client
	instanceID string
	logger     *zap.SugaredLogger
	prefix     string
}

var _ ports.PresenceRegistry = (*SharedPresenceRegistry)(nil)

// NewSharedPresenceRegistry creates a new shared presence registry
func NewSharedPresenceRegistry(
	client *redis.Client,
	instanceID string,
	logger *zap.SugaredLogger,
) *SharedPresenceRegistry {
	return &SharedPresenceRegistry{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
		prefix:     "rolechat:presence:",
	}
}

func (r *SharedPresenceRegistry) Enter(ctx context.Context, channel, clientID, connectionID string) error {
	key := r.channelKey(channel)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, r.field(connectionID), clientID)
		pipe.Expire(ctx, key, presenceTTL)
		pipe.SAdd(ctx, r.instanceChannelsKey(), channel)
		pipe.Expire(ctx, r.instanceChannelsKey(), presenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enter presence: %w", err)
	}
	return nil
}

func (r *SharedPresenceRegistry) Leave(ctx context.Context, channel, connectionID string) error {
	if err := r.client.HDel(ctx, r.channelKey(channel), r.field(connectionID)).Err(); err != nil {
		return fmt.Errorf("failed to leave presence: %w", err)
	}
	return nil
}

func (r *SharedPresenceRegistry) Members(ctx context.Context, channel string) ([]string, error) {
	entries, err := r.client.HGetAll(ctx, r.channelKey(channel)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	members := make([]string, 0, len(entries))
	for _, client := range entries {
		if !seen[client] {
			seen[client] = true
			members = append(members, client)
		}
	}
	sort.Strings(members)
	return members, nil
}

// Refresh extends the TTL of every channel this instance has members in.
func (r *SharedPresenceRegistry) Refresh(ctx context.Context) error {
	channels, err := r.client.SMembers(ctx, r.instanceChannelsKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance channels: %w", err)
	}

	pipe := r.client.Pipeline()
	for _, channel := range channels {
		pipe.Expire(ctx, r.channelKey(channel), presenceTTL)
	}
	pipe.Expire(ctx, r.instanceChannelsKey(), presenceTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// CleanupInstance removes every entry this instance registered (e.g., on
// shutdown)
func (r *SharedPresenceRegistry) CleanupInstance(ctx context.Context) error {
	channels, err := r.client.SMembers(ctx, r.instanceChannelsKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list instance channels: %w", err)
	}

	ownPrefix := r.instanceID + "/"
	for _, channel := range channels {
		fields, err := r.client.HKeys(ctx, r.channelKey(channel)).Result()
		if err != nil {
			r.logger.Warnw("failed to read presence during cleanup",
				"channel", channel,
				"error", err,
			)
			continue
		}
		var own []string
		for _, f := range fields {
			if strings.HasPrefix(f, ownPrefix) {
				own = append(own, f)
			}
		}
		if len(own) > 0 {
			r.client.HDel(ctx, r.channelKey(channel), own...)
		}
	}

	return r.client.Del(ctx, r.instanceChannelsKey()).Err()
}

// StartRefresh refreshes presence TTLs until ctx is done.
func (r *SharedPresenceRegistry) StartRefresh(ctx context.Context) {
	ticker := time.NewTicker(presenceTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warnw("failed to refresh presence", "error", err)
			}
		}
	}
}

func (r *SharedPresenceRegistry) channelKey(channel string) string {
	return r.prefix + channel
}

func (r *SharedPresenceRegistry) field(connectionID string) string {
	return r.instanceID + "/" + connectionID
}

func (r *SharedPresenceRegistry) instanceChannelsKey() string {
	return fmt.Sprintf("rolechat:instance:%s:presence", r.instanceID)
}

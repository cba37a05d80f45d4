package services

import (
	"context"
	"fmt"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/cache"
)

const resourceCacheKey = "resource_instances"

// ResourceResolver maps channel keys to the authorization service's
// resource instances. With a positive TTL the listing is cached and
// refreshed once when a key is missing.
type ResourceResolver struct {
	store ports.RoleStore
	cache *cache.Cache[[]domain.ResourceInstance]
}

func NewResourceResolver(store ports.RoleStore, ttl time.Duration) *ResourceResolver {
	r := &ResourceResolver{store: store}
	if ttl > 0 {
		r.cache = cache.New[[]domain.ResourceInstance](ttl)
	}
	return r
}

func (r *ResourceResolver) List(ctx context.Context) ([]domain.ResourceInstance, error) {
	if r.cache == nil {
		return r.store.ListResourceInstances(ctx)
	}
	return r.cache.GetOrLoad(ctx, resourceCacheKey, r.store.ListResourceInstances)
}

// Lookup finds the channel instance with the given key.
func (r *ResourceResolver) Lookup(ctx context.Context, key string) (domain.ResourceInstance, error) {
	instances, err := r.List(ctx)
	if err != nil {
		return domain.ResourceInstance{}, err
	}
	if inst, ok := findChannel(instances, key); ok {
		return inst, nil
	}

	if r.cache != nil {
		r.cache.Delete(resourceCacheKey)
		if instances, err = r.List(ctx); err != nil {
			return domain.ResourceInstance{}, err
		}
		if inst, ok := findChannel(instances, key); ok {
			return inst, nil
		}
	}

	return domain.ResourceInstance{}, fmt.Errorf("%w: channel %q", domain.ErrResourceNotFound, key)
}

// ResolveWithMod resolves a channel together with the reserved mod channel.
func (r *ResourceResolver) ResolveWithMod(ctx context.Context, key string) (channel, mod domain.ResourceInstance, err error) {
	if channel, err = r.Lookup(ctx, key); err != nil {
		return channel, mod, err
	}
	if mod, err = r.Lookup(ctx, domain.ModChannelKey); err != nil {
		return channel, mod, err
	}
	return channel, mod, nil
}

func (r *ResourceResolver) Close() {
	if r.cache != nil {
		r.cache.Stop()
	}
}

func findChannel(instances []domain.ResourceInstance, key string) (domain.ResourceInstance, bool) {
	for _, inst := range instances {
		if inst.Key == key && (inst.Resource == "" || inst.Resource == domain.ResourceTypeChannel) {
			return inst, true
		}
	}
	return domain.ResourceInstance{}, false
}

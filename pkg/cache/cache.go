// Package cache is a small in-process TTL cache shared by the resolvers and
// the HTTP rate limiter.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

const minCleanupInterval = time.Second

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache maps string keys to values that expire after a TTL. Safe for
// concurrent use.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// New starts a cache whose entries live for ttl unless stored with their own.
// Call Stop to release the sweeper goroutine.
func New[V any](ttl time.Duration) *Cache[V] {
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweep(max(ttl/2, minCleanupInterval))
	return c
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Touch returns the live value for key, pushing its expiry a full TTL
// forward, or stores and returns create() when there is none. Entries used
// this way only expire once they go idle.
func (c *Cache[V]) Touch(key string, create func() V) V {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok && !now.After(e.expiresAt) {
		e.expiresAt = now.Add(c.ttl)
		return e.value
	}
	e := &entry[V]{value: create(), expiresAt: now.Add(c.ttl)}
	c.entries[key] = e
	return e.value
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Invalidate drops every key with the given prefix. An empty prefix drops
// only expired entries.
func (c *Cache[V]) Invalidate(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if prefix == "" && now.After(e.expiresAt) || prefix != "" && strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Failed loads are not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	value, err := load(ctx)
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, value)
	return value, nil
}

func (c *Cache[V]) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Invalidate("")
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Size counts stored entries, including expired ones not yet swept.
func (c *Cache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

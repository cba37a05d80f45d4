package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockTimeout = errors.New("lock acquisition timeout")
	ErrNotHeld     = errors.New("lock was not held by this holder")
)

// Only the holder may delete its own lock.
var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock is a Redis SET NX lease that renews itself at half its
// TTL while held.
type DistributedLock struct {
	client *redis.Client
	key    string
	value  string // unique per holder
	ttl    time.Duration

	mu        sync.Mutex
	stopRenew chan struct{}
}

// NewDistributedLock creates a new distributed lock
func NewDistributedLock(client *redis.Client, key string, ttl time.Duration) *DistributedLock {
	return &DistributedLock{
		client: client,
		key:    key,
		value:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Lock acquires the lock, waiting at most 30 seconds.
func (l *DistributedLock) Lock(ctx context.Context) error {
	return l.LockWithTimeout(ctx, 30*time.Second)
}

// LockWithTimeout acquires the lock, polling until timeout elapses.
func (l *DistributedLock) LockWithTimeout(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		acquired, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, l.key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// TryLock attempts to acquire the lock without blocking
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return false, nil
	}

	l.mu.Lock()
	l.stopRenew = make(chan struct{})
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renew(stop)
	return true, nil
}

// Unlock releases the lock. Calling it twice returns ErrNotHeld.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if l.stopRenew != nil {
		close(l.stopRenew)
		l.stopRenew = nil
	}
	l.mu.Unlock()

	deleted, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return fmt.Errorf("failed to unlock: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

// renew runs detached from the acquiring context so a short-lived ctx does
// not drop a lock that is still in use.
func (l *DistributedLock) renew(stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			current, err := l.client.Get(ctx, l.key).Result()
			if err == nil && current == l.value {
				l.client.Expire(ctx, l.key, l.ttl)
			}
			cancel()
			if err != nil || current != l.value {
				return
			}
		}
	}
}

// IsLocked checks if the lock is currently held by anyone
func (l *DistributedLock) IsLocked(ctx context.Context) (bool, error) {
	exists, err := l.client.Exists(ctx, l.key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// LockManager hands out locks under a common key prefix.
type LockManager struct {
	client *redis.Client
	prefix string
}

// NewLockManager creates a new lock manager
func NewLockManager(client *redis.Client, prefix string) *LockManager {
	return &LockManager{
		client: client,
		prefix: prefix,
	}
}

// AcquireLock returns an unlocked lock for key.
func (lm *LockManager) AcquireLock(key string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(lm.client, lm.prefix+key, ttl)
}

// WithLock runs fn while holding the lock for key.
func (lm *LockManager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock := lm.AcquireLock(key, ttl)
	if err := lock.Lock(ctx); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock(context.WithoutCancel(ctx)) }()

	return fn(ctx)
}

package distributed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager_KeysAndHolders(t *testing.T) {
	lm := NewLockManager(nil, "rolechat:lock:")

	a := lm.AcquireLock("migrate", time.Second)
	b := lm.AcquireLock("migrate", time.Second)

	assert.Equal(t, "rolechat:lock:migrate", a.key)
	assert.Equal(t, a.key, b.key)
	assert.NotEqual(t, a.value, b.value, "each holder gets its own token")
}

// redisForTest connects to ROLECHAT_TEST_REDIS or skips.
func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ROLECHAT_TEST_REDIS")
	if addr == "" {
		t.Skip("ROLECHAT_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDistributedLock_Exclusive(t *testing.T) {
	client := redisForTest(t)
	ctx := context.Background()
	lm := NewLockManager(client, "rolechat:test:lock:"+t.Name()+":")

	first := lm.AcquireLock("migrate", 2*time.Second)
	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := lm.AcquireLock("migrate", 2*time.Second)
	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, second.Unlock(ctx), ErrNotHeld, "a non-holder cannot release")

	require.NoError(t, first.Unlock(ctx))
	assert.ErrorIs(t, first.Unlock(ctx), ErrNotHeld)

	locked, err := first.IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestLockManager_WithLockReleasesOnError(t *testing.T) {
	client := redisForTest(t)
	ctx := context.Background()
	lm := NewLockManager(client, "rolechat:test:lock:"+t.Name()+":")

	boom := errors.New("migration failed")
	err := lm.WithLock(ctx, "migrate", time.Second, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	locked, err := lm.AcquireLock("migrate", time.Second).IsLocked(ctx)
	require.NoError(t, err)
	assert.False(t, locked)
}

package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/infrastructure/repositories/memory"
	"rolechat/pkg/circuitbreaker"
	"rolechat/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// flakyStore fails GetAssignedRoles a fixed number of times.
type flakyStore struct {
	*memory.RoleStore
	failures int
	calls    int
	block    bool
}

func (f *flakyStore) GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.RoleStore.GetAssignedRoles(ctx, userKey)
}

func testRetryConfig() retry.Config {
	return retry.Config{
		Enabled:      true,
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newStore(t *testing.T) *memory.RoleStore {
	t.Helper()
	store := memory.NewRoleStore(domain.DefaultTenant, "general")
	_, err := store.SyncUser(context.Background(), domain.UserProfile{Key: "ada"})
	require.NoError(t, err)
	require.NoError(t, store.AssignRole(context.Background(), "ada", domain.RoleViewer, ""))
	return store
}

func TestRoleStoreWrapper_RetriesTransientFailures(t *testing.T) {
	inner := &flakyStore{RoleStore: newStore(t), failures: 2}
	w := NewRoleStoreWrapper(inner, time.Second, testRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	roles, err := w.GetAssignedRoles(context.Background(), "ada")
	require.NoError(t, err)
	assert.Len(t, roles, 1)
	assert.Equal(t, 3, inner.calls)
}

func TestRoleStoreWrapper_ClientErrorsPassThrough(t *testing.T) {
	w := NewRoleStoreWrapper(newStore(t), time.Second, testRetryConfig(), circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	_, err := w.GetUser(context.Background(), "ghost")
	assert.Equal(t, domain.ErrUserNotFound, err)

	err = w.AssignRole(context.Background(), "ada", domain.RoleModerator, "channel:nowhere")
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
	assert.Equal(t, circuitbreaker.StateClosed, w.GetCircuitBreakerStats().State)
}

func TestRoleStoreWrapper_TimeoutBoundsEachCall(t *testing.T) {
	inner := &flakyStore{RoleStore: newStore(t), block: true}
	cfg := testRetryConfig()
	cfg.Enabled = false
	w := NewRoleStoreWrapper(inner, 20*time.Millisecond, cfg, circuitbreaker.DefaultConfig(), zaptest.NewLogger(t).Sugar())

	start := time.Now()
	_, err := w.GetAssignedRoles(context.Background(), "ada")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRoleStoreWrapper_BreakerOpens(t *testing.T) {
	inner := &flakyStore{RoleStore: newStore(t), failures: 100}
	cfg := testRetryConfig()
	cfg.Enabled = false
	cb := circuitbreaker.DefaultConfig()
	cb.FailureThreshold = 2
	w := NewRoleStoreWrapper(inner, time.Second, cfg, cb, zaptest.NewLogger(t).Sugar())

	for i := 0; i < 2; i++ {
		_, err := w.GetAssignedRoles(context.Background(), "ada")
		require.Error(t, err)
	}

	_, err := w.GetAssignedRoles(context.Background(), "ada")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 2, inner.calls)
}

package reliability

import (
	"context"
	"errors"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/circuitbreaker"
	"rolechat/pkg/retry"

	"go.uber.org/zap"
)

// clientErrors are answers, not outages: never retried, never trip the
// breaker.
var clientErrors = []error{
	domain.ErrUserNotFound,
	domain.ErrResourceNotFound,
	domain.ErrPermissionDenied,
	domain.ErrInvalidMessage,
	context.Canceled,
}

func isClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// RoleStoreWrapper wraps an Authorizer with a per-call timeout, retry logic
// and a circuit breaker. Assign and unassign are idempotent so retrying them
// is safe.
type RoleStoreWrapper struct {
	store   ports.Authorizer
	logger  *zap.SugaredLogger
	timeout time.Duration

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

var _ ports.Authorizer = (*RoleStoreWrapper)(nil)

// NewRoleStoreWrapper creates a new wrapper with retry and circuit breaker
func NewRoleStoreWrapper(
	store ports.Authorizer,
	timeout time.Duration,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *RoleStoreWrapper {
	// ShouldRetry hands the error back unwrapped, so callers still see
	// "User not found" rather than a retry annotation.
	next := retryConfig.ShouldRetry
	retryConfig.ShouldRetry = func(err error) bool {
		if isClientError(err) || errors.Is(err, circuitbreaker.ErrOpen) {
			return false
		}
		return next == nil || next(err)
	}
	if retryConfig.OnRetry == nil {
		retryConfig.OnRetry = func(attempt int, err error) {
			logger.Warnw("retrying authorization call", "attempt", attempt, "error", err)
		}
	}
	cbConfig.IsFailure = func(err error) bool { return !isClientError(err) }

	w := &RoleStoreWrapper{
		store:          store,
		logger:         logger,
		timeout:        timeout,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	w.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func call[T any](ctx context.Context, w *RoleStoreWrapper, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.RetryWithResult(ctx, w.retryConfig, func() (T, error) {
		return circuitbreaker.Call(ctx, w.circuitBreaker, func() (T, error) {
			if w.timeout <= 0 {
				return fn(ctx)
			}
			callCtx, cancel := context.WithTimeout(ctx, w.timeout)
			defer cancel()
			return fn(callCtx)
		})
	})
}

func (w *RoleStoreWrapper) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return call(ctx, w, w.store.ListUsers)
}

func (w *RoleStoreWrapper) GetUser(ctx context.Context, key string) (*domain.User, error) {
	return call(ctx, w, func(ctx context.Context) (*domain.User, error) {
		return w.store.GetUser(ctx, key)
	})
}

func (w *RoleStoreWrapper) SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	return call(ctx, w, func(ctx context.Context) (*domain.User, error) {
		return w.store.SyncUser(ctx, profile)
	})
}

func (w *RoleStoreWrapper) GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error) {
	return call(ctx, w, func(ctx context.Context) ([]domain.RoleAssignment, error) {
		return w.store.GetAssignedRoles(ctx, userKey)
	})
}

func (w *RoleStoreWrapper) AssignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	_, err := call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.AssignRole(ctx, userKey, role, resourceInstance)
	})
	return err
}

func (w *RoleStoreWrapper) UnassignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	_, err := call(ctx, w, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, w.store.UnassignRole(ctx, userKey, role, resourceInstance)
	})
	return err
}

func (w *RoleStoreWrapper) ListResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error) {
	return call(ctx, w, w.store.ListResourceInstances)
}

func (w *RoleStoreWrapper) Check(ctx context.Context, userKey, action, resourceType string) (bool, error) {
	return call(ctx, w, func(ctx context.Context) (bool, error) {
		return w.store.Check(ctx, userKey, action, resourceType)
	})
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *RoleStoreWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}

package services

import (
	"context"

	"rolechat/internal/core/domain"

	"github.com/stretchr/testify/mock"
)

// MockRoleStore implements ports.Authorizer.
type MockRoleStore struct {
	mock.Mock
}

func (m *MockRoleStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

func (m *MockRoleStore) GetUser(ctx context.Context, key string) (*domain.User, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRoleStore) SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockRoleStore) GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error) {
	args := m.Called(ctx, userKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RoleAssignment), args.Error(1)
}

func (m *MockRoleStore) AssignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	args := m.Called(ctx, userKey, role, resourceInstance)
	return args.Error(0)
}

func (m *MockRoleStore) UnassignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	args := m.Called(ctx, userKey, role, resourceInstance)
	return args.Error(0)
}

func (m *MockRoleStore) ListResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ResourceInstance), args.Error(1)
}

func (m *MockRoleStore) Check(ctx context.Context, userKey, action, resourceType string) (bool, error) {
	args := m.Called(ctx, userKey, action, resourceType)
	return args.Bool(0), args.Error(1)
}

type recordingMetrics struct {
	NopMetrics
	steps   map[string]int
	tokens  int
	refused []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{steps: make(map[string]int)}
}

func (r *recordingMetrics) RecordRoleStep(workflow, step string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	r.steps[workflow+"/"+step+"/"+status]++
}

func (r *recordingMetrics) RecordTokenIssued(bool) { r.tokens++ }

func (r *recordingMetrics) RecordTokenRefused(reason string) {
	r.refused = append(r.refused, reason)
}

func channelInstances() []domain.ResourceInstance {
	return []domain.ResourceInstance{
		{ID: "id-general", Key: "general", Resource: domain.ResourceTypeChannel, Tenant: domain.DefaultTenant},
		{ID: "id-random", Key: "random", Resource: domain.ResourceTypeChannel, Tenant: domain.DefaultTenant},
		{ID: "id-mod", Key: "mod", Resource: domain.ResourceTypeChannel, Tenant: domain.DefaultTenant},
	}
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"rolechat/internal/core/domain"

	"github.com/google/uuid"
)

// RoleStore keeps users, role assignments and channel resource instances in
// process memory. It implements ports.Authorizer.
type RoleStore struct {
	tenant string

	mu          sync.RWMutex
	users       map[string]*domain.User
	order       []string
	assignments map[string][]domain.RoleAssignment
	instances   map[string]domain.ResourceInstance // by key

	now func() time.Time
}

func NewRoleStore(tenant string, channelKeys ...string) *RoleStore {
	s := &RoleStore{
		tenant:      tenant,
		users:       make(map[string]*domain.User),
		assignments: make(map[string][]domain.RoleAssignment),
		instances:   make(map[string]domain.ResourceInstance),
		now:         time.Now,
	}
	for _, key := range channelKeys {
		s.ensureChannel(key)
	}
	return s
}

// EnsureChannel registers a channel resource instance if it is missing.
func (s *RoleStore) EnsureChannel(ctx context.Context, key string) (domain.ResourceInstance, error) {
	if key == "" {
		return domain.ResourceInstance{}, fmt.Errorf("channel key must not be empty")
	}
	return s.ensureChannel(key), nil
}

func (s *RoleStore) ensureChannel(key string) domain.ResourceInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inst, ok := s.instances[key]; ok {
		return inst
	}
	inst := domain.ResourceInstance{
		ID:       uuid.NewString(),
		Key:      key,
		Resource: domain.ResourceTypeChannel,
		Tenant:   s.tenant,
	}
	s.instances[key] = inst
	return inst
}

func (s *RoleStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*domain.User, 0, len(s.order))
	for _, key := range s.order {
		u := *s.users[key]
		u.Roles = nil
		users = append(users, &u)
	}
	return users, nil
}

func (s *RoleStore) GetUser(ctx context.Context, key string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[key]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *RoleStore) SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	if profile.Key == "" {
		return nil, fmt.Errorf("sync user: key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[profile.Key]
	if !ok {
		u = &domain.User{
			ID:        uuid.NewString(),
			Key:       profile.Key,
			CreatedAt: s.now(),
		}
		s.users[profile.Key] = u
		s.order = append(s.order, profile.Key)
	}
	if profile.Email != "" {
		u.Email = profile.Email
	}
	if profile.FirstName != "" {
		u.FirstName = profile.FirstName
	}
	if profile.LastName != "" {
		u.LastName = profile.LastName
	}

	cp := *u
	return &cp, nil
}

func (s *RoleStore) GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := s.assignments[userKey]
	out := make([]domain.RoleAssignment, len(roles))
	copy(out, roles)
	return out, nil
}

func (s *RoleStore) AssignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.assignmentLocked(userKey, role, resourceInstance)
	if err != nil {
		return err
	}
	for _, existing := range s.assignments[userKey] {
		if existing == a {
			return nil
		}
	}
	s.assignments[userKey] = append(s.assignments[userKey], a)
	return nil
}

func (s *RoleStore) UnassignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.assignmentLocked(userKey, role, resourceInstance)
	if err != nil {
		return err
	}
	roles := s.assignments[userKey]
	for i, existing := range roles {
		if existing == a {
			s.assignments[userKey] = append(roles[:i:i], roles[i+1:]...)
			break
		}
	}
	return nil
}

func (s *RoleStore) ListResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ResourceInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *RoleStore) Check(ctx context.Context, userKey, action, resourceType string) (bool, error) {
	roles, err := s.GetAssignedRoles(ctx, userKey)
	if err != nil {
		return false, err
	}
	return domain.EvaluatePolicy(roles, action, resourceType), nil
}

func (s *RoleStore) assignmentLocked(userKey string, role domain.RoleName, resourceInstance string) (domain.RoleAssignment, error) {
	if _, ok := s.users[userKey]; !ok {
		return domain.RoleAssignment{}, domain.ErrUserNotFound
	}
	if !role.Valid() {
		return domain.RoleAssignment{}, fmt.Errorf("unknown role %q", role)
	}

	a := domain.RoleAssignment{User: userKey, Role: role, Tenant: s.tenant}
	if resourceInstance == "" {
		return a, nil
	}

	ref, ok := s.resolveLocked(resourceInstance)
	if !ok {
		return domain.RoleAssignment{}, fmt.Errorf("%w: %s", domain.ErrResourceNotFound, resourceInstance)
	}
	a.ResourceInstance = ref
	return a, nil
}

// resolveLocked accepts an instance id or a "channel:<key>" reference.
func (s *RoleStore) resolveLocked(ref string) (string, bool) {
	if inst, ok := s.instances[domain.ChannelKeyFromInstance(ref)]; ok && inst.Ref() == ref {
		return ref, true
	}
	for _, inst := range s.instances {
		if inst.ID == ref {
			return inst.Ref(), true
		}
	}
	return "", false
}

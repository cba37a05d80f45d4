package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldID        = "id"
	fieldEmail     = "email"
	fieldFirstName = "first_name"
	fieldLastName  = "last_name"
	fieldCreatedAt = "created_at"

	// role|resourceInstance, with an empty instance for global roles
	assignmentSep = "|"
)

type keyspace struct {
	tenant string
	prefix string
}

func newKeyspace(tenant string) keyspace {
	return keyspace{tenant: tenant, prefix: "rolechat:" + tenant + ":"}
}

func (k keyspace) users() string                 { return k.prefix + "users" }
func (k keyspace) user(key string) string        { return k.prefix + "user:" + key }
func (k keyspace) userPattern() string           { return k.prefix + "user:*" }
func (k keyspace) assignments(key string) string { return k.prefix + "assignments:" + key }
func (k keyspace) resources() string             { return k.prefix + "resources" }

func (k keyspace) userKeyFromHash(hashKey string) string {
	return strings.TrimPrefix(hashKey, k.prefix+"user:")
}

// RoleStore persists users, role assignments and channel resource instances
// in Redis. It implements ports.Authorizer.
type RoleStore struct {
	client *redis.Client
	tenant string
	keys   keyspace
	now    func() time.Time
}

var _ ports.Authorizer = (*RoleStore)(nil)

func NewRoleStore(client *redis.Client, tenant string) *RoleStore {
	if tenant == "" {
		tenant = domain.DefaultTenant
	}
	return &RoleStore{
		client: client,
		tenant: tenant,
		keys:   newKeyspace(tenant),
		now:    time.Now,
	}
}

// EnsureChannel registers a channel resource instance if it is missing.
func (s *RoleStore) EnsureChannel(ctx context.Context, key string) (domain.ResourceInstance, error) {
	return ensureChannel(ctx, s.client, s.keys, key)
}

func ensureChannel(ctx context.Context, client *redis.Client, keys keyspace, key string) (domain.ResourceInstance, error) {
	inst := domain.ResourceInstance{
		ID:       uuid.NewString(),
		Key:      key,
		Resource: domain.ResourceTypeChannel,
		Tenant:   keys.tenant,
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return inst, fmt.Errorf("failed to marshal resource instance: %w", err)
	}

	created, err := client.HSetNX(ctx, keys.resources(), key, data).Result()
	if err != nil {
		return inst, fmt.Errorf("failed to store resource instance: %w", err)
	}
	if created {
		return inst, nil
	}

	raw, err := client.HGet(ctx, keys.resources(), key).Result()
	if err != nil {
		return inst, fmt.Errorf("failed to read resource instance: %w", err)
	}
	var existing domain.ResourceInstance
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return inst, fmt.Errorf("failed to unmarshal resource instance: %w", err)
	}
	return existing, nil
}

func (s *RoleStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	keys, err := s.client.ZRange(ctx, s.keys.users(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.HGetAll(ctx, s.keys.user(key))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	users := make([]*domain.User, 0, len(keys))
	for i, key := range keys {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		users = append(users, userFromHash(key, fields))
	}
	return users, nil
}

func (s *RoleStore) GetUser(ctx context.Context, key string) (*domain.User, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.user(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrUserNotFound
	}
	return userFromHash(key, fields), nil
}

func (s *RoleStore) SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	if profile.Key == "" {
		return nil, fmt.Errorf("sync user: key is required")
	}

	userKey := s.keys.user(profile.Key)
	created := s.now().UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, userKey, fieldID, uuid.NewString())
		pipe.HSetNX(ctx, userKey, fieldCreatedAt, created)
		updates := map[string]interface{}{}
		if profile.Email != "" {
			updates[fieldEmail] = profile.Email
		}
		if profile.FirstName != "" {
			updates[fieldFirstName] = profile.FirstName
		}
		if profile.LastName != "" {
			updates[fieldLastName] = profile.LastName
		}
		if len(updates) > 0 {
			pipe.HSet(ctx, userKey, updates)
		}
		pipe.ZAddNX(ctx, s.keys.users(), redis.Z{Score: float64(created), Member: profile.Key})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync user: %w", err)
	}

	return s.GetUser(ctx, profile.Key)
}

func (s *RoleStore) GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error) {
	members, err := s.client.ZRange(ctx, s.keys.assignments(userKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}

	out := make([]domain.RoleAssignment, 0, len(members))
	for _, m := range members {
		role, instance, _ := strings.Cut(m, assignmentSep)
		out = append(out, domain.RoleAssignment{
			User:             userKey,
			Role:             domain.RoleName(role),
			Tenant:           s.tenant,
			ResourceInstance: instance,
		})
	}
	return out, nil
}

func (s *RoleStore) AssignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	member, err := s.assignmentMember(ctx, userKey, role, resourceInstance)
	if err != nil {
		return err
	}
	score := float64(s.now().UnixNano())
	if err := s.client.ZAddNX(ctx, s.keys.assignments(userKey), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

func (s *RoleStore) UnassignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	member, err := s.assignmentMember(ctx, userKey, role, resourceInstance)
	if err != nil {
		return err
	}
	if err := s.client.ZRem(ctx, s.keys.assignments(userKey), member).Err(); err != nil {
		return fmt.Errorf("failed to unassign role: %w", err)
	}
	return nil
}

func (s *RoleStore) ListResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error) {
	raw, err := s.client.HGetAll(ctx, s.keys.resources()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list resource instances: %w", err)
	}

	out := make([]domain.ResourceInstance, 0, len(raw))
	for _, data := range raw {
		var inst domain.ResourceInstance
		if err := json.Unmarshal([]byte(data), &inst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resource instance: %w", err)
		}
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

func (s *RoleStore) assignmentMember(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) (string, error) {
	exists, err := s.client.Exists(ctx, s.keys.user(userKey)).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check user: %w", err)
	}
	if exists == 0 {
		return "", domain.ErrUserNotFound
	}
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", role)
	}
	if resourceInstance == "" {
		return string(role) + assignmentSep, nil
	}

	ref, err := s.resolveInstance(ctx, resourceInstance)
	if err != nil {
		return "", err
	}
	return string(role) + assignmentSep + ref, nil
}

// resolveInstance accepts an instance id or a "channel:<key>" reference.
func (s *RoleStore) resolveInstance(ctx context.Context, ref string) (string, error) {
	if key := domain.ChannelKeyFromInstance(ref); domain.ChannelInstance(key) == ref {
		ok, err := s.client.HExists(ctx, s.keys.resources(), key).Result()
		if err != nil {
			return "", fmt.Errorf("failed to resolve resource instance: %w", err)
		}
		if ok {
			return ref, nil
		}
	}

	instances, err := s.ListResourceInstances(ctx)
	if err != nil {
		return "", err
	}
	for _, inst := range instances {
		if inst.ID == ref {
			return inst.Ref(), nil
		}
	}
	return "", fmt.Errorf("%w: %s", domain.ErrResourceNotFound, ref)
}

func userFromHash(key string, fields map[string]string) *domain.User {
	u := &domain.User{
		ID:        fields[fieldID],
		Key:       key,
		Email:     fields[fieldEmail],
		FirstName: fields[fieldFirstName],
		LastName:  fields[fieldLastName],
	}
	var ms int64
	if _, err := fmt.Sscan(fields[fieldCreatedAt], &ms); err == nil {
		u.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return u
}

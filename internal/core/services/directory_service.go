package services

import (
	"context"
	"fmt"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const roleLookupConcurrency = 8

// DirectoryService lists and looks up chat users together with their role
// assignments.
type DirectoryService struct {
	store  ports.RoleStore
	logger *zap.SugaredLogger
}

func NewDirectoryService(store ports.RoleStore, logger *zap.SugaredLogger) *DirectoryService {
	return &DirectoryService{store: store, logger: logger}
}

// ListUsers returns every user with roles. A user whose roles cannot be
// fetched is listed with an empty role set.
func (s *DirectoryService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(roleLookupConcurrency)
	for _, u := range users {
		g.Go(func() error {
			roles, err := s.store.GetAssignedRoles(gctx, u.Key)
			if err != nil {
				s.logger.Warnw("Failed to fetch user roles", "user", u.Key, "error", err)
				u.Roles = []domain.RoleAssignment{}
				return nil
			}
			u.Roles = roles
			return nil
		})
	}
	_ = g.Wait()

	return users, nil
}

// GetUser returns the caller's user record with roles, decorated with the
// session's display attributes.
func (s *DirectoryService) GetUser(ctx context.Context, identity *domain.Identity) (*domain.User, error) {
	if identity == nil || identity.Key == "" {
		return nil, domain.ErrUserNotFound
	}

	user, err := s.store.GetUser(ctx, identity.Key)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.GetAssignedRoles(ctx, identity.Key)
	if err != nil {
		return nil, fmt.Errorf("get roles for %s: %w", identity.Key, err)
	}
	user.Roles = roles

	if identity.Name != "" {
		user.Name = identity.Name
	}
	if identity.AvatarURL != "" {
		user.AvatarURL = identity.AvatarURL
	}
	return user, nil
}

// SyncUser registers a signed-in user and grants the default roles: viewer
// globally and participant on the general channel.
func (s *DirectoryService) SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	user, err := s.store.SyncUser(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("sync user %s: %w", profile.Key, err)
	}

	if err := s.store.AssignRole(ctx, profile.Key, domain.RoleViewer, ""); err != nil {
		return nil, fmt.Errorf("assign viewer: %w", err)
	}
	if err := s.store.AssignRole(ctx, profile.Key, domain.RoleParticipant, domain.ChannelInstance(domain.DefaultChannelKey)); err != nil {
		return nil, fmt.Errorf("assign participant on %s: %w", domain.DefaultChannelKey, err)
	}

	s.logger.Infow("User synced", "user", profile.Key)
	return user, nil
}

// BootstrapModerators grants the full moderator triple on the general
// channel to each key. Users that do not exist yet are created.
func (s *DirectoryService) BootstrapModerators(ctx context.Context, keys []string) error {
	general := domain.ChannelInstance(domain.DefaultChannelKey)
	mod := domain.ChannelInstance(domain.ModChannelKey)

	for _, key := range keys {
		if _, err := s.SyncUser(ctx, domain.UserProfile{Key: key, Email: key}); err != nil {
			return err
		}
		for _, a := range []struct {
			role     domain.RoleName
			instance string
		}{
			{domain.RoleModerator, general},
			{domain.RoleParticipant, mod},
			{domain.RoleAdmin, ""},
		} {
			if err := s.store.AssignRole(ctx, key, a.role, a.instance); err != nil {
				return fmt.Errorf("bootstrap %s as %s: %w", key, a.role, err)
			}
		}
		s.logger.Infow("Bootstrapped moderator", "user", key)
	}
	return nil
}

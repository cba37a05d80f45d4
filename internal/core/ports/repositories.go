package ports

import (
	"context"

	"rolechat/internal/core/domain"
)

// RoleStore is the narrow view of the authorization service this system
// needs. Resource instances may be passed either as the service's id or as
// "channel:<key>"; an empty resource instance means a global assignment.
// Assign and unassign are idempotent.
type RoleStore interface {
	ListUsers(ctx context.Context) ([]*domain.User, error)
	GetUser(ctx context.Context, key string) (*domain.User, error)
	SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error)
	GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error)
	AssignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error
	UnassignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error
	ListResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error)
}

// PolicyChecker answers "may user perform action on resourceType".
type PolicyChecker interface {
	Check(ctx context.Context, userKey, action, resourceType string) (bool, error)
}

// Authorizer is a RoleStore that can also evaluate policy.
type Authorizer interface {
	RoleStore
	PolicyChecker
}

// ChannelLog is the per-channel ordered message log of the realtime service.
type ChannelLog interface {
	// Append assigns the message its timeserial and stores it.
	Append(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	History(ctx context.Context, channel string, q domain.HistoryQuery) ([]*domain.Message, error)
	FindByID(ctx context.Context, channel, id string) (*domain.Message, error)
}

// PresenceRegistry tracks which clients are present on a channel. Entries
// are keyed by connection so one client may be present from several.
type PresenceRegistry interface {
	Enter(ctx context.Context, channel, clientID, connectionID string) error
	Leave(ctx context.Context, channel, connectionID string) error
	Members(ctx context.Context, channel string) ([]string, error)
}

// ChannelRegistrar is implemented by role stores that can create channel
// resource instances on demand.
type ChannelRegistrar interface {
	EnsureChannel(ctx context.Context, key string) (domain.ResourceInstance, error)
}

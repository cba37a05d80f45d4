package timeline

import (
	"context"

	"rolechat/internal/core/domain"

	"go.uber.org/zap"
)

// RefreshFunc reloads state from the API after a role change.
type RefreshFunc func(ctx context.Context) error

type roleChangeRefresher struct {
	name    string
	refresh RefreshFunc
	ctx     context.Context
	logger  *zap.SugaredLogger
}

// Handle refreshes on live PROMOTE and DEMOTE. Both kinds refresh, even
// though only PROMOTE is shown in the transcript.
func (r *roleChangeRefresher) Handle(src Source, ev Event) {
	if src != Live {
		return
	}
	switch ev.(type) {
	case PromoteEvent, DemoteEvent:
	default:
		return
	}

	if err := r.refresh(r.ctx); err != nil {
		r.logger.Warnw("Refresh after role change failed", "updater", r.name, "error", err)
	}
}

// MembershipUpdater reloads the channel's user list.
type MembershipUpdater struct {
	*roleChangeRefresher
}

func NewMembershipUpdater(ctx context.Context, refresh RefreshFunc, logger *zap.SugaredLogger) *MembershipUpdater {
	return &MembershipUpdater{newRefresher(ctx, "membership", refresh, logger)}
}

// SelfPermissionUpdater reloads the current user's own roles so that the
// moderation controls follow a role change without waiting for a new token.
type SelfPermissionUpdater struct {
	*roleChangeRefresher
}

func NewSelfPermissionUpdater(ctx context.Context, refresh RefreshFunc, logger *zap.SugaredLogger) *SelfPermissionUpdater {
	return &SelfPermissionUpdater{newRefresher(ctx, "self", refresh, logger)}
}

func newRefresher(ctx context.Context, name string, refresh RefreshFunc, logger *zap.SugaredLogger) *roleChangeRefresher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &roleChangeRefresher{name: name, refresh: refresh, ctx: ctx, logger: logger}
}

// CanPromote reports whether a user holds moderator on any channel.
func CanPromote(user *domain.User) bool {
	return user != nil && user.IsModerator()
}

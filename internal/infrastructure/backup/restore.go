package backup

import (
	"context"
	"fmt"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService replays a snapshot into a role store. Restores are
// additive: users are upserted and assignments re-applied, nothing is
// unassigned.
type RestoreService struct {
	backupService *backup.BackupService
	roles         ports.RoleStore
	logger        *zap.SugaredLogger
}

func NewRestoreService(backupService *backup.BackupService, roles ports.RoleStore, logger *zap.SugaredLogger) *RestoreService {
	return &RestoreService{
		backupService: backupService,
		roles:         roles,
		logger:        logger,
	}
}

// RestoreResult counts what a restore applied.
type RestoreResult struct {
	Backup      string `json:"backup"`
	Users       int    `json:"users"`
	Assignments int    `json:"assignments"`
	Channels    int    `json:"channels"`
	Skipped     int    `json:"skipped"`
}

// RestoreLatest restores the newest backup. It returns a nil result when
// there is nothing to restore.
func (rs *RestoreService) RestoreLatest(ctx context.Context) (*RestoreResult, error) {
	name, err := rs.backupService.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find latest backup: %w", err)
	}
	if name == "" {
		return nil, nil
	}
	return rs.RestoreFromBackup(ctx, name)
}

func (rs *RestoreService) RestoreFromBackup(ctx context.Context, name string) (*RestoreResult, error) {
	snap, err := rs.backupService.LoadBackup(ctx, name)
	if err != nil {
		return nil, err
	}
	rs.logger.Infow("Starting restore", "backup_name", name, "tenant", snap.Tenant, "users", len(snap.Users))

	res := &RestoreResult{Backup: name}

	if registrar, ok := rs.roles.(ports.ChannelRegistrar); ok {
		for _, r := range snap.Resources {
			if r.Resource != domain.ResourceTypeChannel {
				continue
			}
			if _, err := registrar.EnsureChannel(ctx, r.Key); err != nil {
				return res, fmt.Errorf("failed to restore channel %s: %w", r.Key, err)
			}
			res.Channels++
		}
	} else if len(snap.Resources) > 0 {
		rs.logger.Warnw("Role store cannot create channels; restoring assignments only", "channels", len(snap.Resources))
	}

	for _, u := range snap.Users {
		if _, err := rs.roles.SyncUser(ctx, domain.UserProfile{
			Key:       u.Key,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}); err != nil {
			return res, fmt.Errorf("failed to restore user %s: %w", u.Key, err)
		}
		res.Users++

		for _, r := range u.Roles {
			role := domain.RoleName(r.Role)
			if !role.Valid() {
				rs.logger.Warnw("Skipping unknown role", "user", u.Key, "role", r.Role)
				res.Skipped++
				continue
			}
			if err := rs.roles.AssignRole(ctx, u.Key, role, r.ResourceInstance); err != nil {
				rs.logger.Warnw("Skipping assignment", "user", u.Key, "role", role,
					"resource_instance", r.ResourceInstance, "error", err)
				res.Skipped++
				continue
			}
			res.Assignments++
		}
	}

	rs.logger.Infow("Restore completed", "backup_name", name,
		"users", res.Users, "assignments", res.Assignments, "skipped", res.Skipped)
	return res, nil
}

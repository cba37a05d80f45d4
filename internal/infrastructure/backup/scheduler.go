// Package backup snapshots the role store on a schedule and restores it
// from those snapshots.
package backup

import (
	"context"
	"fmt"
	"time"

	"rolechat/internal/core/ports"
	"rolechat/pkg/backup"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages automatic backups
type Scheduler struct {
	backupService *backup.BackupService
	roles         ports.RoleStore
	tenant        string
	schedule      string
	retentionDays int
	logger        *zap.SugaredLogger
	now           func() time.Time
}

type Config struct {
	Tenant        string
	Schedule      string // cron pattern; seconds field optional, descriptors like "@every 1h" accepted
	RetentionDays int
}

func NewScheduler(backupService *backup.BackupService, roles ports.RoleStore, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		backupService: backupService,
		roles:         roles,
		tenant:        cfg.Tenant,
		schedule:      cfg.Schedule,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Start backs up immediately and then on the schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(cron.WithParser(scheduleParser))
	if _, err := c.AddFunc(s.schedule, func() { s.runBackup(ctx) }); err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", s.schedule, err)
	}

	s.runBackup(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runBackup(ctx context.Context) {
	name, err := s.Backup(ctx)
	if err != nil {
		s.logger.Errorw("Scheduled backup failed", "error", err)
		return
	}
	s.logger.Infow("Backup created", "backup_name", name)

	if err := s.cleanupOldBackups(ctx); err != nil {
		s.logger.Warnw("Failed to clean up old backups", "error", err)
	}
}

// Backup takes one snapshot of users, their assignments and the channel
// instances.
func (s *Scheduler) Backup(ctx context.Context) (string, error) {
	snap, err := s.collect(ctx)
	if err != nil {
		return "", err
	}
	return s.backupService.CreateBackup(ctx, snap)
}

func (s *Scheduler) collect(ctx context.Context) (*backup.Snapshot, error) {
	users, err := s.roles.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	snap := &backup.Snapshot{
		Tenant: s.tenant,
		Users:  make([]backup.UserRecord, 0, len(users)),
	}
	assignments := 0
	for _, u := range users {
		roles, err := s.roles.GetAssignedRoles(ctx, u.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to read roles of %s: %w", u.Key, err)
		}
		rec := backup.UserRecord{
			Key:       u.Key,
			Email:     u.Email,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}
		for _, r := range roles {
			rec.Roles = append(rec.Roles, backup.RoleRecord{Role: string(r.Role), ResourceInstance: r.ResourceInstance})
		}
		assignments += len(rec.Roles)
		snap.Users = append(snap.Users, rec)
	}

	instances, err := s.roles.ListResourceInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource instances: %w", err)
	}
	for _, inst := range instances {
		snap.Resources = append(snap.Resources, backup.ResourceRecord{Resource: inst.Resource, Key: inst.Key})
	}

	snap.Metadata = map[string]interface{}{
		"user_count":       len(snap.Users),
		"assignment_count": assignments,
		"resource_count":   len(snap.Resources),
	}
	return snap, nil
}

// cleanupOldBackups removes backups older than the retention period. The
// newest backup is always kept.
func (s *Scheduler) cleanupOldBackups(ctx context.Context) error {
	names, err := s.backupService.ListBackups(ctx)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}
	if len(names) <= 1 {
		return nil
	}

	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	for _, name := range names[:len(names)-1] {
		ts, err := backup.ParseBackupName(name)
		if err != nil {
			s.logger.Warnw("Failed to parse backup timestamp", "backup_name", name, "error", err)
			continue
		}
		if !ts.Before(cutoff) {
			continue
		}
		if err := s.backupService.DeleteBackup(ctx, name); err != nil {
			s.logger.Warnw("Failed to delete old backup", "backup_name", name, "error", err)
			continue
		}
		s.logger.Infow("Deleted old backup", "backup_name", name, "age", s.now().Sub(ts))
	}
	return nil
}

package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/infrastructure/repositories/memory"
	"rolechat/pkg/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newBackupService(t *testing.T) (*backup.BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := backup.NewFileStorage(dir)
	require.NoError(t, err)
	return backup.NewBackupService(storage, "test"), dir
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t).Sugar()
	svc, _ := newBackupService(t)

	source := memory.NewRoleStore(domain.DefaultTenant, "general", "mod", "random")
	_, err := source.SyncUser(ctx, domain.UserProfile{Key: "alice@example.com", Email: "alice@example.com", FirstName: "Alice"})
	require.NoError(t, err)
	_, err = source.SyncUser(ctx, domain.UserProfile{Key: "bob@example.com", FirstName: "Bob"})
	require.NoError(t, err)
	require.NoError(t, source.AssignRole(ctx, "alice@example.com", domain.RoleAdmin, ""))
	require.NoError(t, source.AssignRole(ctx, "alice@example.com", domain.RoleModerator, "channel:random"))
	require.NoError(t, source.AssignRole(ctx, "bob@example.com", domain.RoleParticipant, "channel:general"))

	sched := NewScheduler(svc, source, Config{Tenant: domain.DefaultTenant, Schedule: "@every 1h", RetentionDays: 7}, log)
	name, err := sched.Backup(ctx)
	require.NoError(t, err)

	snap, err := svc.LoadBackup(ctx, name)
	require.NoError(t, err)
	assert.Len(t, snap.Users, 2)
	assert.Len(t, snap.Resources, 3)
	assert.EqualValues(t, 3, snap.Metadata["assignment_count"])

	// A fresh store only knows the general channel; random comes back from
	// the snapshot.
	target := memory.NewRoleStore(domain.DefaultTenant, "general")
	res, err := NewRestoreService(svc, target, log).RestoreLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, name, res.Backup)
	assert.Equal(t, 2, res.Users)
	assert.Equal(t, 3, res.Assignments)
	assert.Equal(t, 3, res.Channels)
	assert.Zero(t, res.Skipped)

	alice, err := target.GetUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.FirstName)

	roles, err := target.GetAssignedRoles(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.RoleAssignment{
		{User: "alice@example.com", Role: domain.RoleAdmin, Tenant: domain.DefaultTenant},
		{User: "alice@example.com", Role: domain.RoleModerator, Tenant: domain.DefaultTenant, ResourceInstance: "channel:random"},
	}, roles)

	// Restoring twice changes nothing.
	_, err = NewRestoreService(svc, target, log).RestoreFromBackup(ctx, name)
	require.NoError(t, err)
	roles, _ = target.GetAssignedRoles(ctx, "alice@example.com")
	assert.Len(t, roles, 2)
}

func TestRestore_NothingToRestore(t *testing.T) {
	svc, _ := newBackupService(t)
	res, err := NewRestoreService(svc, memory.NewRoleStore(domain.DefaultTenant), zaptest.NewLogger(t).Sugar()).
		RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRestore_SkipsUnknownRoles(t *testing.T) {
	ctx := context.Background()
	svc, _ := newBackupService(t)

	_, err := svc.CreateBackup(ctx, &backup.Snapshot{
		Tenant: domain.DefaultTenant,
		Users: []backup.UserRecord{{
			Key: "carol@example.com",
			Roles: []backup.RoleRecord{
				{Role: "superuser"},
				{Role: "participant", ResourceInstance: "channel:general"},
			},
		}},
	})
	require.NoError(t, err)

	target := memory.NewRoleStore(domain.DefaultTenant, "general")
	res, err := NewRestoreService(svc, target, zaptest.NewLogger(t).Sugar()).RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assignments)
	assert.Equal(t, 1, res.Skipped)
}

func TestScheduler_CleanupKeepsRecentAndNewest(t *testing.T) {
	ctx := context.Background()
	svc, dir := newBackupService(t)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

	old := backup.BackupName(now.AddDate(0, 0, -30))
	recent := backup.BackupName(now.AddDate(0, 0, -1))
	for _, name := range []string{old, recent} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"version":"test"}`), 0o644))
	}

	sched := NewScheduler(svc, memory.NewRoleStore(domain.DefaultTenant), Config{Schedule: "@every 1h", RetentionDays: 7},
		zaptest.NewLogger(t).Sugar())
	sched.now = func() time.Time { return now }
	require.NoError(t, sched.cleanupOldBackups(ctx))

	names, err := svc.ListBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{recent}, names)

	// The newest backup survives even past retention.
	sched.now = func() time.Time { return now.AddDate(1, 0, 0) }
	require.NoError(t, sched.cleanupOldBackups(ctx))
	names, _ = svc.ListBackups(ctx)
	assert.Equal(t, []string{recent}, names)
}

func TestScheduler_StartStopsWithContext(t *testing.T) {
	svc, _ := newBackupService(t)
	sched := NewScheduler(svc, memory.NewRoleStore(domain.DefaultTenant, "general"),
		Config{Schedule: "0 0 * * *", RetentionDays: 1}, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		names, _ := svc.ListBackups(context.Background())
		return len(names) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	svc, _ := newBackupService(t)
	sched := NewScheduler(svc, memory.NewRoleStore(domain.DefaultTenant),
		Config{Schedule: "every so often", RetentionDays: 1}, zaptest.NewLogger(t).Sugar())

	err := sched.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backup schedule")

	names, _ := svc.ListBackups(context.Background())
	assert.Empty(t, names)
}

package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*BackupService, string) {
	t.Helper()
	dir := t.TempDir()
	storage, err := NewFileStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return NewBackupService(storage, "1.0.0"), dir
}

// clock returns a now func that advances a second per call.
func clock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		t := next
		next = next.Add(time.Second)
		return t
	}
}

func TestBackupService_CreateAndLoad(t *testing.T) {
	service, dir := newTestService(t)
	service.now = clock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	snap := &Snapshot{
		Tenant: "default",
		Users: []UserRecord{{
			Key:       "alice@example.com",
			FirstName: "Alice",
			Roles: []RoleRecord{
				{Role: "viewer"},
				{Role: "moderator", ResourceInstance: "channel:general"},
			},
		}},
		Resources: []ResourceRecord{{Resource: "channel", Key: "general"}},
	}

	name, err := service.CreateBackup(context.Background(), snap)
	if err != nil {
		t.Fatalf("failed to create backup: %v", err)
	}
	if name != "backup-20260301-120000.json" {
		t.Errorf("unexpected backup name %q", name)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Fatalf("backup file missing: %v", err)
	}

	loaded, err := service.LoadBackup(context.Background(), name)
	if err != nil {
		t.Fatalf("failed to load backup: %v", err)
	}
	if loaded.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", loaded.Version)
	}
	if len(loaded.Users) != 1 || len(loaded.Users[0].Roles) != 2 {
		t.Fatalf("unexpected users %+v", loaded.Users)
	}
	if loaded.Users[0].Roles[1].ResourceInstance != "channel:general" {
		t.Errorf("resource instance lost: %+v", loaded.Users[0].Roles[1])
	}
}

func TestBackupService_LoadRejectsInvalid(t *testing.T) {
	service, dir := newTestService(t)

	if err := os.WriteFile(filepath.Join(dir, "backup-20260101-000000.json"), []byte(`{"users":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := service.LoadBackup(context.Background(), "backup-20260101-000000.json"); err == nil {
		t.Error("expected error for snapshot without version")
	}

	if err := os.WriteFile(filepath.Join(dir, "backup-20260101-000001.json"), []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := service.LoadBackup(context.Background(), "backup-20260101-000001.json"); err == nil {
		t.Error("expected error for malformed snapshot")
	}

	if _, err := service.LoadBackup(context.Background(), "backup-missing.json"); err == nil {
		t.Error("expected error for missing backup")
	}
}

func TestBackupService_ListAndLatest(t *testing.T) {
	service, dir := newTestService(t)
	ctx := context.Background()

	latest, err := service.Latest(ctx)
	if err != nil || latest != "" {
		t.Fatalf("expected no backups, got %q, %v", latest, err)
	}

	service.now = clock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	var names []string
	for i := 0; i < 3; i++ {
		name, err := service.CreateBackup(ctx, &Snapshot{})
		if err != nil {
			t.Fatalf("failed to create backup: %v", err)
		}
		names = append(names, name)
	}
	// Unrelated files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	listed, err := service.ListBackups(ctx)
	if err != nil {
		t.Fatalf("failed to list backups: %v", err)
	}
	if strings.Join(listed, ",") != strings.Join(names, ",") {
		t.Errorf("expected %v, got %v", names, listed)
	}

	latest, err = service.Latest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != names[2] {
		t.Errorf("expected latest %q, got %q", names[2], latest)
	}

	if err := service.DeleteBackup(ctx, names[0]); err != nil {
		t.Fatalf("failed to delete backup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, names[0])); !os.IsNotExist(err) {
		t.Error("backup file should be deleted")
	}
}

func TestParseBackupName(t *testing.T) {
	ts := time.Date(2026, 10, 17, 8, 30, 5, 0, time.UTC)
	parsed, err := ParseBackupName(BackupName(ts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("expected %v, got %v", ts, parsed)
	}

	for _, bad := range []string{"notes.txt", "backup-2026.json", "backup-20261017-083005.yaml"} {
		if _, err := ParseBackupName(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestFileStorage_RejectsPathNames(t *testing.T) {
	storage, err := NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"", "../escape.json", "sub/dir.json", ".hidden"} {
		if err := storage.Save(ctx, name, strings.NewReader("x")); err == nil {
			t.Errorf("expected Save(%q) to fail", name)
		}
		if _, err := storage.Load(ctx, name); err == nil {
			t.Errorf("expected Load(%q) to fail", name)
		}
	}

	if err := storage.Save(ctx, "backup-a.json", strings.NewReader("data")); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	files, err := storage.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "backup-a.json" {
		t.Errorf("temp files should not remain, got %v", files)
	}
}

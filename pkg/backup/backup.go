package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

const (
	namePrefix = "backup-"
	nameSuffix = ".json"
	nameLayout = "20060102-150405"
)

// Snapshot is the serialized form of one backup. Users carry their profile
// and role assignments; Resources lists the channel instances known at the
// time of the backup.
type Snapshot struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Tenant    string                 `json:"tenant"`
	Users     []UserRecord           `json:"users"`
	Resources []ResourceRecord       `json:"resources,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type UserRecord struct {
	Key       string       `json:"key"`
	Email     string       `json:"email,omitempty"`
	FirstName string       `json:"first_name,omitempty"`
	LastName  string       `json:"last_name,omitempty"`
	Roles     []RoleRecord `json:"roles,omitempty"`
}

type RoleRecord struct {
	Role             string `json:"role"`
	ResourceInstance string `json:"resource_instance,omitempty"`
}

type ResourceRecord struct {
	Resource string `json:"resource"`
	Key      string `json:"key"`
}

// Storage defines interface for backup storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// BackupService writes and reads snapshots through a Storage.
type BackupService struct {
	storage Storage
	version string
	now     func() time.Time
}

func NewBackupService(storage Storage, version string) *BackupService {
	return &BackupService{
		storage: storage,
		version: version,
		now:     time.Now,
	}
}

// CreateBackup stamps the snapshot and stores it, returning its name.
func (bs *BackupService) CreateBackup(ctx context.Context, snap *Snapshot) (string, error) {
	snap.Version = bs.version
	snap.Timestamp = bs.now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := BackupName(snap.Timestamp)
	if err := bs.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save backup: %w", err)
	}
	return name, nil
}

func (bs *BackupService) LoadBackup(ctx context.Context, name string) (*Snapshot, error) {
	reader, err := bs.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup: %w", err)
	}
	defer reader.Close()

	var snap Snapshot
	if err := json.NewDecoder(reader).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode backup %s: %w", name, err)
	}
	if snap.Version == "" {
		return nil, fmt.Errorf("invalid backup %s: missing version", name)
	}
	return &snap, nil
}

// ListBackups returns backup names, oldest first.
func (bs *BackupService) ListBackups(ctx context.Context) ([]string, error) {
	names, err := bs.storage.List(ctx, namePrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Latest returns the newest backup name, or "" when there is none.
func (bs *BackupService) Latest(ctx context.Context) (string, error) {
	names, err := bs.ListBackups(ctx)
	if err != nil || len(names) == 0 {
		return "", err
	}
	return names[len(names)-1], nil
}

func (bs *BackupService) DeleteBackup(ctx context.Context, name string) error {
	return bs.storage.Delete(ctx, name)
}

// BackupName formats the storage name for a snapshot taken at ts. Names sort
// chronologically.
func BackupName(ts time.Time) string {
	return namePrefix + ts.UTC().Format(nameLayout) + nameSuffix
}

// ParseBackupName extracts the timestamp from a name produced by BackupName.
func ParseBackupName(name string) (time.Time, error) {
	stamp, ok := strings.CutPrefix(name, namePrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("not a backup name: %q", name)
	}
	stamp, ok = strings.CutSuffix(stamp, nameSuffix)
	if !ok {
		return time.Time{}, fmt.Errorf("not a backup name: %q", name)
	}
	return time.Parse(nameLayout, stamp)
}

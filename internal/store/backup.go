package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	genieerrors "genie/internal/errors"
)

const backupPrefix = "progress_backup_"

// BackupInfo describes one backup file.
type BackupInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateBackup copies the current document into the backup directory and
// returns the backup file name. The reason becomes part of the name.
func (s *FileStore) CreateBackup(ctx context.Context, reason string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	name, err := s.backupCurrentNamed(reason)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", genieerrors.New(genieerrors.KindNotFound, "store.CreateBackup", "no progress document to back up")
	}
	return name, nil
}

// ListBackups returns available backups, newest first.
func (s *FileStore) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	entries, err := os.ReadDir(s.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, "store.ListBackups", err, "read backup directory")
	}

	var out []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Name:      entry.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out, nil
}

// RestoreBackup replaces the current document with the named backup. The
// replaced document is backed up first so a restore is reversible.
func (s *FileStore) RestoreBackup(ctx context.Context, name string) error {
	if name != filepath.Base(name) {
		return genieerrors.New(genieerrors.KindValidation, "store.RestoreBackup", "backup name must not contain path separators")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.backupDir, name))
	if os.IsNotExist(err) {
		return genieerrors.New(genieerrors.KindNotFound, "store.RestoreBackup", "unknown backup %s", name)
	}
	if err != nil {
		return genieerrors.Wrap(genieerrors.KindTransientExternal, "store.RestoreBackup", err, "read backup")
	}
	doc, ok := s.decode(data)
	if !ok {
		return genieerrors.New(genieerrors.KindCorrupt, "store.RestoreBackup", "backup %s failed to parse", name)
	}
	if legacy, tasks := detectLegacy(data); legacy {
		doc = s.wrapLegacy(tasks)
	}
	s.upgrade(doc)

	if _, err := s.backupCurrentNamed("pre_restore"); err != nil {
		s.logger.Warn("Backup before restore failed: %v", err)
	}

	prior := s.doc
	s.swapDoc(doc)
	if err := s.persistLocked(); err != nil {
		s.swapDoc(prior)
		return err
	}
	s.logger.Info("Restored backup %s", name)
	return nil
}

// backupCurrent copies the on-disk document into the backup directory and
// prunes expired backups. A missing document is not an error.
func (s *FileStore) backupCurrent(reason string) error {
	_, err := s.backupCurrentNamed(reason)
	return err
}

func (s *FileStore) backupCurrentNamed(reason string) (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", genieerrors.Wrap(genieerrors.KindTransientExternal, "store.backup", err, "read progress document")
	}

	now := s.clock().UTC()
	name := fmt.Sprintf("%s%s_%s.json", backupPrefix, sanitizeReason(reason), now.Format("20060102_150405"))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), data, 0644); err != nil {
		return "", genieerrors.Wrap(genieerrors.KindTransientExternal, "store.backup", err, "write backup")
	}

	s.doc.System.LastBackup = &now
	s.pruneBackups(now)
	return name, nil
}

// pruneBackups removes backups older than the retention window. Retention
// of zero or less keeps everything.
func (s *FileStore) pruneBackups(now time.Time) {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -s.retentionDays)
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.backupDir, entry.Name())); err != nil {
				s.logger.Warn("Failed to prune backup %s: %v", entry.Name(), err)
			}
		}
	}
}

// loadNewestBackup tries backups newest-first until one parses.
func (s *FileStore) loadNewestBackup() *document {
	backups, err := s.ListBackups(context.Background())
	if err != nil {
		return nil
	}
	for _, b := range backups {
		data, err := os.ReadFile(filepath.Join(s.backupDir, b.Name))
		if err != nil {
			continue
		}
		if doc, ok := s.decode(data); ok {
			if legacy, tasks := detectLegacy(data); legacy {
				doc = s.wrapLegacy(tasks)
			}
			s.upgrade(doc)
			s.logger.Info("Recovered progress document from backup %s", b.Name)
			return doc
		}
	}
	return nil
}

func sanitizeReason(reason string) string {
	reason = strings.TrimSpace(strings.ToLower(reason))
	if reason == "" {
		return "manual"
	}
	var b strings.Builder
	for _, r := range reason {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

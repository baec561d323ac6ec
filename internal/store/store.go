// Package store persists the multi-user progress document. Every mutation
// rewrites the whole document atomically (temp file, fsync, rename) behind a
// single writer lock; readers get deep copies. Legacy single-user files are
// migrated on load, and a corrupt primary falls back to the newest backup.
package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	jsonx "genie/internal/shared/json"
	"genie/internal/shared/logging"
)

// SchemaVersion is written into system.version on every save. Documents
// below it are upgraded on load.
const SchemaVersion = 2

// Config locates the progress document and its backups.
type Config struct {
	Path          string
	BackupDir     string
	AutoBackup    bool
	RetentionDays int

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

type systemSettings struct {
	AutoBackup          bool `json:"auto_backup"`
	BackupRetentionDays int  `json:"backup_retention_days"`
}

type systemMeta struct {
	Version    int            `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	LastBackup *time.Time     `json:"last_backup,omitempty"`
	Settings   systemSettings `json:"settings"`
}

type document struct {
	Users  map[string]*task.UserSnapshot `json:"users"`
	System systemMeta                    `json:"system"`
}

// FileStore implements task.Store over one JSON document on disk.
type FileStore struct {
	writeMu sync.Mutex   // serializes load-mutate-persist cycles
	stateMu sync.RWMutex // guards doc against readers racing a publish

	path          string
	backupDir     string
	autoBackup    bool
	retentionDays int
	clock         func() time.Time

	doc    *document
	logger logging.Logger
}

// New opens (or creates) the progress document at cfg.Path. Paths starting
// with ~/ resolve against the user's home directory.
func New(cfg Config, logger logging.Logger) (*FileStore, error) {
	path := expandHome(cfg.Path)
	backupDir := expandHome(cfg.BackupDir)
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(path), "backups")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	s := &FileStore{
		path:          path,
		backupDir:     backupDir,
		autoBackup:    cfg.AutoBackup,
		retentionDays: cfg.RetentionDays,
		clock:         clock,
		logger:        logging.OrNop(logger),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, "store.New", err, "create storage directory")
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindTransientExternal, "store.New", err, "create backup directory")
	}

	doc, migrated, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	if migrated {
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// load reads the document from disk, handling three shapes: missing file,
// current layout, and the legacy flat task map.
func (s *FileStore) load() (*document, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s.emptyDocument(), false, nil
	}
	if err != nil {
		return nil, false, genieerrors.Wrap(genieerrors.KindTransientExternal, "store.load", err, "read progress document")
	}

	if doc, ok := s.decode(data); ok {
		if legacy, tasks := detectLegacy(data); legacy {
			migrated := s.migrateLegacy(tasks)
			return migrated, true, nil
		}
		upgraded := s.upgrade(doc)
		return doc, upgraded, nil
	}

	s.logger.Error("Progress document %s failed to parse, trying backups", s.path)
	if doc := s.loadNewestBackup(); doc != nil {
		return doc, true, nil
	}
	s.logger.Error("No readable backup found, starting with an empty document")
	return s.emptyDocument(), false, nil
}

// decode parses data into the current document layout. A legacy flat map
// also parses here (into an empty Users map), so callers must still run
// detectLegacy on the raw bytes.
func (s *FileStore) decode(data []byte) (*document, bool) {
	if !jsonx.Valid(data) {
		return nil, false
	}
	var doc document
	if err := jsonx.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	if doc.Users == nil {
		doc.Users = map[string]*task.UserSnapshot{}
	}
	return &doc, true
}

func (s *FileStore) emptyDocument() *document {
	now := s.clock().UTC()
	return &document{
		Users: map[string]*task.UserSnapshot{},
		System: systemMeta{
			Version:   SchemaVersion,
			CreatedAt: now,
			Settings: systemSettings{
				AutoBackup:          s.autoBackup,
				BackupRetentionDays: s.retentionDays,
			},
		},
	}
}

// upgrade fills fields older documents are missing. Reports whether the
// document changed and should be rewritten.
func (s *FileStore) upgrade(doc *document) bool {
	changed := false
	if doc.System.Version < SchemaVersion {
		doc.System.Version = SchemaVersion
		changed = true
	}
	if doc.System.CreatedAt.IsZero() {
		doc.System.CreatedAt = s.clock().UTC()
		changed = true
	}
	for _, snap := range doc.Users {
		if snap.Tasks == nil {
			snap.Tasks = map[string]*task.Task{}
			changed = true
		}
		if snap.EnergyPatterns == nil {
			snap.EnergyPatterns = map[int]task.EnergyPattern{}
			changed = true
		}
		if snap.Session.Version == 0 {
			snap.Session.Version = 1
			changed = true
		}
	}
	return changed
}

// GetOrCreateUser returns the user's snapshot, seeding defaults on first
// contact.
func (s *FileStore) GetOrCreateUser(ctx context.Context, userID string) (*task.UserSnapshot, error) {
	if err := checkUserID(userID); err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if snap, ok := s.doc.Users[userID]; ok {
		return snap.Clone(), nil
	}

	snap := task.NewUserSnapshot(s.clock())
	s.setUser(userID, snap)
	if err := s.persistLocked(); err != nil {
		s.dropUser(userID)
		return nil, err
	}
	s.logger.Info("Created user %s", userID)
	return snap.Clone(), nil
}

// Snapshot returns a consistent read-only copy of the user's state.
func (s *FileStore) Snapshot(ctx context.Context, userID string) (*task.UserSnapshot, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	snap, ok := s.doc.Users[userID]
	if !ok {
		return nil, genieerrors.New(genieerrors.KindNotFound, "store.Snapshot", "unknown user %s", userID)
	}
	return snap.Clone(), nil
}

// PutSnapshot commits a draft snapshot in one atomic write. The draft must
// carry the session version it was read at; a moved version is a conflict.
func (s *FileStore) PutSnapshot(ctx context.Context, userID string, snap *task.UserSnapshot) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	if snap == nil {
		return genieerrors.New(genieerrors.KindValidation, "store.PutSnapshot", "nil snapshot")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, ok := s.doc.Users[userID]
	if !ok {
		return genieerrors.New(genieerrors.KindNotFound, "store.PutSnapshot", "unknown user %s", userID)
	}
	if stored.Session.Version != snap.Session.Version {
		return genieerrors.New(genieerrors.KindConflict, "store.PutSnapshot",
			"user %s moved from version %d to %d", userID, snap.Session.Version, stored.Session.Version)
	}

	committed := snap.Clone()
	committed.Session.Version++
	committed.Session.LastUpdated = s.clock().UTC()
	s.setUser(userID, committed)
	if err := s.persistLocked(); err != nil {
		s.setUser(userID, stored)
		return err
	}
	return nil
}

// AddTask persists a new task for the user.
func (s *FileStore) AddTask(ctx context.Context, userID string, t *task.Task) error {
	if t == nil || t.ID == "" {
		return genieerrors.New(genieerrors.KindValidation, "store.AddTask", "task must have an id")
	}
	return s.mutateUser(userID, "store.AddTask", func(snap *task.UserSnapshot) error {
		if _, exists := snap.Tasks[t.ID]; exists {
			return genieerrors.New(genieerrors.KindConflict, "store.AddTask", "task %s already exists", t.ID)
		}
		snap.Tasks[t.ID] = t.Clone()
		return nil
	})
}

// GetTask retrieves one task by id.
func (s *FileStore) GetTask(ctx context.Context, userID, taskID string) (*task.Task, error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	snap, ok := s.doc.Users[userID]
	if !ok {
		return nil, genieerrors.New(genieerrors.KindNotFound, "store.GetTask", "unknown user %s", userID)
	}
	t, ok := snap.Tasks[taskID]
	if !ok {
		return nil, genieerrors.New(genieerrors.KindNotFound, "store.GetTask", "unknown task %s", taskID)
	}
	return t.Clone(), nil
}

// UpdateTask replaces a stored task.
func (s *FileStore) UpdateTask(ctx context.Context, userID string, t *task.Task) error {
	if t == nil || t.ID == "" {
		return genieerrors.New(genieerrors.KindValidation, "store.UpdateTask", "task must have an id")
	}
	return s.mutateUser(userID, "store.UpdateTask", func(snap *task.UserSnapshot) error {
		if _, ok := snap.Tasks[t.ID]; !ok {
			return genieerrors.New(genieerrors.KindNotFound, "store.UpdateTask", "unknown task %s", t.ID)
		}
		snap.Tasks[t.ID] = t.Clone()
		return nil
	})
}

// DeleteTask removes a task.
func (s *FileStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	return s.mutateUser(userID, "store.DeleteTask", func(snap *task.UserSnapshot) error {
		if _, ok := snap.Tasks[taskID]; !ok {
			return genieerrors.New(genieerrors.KindNotFound, "store.DeleteTask", "unknown task %s", taskID)
		}
		delete(snap.Tasks, taskID)
		return nil
	})
}

// ListTasks returns the user's tasks ordered by creation time, optionally
// filtered to the given statuses.
func (s *FileStore) ListTasks(ctx context.Context, userID string, statuses ...task.Status) ([]*task.Task, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.OrderedTasks(statuses...), nil
}

// AddFeedback appends a feedback record and folds energy observations into
// the per-hour pattern.
func (s *FileStore) AddFeedback(ctx context.Context, userID string, fb task.Feedback) error {
	if err := fb.Validate(); err != nil {
		return genieerrors.Wrap(genieerrors.KindValidation, "store.AddFeedback", err, "invalid feedback")
	}
	return s.mutateUser(userID, "store.AddFeedback", func(snap *task.UserSnapshot) error {
		if fb.Timestamp.IsZero() {
			fb.Timestamp = s.clock().UTC()
		}
		snap.Feedback = append(snap.Feedback, fb)
		// Any record may carry an energy score, not just energy feedback.
		if fb.Energy > 0 {
			task.FoldEnergy(snap.EnergyPatterns, fb.Timestamp.UTC().Hour(), fb.Energy)
		}
		return nil
	})
}

// ListFeedback returns all feedback records in insertion order.
func (s *FileStore) ListFeedback(ctx context.Context, userID string) ([]task.Feedback, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.Feedback, nil
}

// UpdatePreferences replaces the user's preferences.
func (s *FileStore) UpdatePreferences(ctx context.Context, userID string, prefs task.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return genieerrors.Wrap(genieerrors.KindValidation, "store.UpdatePreferences", err, "invalid preferences")
	}
	return s.mutateUser(userID, "store.UpdatePreferences", func(snap *task.UserSnapshot) error {
		snap.Preferences = prefs
		return nil
	})
}

// Analytics derives reporting figures for the user.
func (s *FileStore) Analytics(ctx context.Context, userID string) (*task.Analytics, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return snap.Analytics(), nil
}

// mutateUser runs fn against the user's live snapshot under the writer lock
// and persists the document. fn's changes are rolled back if the write fails.
func (s *FileStore) mutateUser(userID, op string, fn func(*task.UserSnapshot) error) error {
	if err := checkUserID(userID); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stored, ok := s.doc.Users[userID]
	if !ok {
		return genieerrors.New(genieerrors.KindNotFound, op, "unknown user %s", userID)
	}

	draft := stored.Clone()
	if err := fn(draft); err != nil {
		return err
	}
	draft.Session.Version++
	draft.Session.LastUpdated = s.clock().UTC()
	s.setUser(userID, draft)
	if err := s.persistLocked(); err != nil {
		s.setUser(userID, stored)
		return err
	}
	return nil
}

// setUser publishes a snapshot to readers. Callers hold writeMu; stateMu
// keeps Snapshot/GetTask from observing the map mid-write.
func (s *FileStore) setUser(userID string, snap *task.UserSnapshot) {
	s.stateMu.Lock()
	s.doc.Users[userID] = snap
	s.stateMu.Unlock()
}

func (s *FileStore) dropUser(userID string) {
	s.stateMu.Lock()
	delete(s.doc.Users, userID)
	s.stateMu.Unlock()
}

// swapDoc replaces the whole document during a backup restore.
func (s *FileStore) swapDoc(doc *document) {
	s.stateMu.Lock()
	s.doc = doc
	s.stateMu.Unlock()
}

// persistLocked writes the document atomically: marshal, temp file in the
// same directory, fsync, rename. Takes a pre-write backup when enabled.
// Callers must hold writeMu.
func (s *FileStore) persistLocked() error {
	if s.autoBackup {
		if err := s.backupCurrent("auto"); err != nil {
			s.logger.Warn("Pre-write backup failed: %v", err)
		}
	}

	data, err := jsonx.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return genieerrors.Wrap(genieerrors.KindCorrupt, "store.persist", err, "marshal progress document")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".progress-*.tmp")
	if err != nil {
		return genieerrors.Wrap(genieerrors.KindTransientExternal, "store.persist", err, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return genieerrors.Wrap(genieerrors.KindTransientExternal, "store.persist", err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return genieerrors.Wrap(genieerrors.KindTransientExternal, "store.persist", err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return genieerrors.Wrap(genieerrors.KindTransientExternal, "store.persist", err, "close temp file")
	}

	s.stateMu.Lock()
	err = os.Rename(tmpName, s.path)
	s.stateMu.Unlock()
	if err != nil {
		_ = os.Remove(tmpName)
		return genieerrors.Wrap(genieerrors.KindTransientExternal, "store.persist", err, "replace progress document")
	}
	return nil
}

func checkUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return genieerrors.New(genieerrors.KindValidation, "store", "user id must not be empty")
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

var _ task.Store = (*FileStore)(nil)

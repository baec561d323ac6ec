package store

import (
	"genie/internal/domain/task"
	jsonx "genie/internal/shared/json"
)

// detectLegacy reports whether raw holds the legacy single-user layout: a
// flat {taskId: task} map with no users envelope. Returns the parsed tasks
// when it does.
func detectLegacy(raw []byte) (bool, map[string]*task.Task) {
	var top map[string]jsonx.RawMessage
	if err := jsonx.Unmarshal(raw, &top); err != nil {
		return false, nil
	}
	if len(top) == 0 {
		return false, nil
	}
	if _, ok := top["users"]; ok {
		return false, nil
	}
	if _, ok := top["system"]; ok {
		return false, nil
	}

	tasks := make(map[string]*task.Task, len(top))
	for id, msg := range top {
		var t task.Task
		if err := jsonx.Unmarshal(msg, &t); err != nil {
			return false, nil
		}
		if t.Heading == "" {
			return false, nil
		}
		if t.ID == "" {
			t.ID = id
		}
		if t.Status == "" {
			t.Status = task.StatusPending
		}
		tasks[id] = &t
	}
	return true, tasks
}

// migrateLegacy performs the one-shot migration: a migration backup of the
// legacy file, then the tasks wrapped under the default user. Idempotent
// because the migrated layout no longer detects as legacy.
func (s *FileStore) migrateLegacy(tasks map[string]*task.Task) *document {
	if err := s.backupCurrent("migration"); err != nil {
		s.logger.Warn("Migration backup failed: %v", err)
	}
	s.logger.Info("Migrating legacy progress document: %d tasks under %s", len(tasks), task.DefaultUserID)
	return s.wrapLegacy(tasks)
}

// wrapLegacy builds a current-layout document owning the legacy tasks,
// synthesizing session metadata from the oldest and newest task timestamps.
func (s *FileStore) wrapLegacy(tasks map[string]*task.Task) *document {
	doc := s.emptyDocument()
	snap := task.NewUserSnapshot(s.clock())
	for id, t := range tasks {
		snap.Tasks[id] = t.Clone()
		if !t.CreatedAt.IsZero() && t.CreatedAt.Before(snap.Session.CreatedAt) {
			snap.Session.CreatedAt = t.CreatedAt.UTC()
		}
		if t.UpdatedAt.After(snap.Session.LastUpdated) {
			snap.Session.LastUpdated = t.UpdatedAt.UTC()
		}
	}
	doc.Users[task.DefaultUserID] = snap
	return doc
}

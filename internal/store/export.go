package store

import (
	"context"
	"time"

	"genie/internal/domain/task"
	genieerrors "genie/internal/errors"
	jsonx "genie/internal/shared/json"
)

// ExportPayload is the portable form of one user's data.
type ExportPayload struct {
	UserID     string             `json:"user_id"`
	ExportedAt time.Time          `json:"exported_at"`
	Snapshot   *task.UserSnapshot `json:"snapshot"`
}

// ExportUser serializes one user's complete state.
func (s *FileStore) ExportUser(ctx context.Context, userID string) ([]byte, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	payload := ExportPayload{
		UserID:     userID,
		ExportedAt: s.clock().UTC(),
		Snapshot:   snap,
	}
	data, err := jsonx.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, genieerrors.Wrap(genieerrors.KindCorrupt, "store.ExportUser", err, "marshal export")
	}
	return data, nil
}

// ImportUser installs an exported payload, replacing any existing state for
// that user. Returns the imported user id.
func (s *FileStore) ImportUser(ctx context.Context, data []byte) (string, error) {
	var payload ExportPayload
	if err := jsonx.Unmarshal(data, &payload); err != nil {
		return "", genieerrors.Wrap(genieerrors.KindValidation, "store.ImportUser", err, "parse export payload")
	}
	if payload.UserID == "" || payload.Snapshot == nil {
		return "", genieerrors.New(genieerrors.KindValidation, "store.ImportUser", "payload must carry user_id and snapshot")
	}

	snap := payload.Snapshot.Clone()
	if snap.Tasks == nil {
		snap.Tasks = map[string]*task.Task{}
	}
	if snap.EnergyPatterns == nil {
		snap.EnergyPatterns = map[int]task.EnergyPattern{}
	}
	if snap.Session.Version == 0 {
		snap.Session.Version = 1
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, exists := s.doc.Users[payload.UserID]; exists {
		if err := s.backupCurrent("pre_import"); err != nil {
			s.logger.Warn("Backup before import failed: %v", err)
		}
	}
	prior, had := s.doc.Users[payload.UserID]
	s.doc.Users[payload.UserID] = snap
	if err := s.persistLocked(); err != nil {
		if had {
			s.doc.Users[payload.UserID] = prior
		} else {
			delete(s.doc.Users, payload.UserID)
		}
		return "", err
	}
	s.logger.Info("Imported user %s (%d tasks)", payload.UserID, len(snap.Tasks))
	return payload.UserID, nil
}

package sessions

import (
	"context"
	"encoding/json"
	"os"

	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/paths"
	"github.com/grovetools/memory/pkg/process"
	"github.com/sirupsen/logrus"
)

// MigrateFromLegacy converts the single-session file written by older versions
// (active-session.json) into a registry entry plus a state file, then renames it
// with a .migrated suffix. Nothing happens once the multi-session registry file
// exists. It runs at most once per registry; later calls return the first result.
func (r *FileSystemRegistry) MigrateFromLegacy(ctx context.Context, self process.Identity) (bool, error) {
	r.migrateOnce.Do(func() {
		r.migrated, r.migrateErr = r.migrateLegacy(ctx, self)
	})
	return r.migrated, r.migrateErr
}

func (r *FileSystemRegistry) migrateLegacy(ctx context.Context, self process.Identity) (bool, error) {
	legacyPath := r.layout.LegacySession()
	if _, err := os.Stat(r.layout.Registry()); err == nil {
		if _, err := os.Stat(legacyPath); err == nil {
			r.logger.WithField("path", legacyPath).Debug("Registry exists, leaving legacy session file alone")
		}
		return false, nil
	}
	data, err := os.ReadFile(legacyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	var legacy models.SessionState
	if err := json.Unmarshal(data, &legacy); err != nil || legacy.SessionID == "" {
		r.logger.WithField("path", legacyPath).Warn("Legacy session file is unusable, archiving it")
		return false, r.archiveLegacy(legacyPath)
	}

	if legacy.Hostname == "" {
		legacy.Hostname = self.Hostname
	}
	if legacy.PID == 0 {
		legacy.PID = self.PID
	}
	if legacy.StartedAt.IsZero() {
		if info, err := os.Stat(legacyPath); err == nil {
			legacy.StartedAt = info.ModTime().UTC()
		} else {
			legacy.StartedAt = r.now().UTC()
		}
	}

	if _, found := r.FindByID(legacy.SessionID); !found {
		if err := r.Register(ctx, legacy.Entry()); err != nil {
			return false, err
		}
	}
	if !r.stateExists(legacy.SessionID) {
		if err := r.SaveState(&legacy); err != nil {
			return false, err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"session_id": legacy.SessionID,
		"pid":        legacy.PID,
	}).Info("Migrated legacy session file")
	return true, r.archiveLegacy(legacyPath)
}

func (r *FileSystemRegistry) archiveLegacy(legacyPath string) error {
	return os.Rename(legacyPath, legacyPath+paths.MigratedSuffix)
}

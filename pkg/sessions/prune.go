package sessions

import (
	"context"
	"os"
	"time"

	"github.com/grovetools/memory/pkg/fsstore"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/process"
	"github.com/sirupsen/logrus"
)

// Prune reasons.
const (
	ReasonMissingState = "missing_state"
	ReasonStale        = "stale"
	ReasonDeadPID      = "dead_pid"
)

// PrunedEntry is a registry entry removed by PruneStale.
type PrunedEntry struct {
	Entry  models.RegistryEntry `json:"entry"`
	Reason string               `json:"reason"`
}

// PruneReport summarizes one PruneStale pass.
type PruneReport struct {
	Removed        []PrunedEntry         `json:"removed"`
	Adopted        *models.RegistryEntry `json:"adopted,omitempty"`
	OrphansRemoved []string              `json:"orphans_removed"`
}

// PruneStale removes entries that can no longer be resumed and lets self adopt
// a recently crashed session on the same host. Rules, first match wins:
//
//  1. the state file is missing and the entry is older than MissingStateGrace: removed
//  2. the entry is older than StaleThreshold: removed
//  3. same host and the PID is dead: adopted when younger than AdoptThreshold, else removed
//
// A process adopts at most one session, the youngest candidate, and only when it
// owns none. Removed entries lose their session directory. Afterwards session
// directories without an entry and older than OrphanGrace are swept.
func (r *FileSystemRegistry) PruneStale(ctx context.Context, self process.Identity) (PruneReport, error) {
	return r.prune(ctx, self, true)
}

// Sweep applies the PruneStale removal rules for hostname without adopting
// anything. Recently crashed sessions stay registered for the next server.
func (r *FileSystemRegistry) Sweep(ctx context.Context, hostname string) (PruneReport, error) {
	return r.prune(ctx, process.Identity{Hostname: hostname}, false)
}

func (r *FileSystemRegistry) prune(ctx context.Context, self process.Identity, adopt bool) (PruneReport, error) {
	report := PruneReport{Removed: []PrunedEntry{}, OrphansRemoved: []string{}}
	now := r.now()
	policy := r.Policy()

	err := r.mutate(ctx, func(doc *models.RegistryDocument) (bool, error) {
		changed := false
		kept := make([]models.RegistryEntry, 0, len(doc.Sessions))
		ownsSession := false
		adoptIndex := -1

		for _, entry := range doc.Sessions {
			age := entry.Age(now)
			reason := ""

			switch {
			case !r.stateExists(entry.SessionID) && age > policy.MissingStateGrace:
				reason = ReasonMissingState
			case age > policy.StaleThreshold:
				reason = ReasonStale
			case entry.Hostname == self.Hostname && entry.PID != self.PID && !r.prober.Alive(entry.PID):
				if age >= policy.AdoptThreshold {
					reason = ReasonDeadPID
				} else if adoptIndex < 0 || entry.StartedAt.After(kept[adoptIndex].StartedAt) {
					adoptIndex = len(kept)
				}
			}

			if reason != "" {
				report.Removed = append(report.Removed, PrunedEntry{Entry: entry, Reason: reason})
				changed = true
				continue
			}
			if entry.Hostname == self.Hostname && entry.PID == self.PID {
				ownsSession = true
			}
			kept = append(kept, entry)
		}

		if adopt && adoptIndex >= 0 && !ownsSession {
			adopted := kept[adoptIndex]
			adopted.PID = self.PID
			kept[adoptIndex] = adopted
			report.Adopted = &adopted
			changed = true
		}

		doc.Sessions = kept
		return changed, nil
	})
	if err != nil {
		return report, err
	}

	for _, removed := range report.Removed {
		r.logger.WithFields(logrus.Fields{
			"session_id": removed.Entry.SessionID,
			"pid":        removed.Entry.PID,
			"reason":     removed.Reason,
		}).Info("Pruned session")
		if err := os.RemoveAll(r.layout.SessionDir(removed.Entry.SessionID)); err != nil {
			r.logger.WithError(err).Warn("Failed to remove pruned session directory")
		}
	}

	if report.Adopted != nil {
		r.logger.WithFields(logrus.Fields{
			"session_id": report.Adopted.SessionID,
			"pid":        self.PID,
		}).Info("Adopted session from dead process")
		if err := r.rebindState(report.Adopted.SessionID, self.PID); err != nil {
			r.logger.WithError(err).Warn("Failed to rewrite pid in adopted session state")
		}
	}

	report.OrphansRemoved = r.sweepOrphans(now, policy.OrphanGrace)
	return report, nil
}

func (r *FileSystemRegistry) stateExists(sessionID string) bool {
	_, err := os.Stat(r.layout.SessionState(sessionID))
	return err == nil
}

func (r *FileSystemRegistry) rebindState(sessionID string, pid int) error {
	var state models.SessionState
	found, err := fsstore.ReadJSON(r.layout.SessionState(sessionID), &state)
	if err != nil || !found {
		return err
	}
	state.PID = pid
	return r.SaveState(&state)
}

// sweepOrphans removes session directories that no entry references.
func (r *FileSystemRegistry) sweepOrphans(now time.Time, grace time.Duration) []string {
	removed := []string{}
	dirEntries, err := os.ReadDir(r.layout.Sessions())
	if err != nil {
		return removed
	}

	registered := make(map[string]bool)
	for _, entry := range r.load().Sessions {
		registered[entry.SessionID] = true
	}

	for _, dirEntry := range dirEntries {
		if !dirEntry.IsDir() || registered[dirEntry.Name()] {
			continue
		}
		info, err := dirEntry.Info()
		if err != nil || now.Sub(info.ModTime()) <= grace {
			continue
		}
		if err := os.RemoveAll(r.layout.SessionDir(dirEntry.Name())); err != nil {
			r.logger.WithError(err).WithField("session_id", dirEntry.Name()).Warn("Failed to remove orphan session directory")
			continue
		}
		r.logger.WithField("session_id", dirEntry.Name()).Debug("Removed orphan session directory")
		removed = append(removed, dirEntry.Name())
	}
	return removed
}

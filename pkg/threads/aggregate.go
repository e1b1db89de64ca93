package threads

import (
	"sort"
	"strings"
	"time"

	"github.com/grovetools/memory/pkg/models"
)

// ProjectStatePrefix marks the pseudo-thread that carries a project status summary.
// It is tracked separately and never aggregated as a work item.
const ProjectStatePrefix = "PROJECT STATE:"

// AggregateResult holds threads carried over from closed sessions.
type AggregateResult struct {
	Threads []models.Thread `json:"threads"`
	// ProjectState is the newest project state pseudo-thread, if any.
	ProjectState *models.Thread `json:"project_state,omitempty"`
	// Sessions is how many closed sessions were scanned.
	Sessions int `json:"sessions"`
}

// IsProjectState reports whether text is the project state pseudo-thread.
func IsProjectState(text string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), ProjectStatePrefix)
}

// Aggregate collects the open threads of the maxSessions most recent sessions
// closed within maxAgeDays of now. Newer sessions win when two carry the same
// normalized text.
func Aggregate(sessions []models.ClosedSession, maxSessions, maxAgeDays int, now time.Time) AggregateResult {
	cutoff := now.Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	recent := make([]models.ClosedSession, 0, len(sessions))
	for _, s := range sessions {
		if !s.ClosedAt.Before(cutoff) {
			recent = append(recent, s)
		}
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].ClosedAt.After(recent[j].ClosedAt)
	})
	if maxSessions > 0 && len(recent) > maxSessions {
		recent = recent[:maxSessions]
	}

	result := AggregateResult{Threads: []models.Thread{}, Sessions: len(recent)}
	seen := make(map[string]bool)
	for _, s := range recent {
		for _, raw := range s.OpenThreads {
			t, err := Normalize(raw, s.SessionID, s.ClosedAt)
			if err != nil || t.Status != models.ThreadOpen {
				continue
			}
			if IsProjectState(t.Text) {
				if result.ProjectState == nil {
					state := t
					result.ProjectState = &state
				}
				continue
			}
			key := NormalizeText(t.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			result.Threads = append(result.Threads, t)
		}
	}
	return result
}

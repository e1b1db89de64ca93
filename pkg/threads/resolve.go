package threads

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/models"
)

var duplicateOfPattern = regexp.MustCompile(`(?i)duplicate\s+of\s+(t-[a-z0-9]+)`)

// ResolveRequest selects a thread by id or by text and records how it was resolved.
type ResolveRequest struct {
	ThreadID  string
	TextMatch string
	Note      string
	SessionID string
}

// ResolveResult lists what a resolve call changed.
type ResolveResult struct {
	Resolved models.Thread  `json:"resolved"`
	Cascaded *models.Thread `json:"cascaded,omitempty"`
	// AlreadyResolved is set when the matched thread was resolved before this call.
	AlreadyResolved bool `json:"already_resolved,omitempty"`
	// Archived is set when the matched thread is archived. Archived threads
	// are terminal and are returned unchanged.
	Archived bool `json:"archived,omitempty"`
}

// Changed reports whether the call altered any thread.
func (r ResolveResult) Changed() bool {
	return (!r.AlreadyResolved && !r.Archived) || r.Cascaded != nil
}

// Resolve marks one thread resolved. An exact id match wins; otherwise the
// first open thread whose text contains the match (case-insensitive) is used.
// A note reading "duplicate of t-xxxx" also resolves t-xxxx, one level deep.
// Archived threads are never resolved, neither directly nor by cascade.
func Resolve(list []models.Thread, req ResolveRequest, now time.Time) ([]models.Thread, ResolveResult, error) {
	var result ResolveResult

	idx := findTarget(list, req)
	if idx < 0 {
		return list, result, errors.ThreadNotFound(req.ThreadID, req.TextMatch, len(list))
	}

	out := make([]models.Thread, len(list))
	copy(out, list)

	switch out[idx].Status {
	case models.ThreadArchived:
		result.Resolved = out[idx]
		result.Archived = true
		return list, result, nil
	case models.ThreadResolved:
		result.Resolved = out[idx]
		result.AlreadyResolved = true
	default:
		out[idx] = markResolved(out[idx], req.Note, req.SessionID, now)
		result.Resolved = out[idx]
	}

	if ref := duplicateReference(req.Note); ref != "" && ref != out[idx].ID {
		for i := range out {
			if out[i].ID != ref || out[i].Status == models.ThreadResolved || out[i].Status == models.ThreadArchived {
				continue
			}
			note := fmt.Sprintf("Auto-resolved: %s was resolved as a duplicate of this thread", out[idx].ID)
			out[i] = markResolved(out[i], note, req.SessionID, now)
			cascaded := out[i]
			result.Cascaded = &cascaded
			break
		}
	}

	return out, result, nil
}

func findTarget(list []models.Thread, req ResolveRequest) int {
	if req.ThreadID != "" {
		for i, t := range list {
			if t.ID == req.ThreadID {
				return i
			}
		}
	}

	needle := req.TextMatch
	if needle == "" {
		needle = req.ThreadID
	}
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return -1
	}
	for i, t := range list {
		if t.Status == models.ThreadOpen && strings.Contains(strings.ToLower(t.Text), needle) {
			return i
		}
	}
	return -1
}

func markResolved(t models.Thread, note, sessionID string, now time.Time) models.Thread {
	resolvedAt := now.UTC()
	t.Status = models.ThreadResolved
	t.ResolvedAt = &resolvedAt
	t.ResolvedBySession = sessionID
	t.ResolutionNote = note
	t.LastTouchedAt = &resolvedAt
	return t
}

// duplicateReference extracts the id named by "duplicate of <id>".
func duplicateReference(note string) string {
	m := duplicateOfPattern.FindStringSubmatch(note)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

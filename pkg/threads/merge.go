package threads

import (
	"github.com/grovetools/memory/pkg/models"
)

// Merge unions two thread lists by id. When both sides hold the same id the
// higher status wins (resolved > archived > dormant > open), so a thread closed
// by any writer is never reopened by a stale copy. Threads only one side knows
// are kept. The result lists a's threads first, then those only in b.
func Merge(a, b []models.Thread) []models.Thread {
	indexB := make(map[string]int, len(b))
	for i, t := range b {
		if t.ID != "" {
			if _, seen := indexB[t.ID]; !seen {
				indexB[t.ID] = i
			}
		}
	}

	out := make([]models.Thread, 0, len(a)+len(b))
	used := make(map[string]bool, len(a))
	for _, t := range a {
		if j, ok := indexB[t.ID]; ok && t.ID != "" {
			t = mergeThread(t, b[j])
			used[t.ID] = true
		}
		out = append(out, t)
	}
	for _, t := range b {
		if t.ID != "" && used[t.ID] {
			continue
		}
		if t.ID != "" {
			used[t.ID] = true
		}
		out = append(out, t)
	}
	return out
}

// mergeThread combines two copies of the same thread.
func mergeThread(x, y models.Thread) models.Thread {
	switch {
	case x.Status.Rank() > y.Status.Rank():
		return fill(x, y, false)
	case y.Status.Rank() > x.Status.Rank():
		return fill(y, x, false)
	}

	// Same status: the most recently touched copy leads, x on ties.
	if y.LastActivity().After(x.LastActivity()) {
		return fill(y, x, true)
	}
	return fill(x, y, true)
}

// fill completes primary with values it lacks from secondary. Resolution fields
// are only taken when both copies share a status.
func fill(primary, secondary models.Thread, sameStatus bool) models.Thread {
	if primary.Text == "" {
		primary.Text = secondary.Text
	}
	if primary.LinearIssue == "" {
		primary.LinearIssue = secondary.LinearIssue
	}
	if primary.SourceSession == "" {
		primary.SourceSession = secondary.SourceSession
	}
	if primary.CreatedAt.IsZero() || (!secondary.CreatedAt.IsZero() && secondary.CreatedAt.Before(primary.CreatedAt)) {
		primary.CreatedAt = secondary.CreatedAt
	}
	if secondary.LastTouchedAt != nil && (primary.LastTouchedAt == nil || secondary.LastTouchedAt.After(*primary.LastTouchedAt)) {
		touched := *secondary.LastTouchedAt
		primary.LastTouchedAt = &touched
	}
	if secondary.TouchCount > primary.TouchCount {
		primary.TouchCount = secondary.TouchCount
	}
	if sameStatus {
		if primary.ResolvedAt == nil && secondary.ResolvedAt != nil {
			resolvedAt := *secondary.ResolvedAt
			primary.ResolvedAt = &resolvedAt
		}
		if primary.ResolvedBySession == "" {
			primary.ResolvedBySession = secondary.ResolvedBySession
		}
		if primary.ResolutionNote == "" {
			primary.ResolutionNote = secondary.ResolutionNote
		}
	}
	return primary
}

// Deduplicate collapses threads sharing an id, then open threads sharing the
// same normalized text. The first occurrence keeps its position. Running it on
// its own output changes nothing.
func Deduplicate(list []models.Thread) []models.Thread {
	byID := make(map[string]int, len(list))
	out := make([]models.Thread, 0, len(list))
	for _, t := range list {
		if t.ID != "" {
			if i, ok := byID[t.ID]; ok {
				out[i] = mergeThread(out[i], t)
				continue
			}
			byID[t.ID] = len(out)
		}
		out = append(out, t)
	}

	byText := make(map[string]int, len(out))
	result := make([]models.Thread, 0, len(out))
	for _, t := range out {
		if t.Status == models.ThreadOpen {
			key := NormalizeText(t.Text)
			if i, ok := byText[key]; ok {
				kept := result[i]
				if t.TouchCount > kept.TouchCount {
					kept.TouchCount = t.TouchCount
				}
				if t.LastTouchedAt != nil && (kept.LastTouchedAt == nil || t.LastTouchedAt.After(*kept.LastTouchedAt)) {
					touched := *t.LastTouchedAt
					kept.LastTouchedAt = &touched
				}
				result[i] = kept
				continue
			}
			byText[key] = len(result)
		}
		result = append(result, t)
	}
	return result
}

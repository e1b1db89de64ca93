package cache

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/grovetools/memory/pkg/embedding"
	"github.com/grovetools/memory/pkg/models"
	"github.com/sirupsen/logrus"
)

// DefaultLimit is used when a search asks for k <= 0 results.
const DefaultLimit = 5

// SearchResult is the answer to a search. Degraded is set when neither the
// live snapshot nor the remote store could answer.
type SearchResult struct {
	Matches  []models.ScarMatch `json:"matches"`
	Source   Source             `json:"source"`
	Degraded bool               `json:"degraded"`
}

// Search returns up to k scars of project matching query, best first, ties by
// id. It tries the in-memory snapshot, then the remote search, then the last
// persisted snapshot, and finally returns an empty degraded result. It never
// fails.
func (c *Cache) Search(ctx context.Context, query string, k int, project string) SearchResult {
	if k <= 0 {
		k = DefaultLimit
	}
	queryVec := c.embedQuery(ctx, query)

	if snap := c.Snapshot(project); snap != nil {
		if c.stale(snap) {
			c.EnsureInitialized(project)
		}
		return SearchResult{Matches: rank(snap.Records, query, queryVec, k), Source: SourceLocal}
	}
	c.EnsureInitialized(project)

	if c.remote != nil {
		var matches []models.ScarMatch
		err := c.fallback.Do(ctx, "cache.search", func(ctx context.Context) error {
			var err error
			matches, err = c.remote.SearchScars(ctx, project, query, queryVec, k)
			return err
		})
		if err == nil {
			sortMatches(matches)
			if len(matches) > k {
				matches = matches[:k]
			}
			if matches == nil {
				matches = []models.ScarMatch{}
			}
			return SearchResult{Matches: matches, Source: SourceRemote}
		}
		c.logger.WithError(err).WithField("project", project).Debug("Remote search failed, trying persisted snapshot")
	}

	if snap := c.persisted(ctx, project); snap != nil {
		return SearchResult{Matches: rank(snap.Records, query, queryVec, k), Source: SourceSnapshot, Degraded: true}
	}

	c.logger.WithFields(logrus.Fields{"project": project}).Warn("No search source available, returning empty result")
	return SearchResult{Matches: []models.ScarMatch{}, Source: SourceNone, Degraded: true}
}

func (c *Cache) embedQuery(ctx context.Context, query string) []float64 {
	if c.embedder == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	vectors, err := c.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		c.logger.WithError(err).Debug("Query embedding unavailable, using term matching")
		return nil
	}
	return vectors[0]
}

// rank scores records against the query. Records with an embedding are scored
// by cosine when a query vector is available, the rest by term overlap.
func rank(records []models.Scar, query string, queryVec []float64, k int) []models.ScarMatch {
	terms := tokenize(query)
	matches := make([]models.ScarMatch, 0, k)
	for _, scar := range records {
		var score float64
		if queryVec != nil && len(scar.Embedding) == len(queryVec) {
			score = embedding.Cosine(queryVec, scar.Embedding)
		} else {
			score = termScore(scar, terms)
		}
		if score > 0 {
			matches = append(matches, models.ScarMatch{Scar: scar, Score: score})
		}
	}
	sortMatches(matches)
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func sortMatches(matches []models.ScarMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// termScore is the fraction of query terms found in the scar's text or keywords.
func termScore(scar models.Scar, terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	text := strings.ToLower(scar.Title + " " + scar.Description + " " + strings.Join(scar.Keywords, " "))
	hits := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

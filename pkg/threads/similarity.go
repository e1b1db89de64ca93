package threads

import (
	"math"
	"strings"
	"unicode"

	"github.com/grovetools/memory/pkg/models"
)

// DefaultDedupThreshold is the similarity above which a new thread duplicates an open one.
const DefaultDedupThreshold = 0.85

// TermCosine is the cosine similarity of the term-frequency vectors of a and b.
// It is the local stand-in for embedding similarity.
func TermCosine(a, b string) float64 {
	ta, tb := termFrequencies(a), termFrequencies(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for term, n := range ta {
		normA += n * n
		dot += n * tb[term]
	}
	for _, n := range tb {
		normB += n * n
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func termFrequencies(text string) map[string]float64 {
	terms := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tf := make(map[string]float64, len(terms))
	for _, term := range terms {
		tf[term]++
	}
	return tf
}

// Match is the best duplicate candidate found by FindSimilar.
type Match struct {
	Thread     models.Thread
	Similarity float64
}

// FindSimilar returns the open thread scoring highest above threshold.
// score compares a candidate with the text being checked.
func FindSimilar(list []models.Thread, threshold float64, score func(candidate models.Thread) float64) (Match, bool) {
	var best Match
	found := false
	for _, t := range list {
		if t.Status != models.ThreadOpen {
			continue
		}
		s := score(t)
		if s > threshold && (!found || s > best.Similarity) {
			best = Match{Thread: t, Similarity: s}
			found = true
		}
	}
	return best, found
}

// TextScorer scores candidates by term cosine against text.
func TextScorer(text string) func(models.Thread) float64 {
	return func(candidate models.Thread) float64 {
		if NormalizeText(candidate.Text) == NormalizeText(text) {
			return 1
		}
		return TermCosine(candidate.Text, text)
	}
}

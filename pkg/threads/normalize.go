// Package threads manages the lifecycle of threads, the unresolved work items
// carried across sessions: normalization, merging of local and remote copies,
// deduplication, resolution, aggregation from closed sessions and triage.
package threads

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/models"
	"github.com/mitchellh/mapstructure"
)

// idNamespace seeds ids derived from thread text.
var idNamespace = uuid.MustParse("6f1c7a52-93a4-4b8e-9d0c-3e2b1f5a7c11")

// NewID returns a random thread id: "t-" followed by 8 lowercase hex characters.
func NewID() string {
	return "t-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// DeriveID returns a stable id for a thread that arrived without one, so the
// same legacy thread gets the same id every time it is read.
func DeriveID(text string) string {
	u := uuid.NewSHA1(idNamespace, []byte(NormalizeText(text)))
	return "t-" + strings.ReplaceAll(u.String(), "-", "")[:8]
}

// NormalizeText lowercases text, collapses whitespace and drops trailing punctuation.
// Two threads with the same normalized text are the same work item.
func NormalizeText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimRight(normalized, ".!?;:, ")
}

// Normalize converts any accepted thread input into the canonical shape.
// Accepted inputs are a bare string, a map (decoded leniently), raw JSON,
// a models.Thread or a *models.Thread. Missing ids are derived from the text,
// unknown statuses become open and a missing created_at becomes now.
func Normalize(input interface{}, sessionID string, now time.Time) (models.Thread, error) {
	var t models.Thread

	switch v := input.(type) {
	case string:
		t = models.Thread{Text: v}
	case models.Thread:
		t = v
	case *models.Thread:
		if v == nil {
			return t, errors.InvalidInput("thread", "nil thread")
		}
		t = *v
	case json.RawMessage:
		if err := json.Unmarshal(v, &t); err != nil {
			return t, errors.InvalidInput("thread", err.Error())
		}
	case []byte:
		if err := json.Unmarshal(v, &t); err != nil {
			return t, errors.InvalidInput("thread", err.Error())
		}
	case map[string]interface{}:
		decoded, err := decodeMap(v)
		if err != nil {
			return t, errors.InvalidInput("thread", err.Error())
		}
		t = decoded
	default:
		return t, errors.InvalidInput("thread", fmt.Sprintf("unsupported thread input %T", input))
	}

	t.Text = strings.TrimSpace(t.Text)
	if t.Text == "" {
		return t, errors.InvalidInput("text", "thread text is empty")
	}
	if t.ID == "" {
		t.ID = DeriveID(t.Text)
	}
	if !t.Status.Valid() {
		t.Status = models.ThreadOpen
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now.UTC()
	}
	if t.SourceSession == "" {
		t.SourceSession = sessionID
	}
	if t.Status == models.ThreadResolved && t.ResolvedAt == nil {
		resolvedAt := t.CreatedAt
		t.ResolvedAt = &resolvedAt
	}
	return t, nil
}

// NormalizeAll normalizes a list, dropping entries that cannot be normalized.
func NormalizeAll(list []models.Thread, sessionID string, now time.Time) []models.Thread {
	out := make([]models.Thread, 0, len(list))
	for _, t := range list {
		normalized, err := Normalize(t, sessionID, now)
		if err != nil {
			continue
		}
		out = append(out, normalized)
	}
	return out
}

func decodeMap(m map[string]interface{}) (models.Thread, error) {
	var t models.Thread
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &t,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	})
	if err != nil {
		return t, err
	}
	if err := decoder.Decode(m); err != nil {
		return t, err
	}
	return t, nil
}

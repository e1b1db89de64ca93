package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadOpen     ThreadStatus = "open"
	ThreadResolved ThreadStatus = "resolved"
	ThreadDormant  ThreadStatus = "dormant"
	ThreadArchived ThreadStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadOpen, ThreadResolved, ThreadDormant, ThreadArchived:
		return true
	}
	return false
}

// Rank orders statuses for merging: a higher rank never yields to a lower one.
func (s ThreadStatus) Rank() int {
	switch s {
	case ThreadResolved:
		return 3
	case ThreadArchived:
		return 2
	case ThreadDormant:
		return 1
	default:
		return 0
	}
}

// Closed reports whether the thread left the open state.
func (s ThreadStatus) Closed() bool {
	return s.Rank() > 0
}

// Thread is a tracked unresolved work item carried across sessions.
type Thread struct {
	ID                string       `json:"id"`
	Text              string       `json:"text"`
	Status            ThreadStatus `json:"status"`
	CreatedAt         time.Time    `json:"created_at"`
	ResolvedAt        *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBySession string       `json:"resolved_by_session,omitempty"`
	ResolutionNote    string       `json:"resolution_note,omitempty"`
	LinearIssue       string       `json:"linear_issue,omitempty"`
	LastTouchedAt     *time.Time   `json:"last_touched_at,omitempty"`
	TouchCount        int          `json:"touch_count,omitempty"`
	SourceSession     string       `json:"source_session,omitempty"`
}

// threadFields has Thread's layout without its methods.
type threadFields Thread

// UnmarshalJSON accepts both the structured form and a legacy bare string.
// A bare string becomes an open thread without id; callers normalize it.
func (t *Thread) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*t = Thread{Text: text, Status: ThreadOpen}
		return nil
	}
	var fields threadFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*t = Thread(fields)
	return nil
}

// JSONSchema describes both accepted surface formats.
func (Thread) JSONSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	object := r.Reflect(&threadFields{})
	object.Version = ""
	object.ID = ""
	object.Required = []string{"text"}

	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string"},
			object,
		},
	}
}

// LastActivity returns the most recent time the thread was touched.
func (t Thread) LastActivity() time.Time {
	if t.LastTouchedAt != nil && t.LastTouchedAt.After(t.CreatedAt) {
		return *t.LastTouchedAt
	}
	return t.CreatedAt
}

// ThreadsDocument is the on-disk shape of threads.json.
type ThreadsDocument struct {
	Threads   []Thread  `json:"threads" jsonschema:"required"`
	UpdatedAt time.Time `json:"updated_at"`
}

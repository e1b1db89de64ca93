// Package schema reflects JSON Schemas for every document grove-memory persists
// and validates files against them when they are read back.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/grovetools/memory/config"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/models"
	"github.com/invopop/jsonschema"
)

// Kind names a persisted document type.
type Kind string

const (
	KindRegistry Kind = "registry"
	KindSession  Kind = "session"
	KindThreads  Kind = "threads"
	KindConfig   Kind = "config"
	KindLogging  Kind = "logging"
)

type definition struct {
	title       string
	description string
	value       interface{}
	fieldTag    string
}

var definitions = map[Kind]definition{
	KindRegistry: {
		title:       "Active Sessions Registry",
		description: "Schema for active-sessions.json.",
		value:       &models.RegistryDocument{},
	},
	KindSession: {
		title:       "Session State",
		description: "Schema for sessions/<id>/session.json.",
		value:       &models.SessionState{},
	},
	KindThreads: {
		title:       "Project Threads",
		description: "Schema for threads.json.",
		value:       &models.ThreadsDocument{},
	},
	KindConfig: {
		title:       "Grove Memory Configuration",
		description: "Schema for memory.yml and <root>/config.yml.",
		value:       &config.Config{},
		fieldTag:    "yaml",
	},
	KindLogging: {
		title:       "Grove Memory Logging Configuration",
		description: "Schema for the 'logging' extension in memory.yml.",
		value:       &logging.Config{},
		fieldTag:    "yaml",
	},
}

// Kinds lists every known document kind in a stable order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(definitions))
	for k := range definitions {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Reflect generates the schema for a document kind.
// Unknown properties are allowed so older binaries can read newer files.
func Reflect(kind Kind) (*jsonschema.Schema, error) {
	def, ok := definitions[kind]
	if !ok {
		return nil, fmt.Errorf("unknown schema kind '%s'", kind)
	}

	r := &jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
	}
	if def.fieldTag != "" {
		r.FieldNameTag = def.fieldTag
		r.ExpandedStruct = true
	}

	s := r.Reflect(def.value)
	s.Title = def.title
	s.Description = def.description
	return s, nil
}

// Generate returns the indented JSON of a kind's schema.
func Generate(kind Kind) ([]byte, error) {
	s, err := Reflect(kind)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(s, "", "  ")
}

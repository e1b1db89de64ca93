package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates persisted documents against their reflected schemas.
type Validator struct {
	schemas map[Kind]*jsonschema.Schema
}

var (
	defaultValidator    *Validator
	defaultValidatorErr error
	defaultOnce         sync.Once
)

// Default returns a process-wide Validator compiled on first use.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultValidatorErr = NewValidator()
	})
	return defaultValidator, defaultValidatorErr
}

// NewValidator compiles the schema of every kind.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[Kind]*jsonschema.Schema)}

	for _, kind := range Kinds() {
		data, err := Generate(kind)
		if err != nil {
			return nil, err
		}
		url := string(kind) + ".schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to add %s schema resource: %w", kind, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s schema: %w", kind, err)
		}
		v.schemas[kind] = compiled
	}

	return v, nil
}

// ValidateBytes validates raw JSON against the schema of kind.
func (v *Validator) ValidateBytes(kind Kind, data []byte) error {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return v.validate(kind, doc)
}

// Validate validates any value that marshals to JSON.
func (v *Validator) Validate(kind Kind, value interface{}) error {
	// The schema expects plain JSON-like objects.
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s for validation: %w", kind, err)
	}
	return v.ValidateBytes(kind, data)
}

func (v *Validator) validate(kind Kind, doc interface{}) error {
	compiled, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("unknown schema kind '%s'", kind)
	}
	if err := compiled.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			var errorMessages []string
			collectErrors(validationErr, &errorMessages)
			return fmt.Errorf("schema validation failed:\n%s", strings.Join(errorMessages, "\n"))
		}
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// collectErrors recursively collects all validation errors into a slice
func collectErrors(err *jsonschema.ValidationError, messages *[]string) {
	if err.InstanceLocation != "" || len(err.Causes) == 0 {
		*messages = append(*messages, fmt.Sprintf("- %s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		collectErrors(cause, messages)
	}
}

package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator validates tool arguments against a node's input schema.
// Compiled schemas are cached per schema text.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator returns an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: map[string]*gojsonschema.Schema{}}
}

// ValidateArgs checks args against the descriptor's input schema. A nil
// schema accepts anything.
func (sv *SchemaValidator) ValidateArgs(d *Descriptor, args map[string]any) error {
	if len(d.InputSchema) == 0 {
		return nil
	}
	schema, err := sv.getSchema(string(d.InputSchema))
	if err != nil {
		return fmt.Errorf("invalid input schema for tool %s: %w", d.Name, err)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args for tool %s: %w", d.Name, err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("validate args for tool %s: %w", d.Name, err)
	}
	if !result.Valid() {
		details := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			details[i] = desc.String()
		}
		return fmt.Errorf("tool %s: invalid arguments: %v", d.Name, details)
	}
	return nil
}

func (sv *SchemaValidator) getSchema(schemaJSON string) (*gojsonschema.Schema, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if s, ok := sv.cache[schemaJSON]; ok {
		return s, nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, err
	}
	sv.cache[schemaJSON] = s
	return s, nil
}

// Package schema validates entity shapes against embedded JSON Schemas
// (draft 2020-12) before they reach the persistence layer.
package schema

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

// Validator checks records against registered schemas.
type Validator interface {
	// Validate returns nil when record conforms to the schema registered
	// under schemaID, contracts.ErrValidation (wrapped, with detail)
	// otherwise.
	Validate(record map[string]any, schemaID string) error
}

// Compiler-backed validator holding compiled schemas.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the given schemaID -> schema-source map.
func NewValidator(sources map[string]string) (Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	for id, src := range sources {
		url := fmt.Sprintf("https://trustfabric.schemas.local/%s.schema.json", id)
		if err := c.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema load failed for %s: %w", id, err)
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(sources))
	for id := range sources {
		url := fmt.Sprintf("https://trustfabric.schemas.local/%s.schema.json", id)
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema compile failed for %s: %w", id, err)
		}
		compiled[id] = s
	}
	return &validator{schemas: compiled}, nil
}

// NewEntityValidator compiles the built-in fabric entity schemas.
func NewEntityValidator() (Validator, error) {
	return NewValidator(EntitySchemas())
}

func (v *validator) Validate(record map[string]any, schemaID string) error {
	s, ok := v.schemas[schemaID]
	if !ok {
		return fmt.Errorf("unknown schema %q: %w", schemaID, contracts.ErrValidation)
	}
	if err := s.Validate(toJSONValue(record)); err != nil {
		return fmt.Errorf("%s: %v: %w", schemaID, err, contracts.ErrValidation)
	}
	return nil
}

// toJSONValue rewrites nested map/slice values into the generic forms the
// jsonschema library expects.
func toJSONValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = toJSONValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = toJSONValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Generator wraps jsonschema.Reflector with the defaults used for tool arguments.
type Generator struct {
	reflector jsonschema.Reflector
}

// NewGenerator constructs a generator for flat tool-argument structs.
// Required fields come from `jsonschema:"required"` tags.
func NewGenerator() *Generator {
	return &Generator{
		reflector: jsonschema.Reflector{
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			DoNotReference:             true,
		},
	}
}

// Reflect returns the JSON schema for the provided value.
func (g *Generator) Reflect(v any) *jsonschema.Schema {
	return g.reflector.Reflect(v)
}

// Reflect derives the JSON schema for the provided value using a default generator.
func Reflect(v any) *jsonschema.Schema {
	return NewGenerator().Reflect(v)
}

// ReflectType allocates a zero value of T and reflects it to a schema.
func ReflectType[T any]() *jsonschema.Schema {
	var zero T
	return Reflect(&zero)
}

// Parameters is the provider-neutral shape of an object schema: the
// property map and the list of required property names.
type Parameters struct {
	Properties map[string]any
	Required   []string
}

// Map renders the parameters as a complete JSON schema object.
func (p Parameters) Map() map[string]any {
	m := map[string]any{
		"type":       "object",
		"properties": p.Properties,
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	return m
}

// ParametersFor reflects T and flattens the result into Parameters.
func ParametersFor[T any]() (Parameters, error) {
	s := ReflectType[T]()
	if s.Type != "object" {
		return Parameters{}, fmt.Errorf("schema for %T is %q, want object", *new(T), s.Type)
	}

	props := make(map[string]any, s.Properties.Len())
	for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
		b, err := json.Marshal(pair.Value)
		if err != nil {
			return Parameters{}, fmt.Errorf("encoding property %s: %w", pair.Key, err)
		}
		var prop map[string]any
		if err := json.Unmarshal(b, &prop); err != nil {
			return Parameters{}, fmt.Errorf("decoding property %s: %w", pair.Key, err)
		}
		props[pair.Key] = prop
	}

	return Parameters{
		Properties: props,
		Required:   s.Required,
	}, nil
}

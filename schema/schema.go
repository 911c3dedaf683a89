// Package schema generates the JSON Schemas used for tool parameters and
// plugin configuration, and validates configuration values against them.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Reflector is configured for tool and plugin config schemas.
// DoNotReference inlines all definitions to avoid $ref. Structs are closed
// (additionalProperties false) so generated config schemas reject unknown keys.
var Reflector = &jsonschema.Reflector{
	DoNotReference: true,
}

// Generate creates a JSON Schema from a Go type.
// The type should be a struct with json and jsonschema tags.
//
// Example:
//
//	type Config struct {
//	    Endpoint string `json:"endpoint" jsonschema:"required,description=Service URL"`
//	    Retries  int    `json:"retries,omitempty" jsonschema:"default=3"`
//	}
//
//	schema, err := schema.Generate[Config]()
func Generate[T any]() (json.RawMessage, error) {
	var zero T
	schema := Reflector.Reflect(&zero)
	return json.Marshal(schema)
}

// ConfigSchema generates a plugin configuration schema from a struct type.
// The result is accepted by ParseObjectSchema; map-typed fields are not, since
// they describe open objects.
func ConfigSchema[T any]() (json.RawMessage, error) {
	var zero T
	s := Reflector.Reflect(&zero)
	s.Version = ""
	s.ID = ""
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if _, err := ParseObjectSchema(data); err != nil {
		return nil, fmt.Errorf("config schema for %T: %w", zero, err)
	}
	return data, nil
}

// MustConfigSchema is like ConfigSchema but panics on error.
// Useful for package-level plugin definitions.
func MustConfigSchema[T any]() json.RawMessage {
	schema, err := ConfigSchema[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

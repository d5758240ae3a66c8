package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"

	"pathwatch/internal/schema"
)

var (
	schemaOnce   sync.Once
	schemaCached *jsonschema.Schema
)

// Schema describes the configuration file format.
func Schema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		schemaCached = schema.Generate(&File{})
		schemaCached.Title = "pathwatch configuration"
	})
	return schemaCached
}

// SchemaJSON renders Schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}

// JSONSchema lets durations be written as "250ms" or as milliseconds.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^-?([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$|^0$`},
			{Type: "integer"},
		},
		Description: "Go duration string or integer milliseconds",
	}
}

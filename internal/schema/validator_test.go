package schema

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/invopop/jsonschema"
)

func TestValidateRequiredField(t *testing.T) {
	s := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"name"},
	}
	err := Validate(s, map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "name: missing required field") {
		t.Fatalf("expected required field error, got %v", err)
	}
}

func TestValidateUnknownField(t *testing.T) {
	var additional jsonschema.Schema
	if err := json.Unmarshal([]byte("false"), &additional); err != nil {
		t.Fatalf("unmarshal false schema: %v", err)
	}
	s := &jsonschema.Schema{
		Type:                 "object",
		AdditionalProperties: &additional,
	}
	err := Validate(s, map[string]any{"extra": true})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Path != "extra" {
		t.Fatalf("expected unknown field error at extra, got %v", err)
	}
}

func TestValidateArrayItemPath(t *testing.T) {
	s := &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
	err := Validate(s, []any{"a", int64(3)})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Path != "[1]" || validation.Expected != "string" || validation.Actual != "integer" {
		t.Fatalf("unexpected error %+v", validation)
	}
	if !strings.Contains(err.Error(), "expected string, got integer (3)") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidateAnyOfAndOneOf(t *testing.T) {
	options := []*jsonschema.Schema{{Type: "string"}, {Type: "integer"}}
	for _, s := range []*jsonschema.Schema{{AnyOf: options}, {OneOf: options}} {
		if err := Validate(s, "ok"); err != nil {
			t.Fatalf("expected string to match: %v", err)
		}
		if err := Validate(s, 12); err != nil {
			t.Fatalf("expected int to match: %v", err)
		}
		if err := Validate(s, true); err == nil {
			t.Fatal("expected bool to fail")
		}
	}
}

func TestValidateEnum(t *testing.T) {
	s := &jsonschema.Schema{
		Type: "string",
		Enum: []any{"text", "json"},
	}
	if err := Validate(s, "json"); err != nil {
		t.Fatalf("expected enum value to pass: %v", err)
	}
	err := Validate(s, "xml")
	if err == nil || !strings.Contains(err.Error(), "text|json") {
		t.Fatalf("expected enum mismatch listing options, got %v", err)
	}
}

func TestIntegersAcceptWholeFloats(t *testing.T) {
	s := &jsonschema.Schema{Type: "integer"}
	if err := Validate(s, float64(4)); err != nil {
		t.Fatalf("expected whole float to pass: %v", err)
	}
	if err := Validate(s, 4.5); err == nil {
		t.Fatal("expected fractional float to fail")
	}
}

func TestValidateReportsNestedPath(t *testing.T) {
	type rule struct {
		Pattern string `json:"pattern"`
	}
	type document struct {
		Rules []rule `json:"rules,omitempty"`
	}
	generated := Generate(&document{})
	err := Validate(generated, map[string]any{
		"rules": []map[string]any{{"pattern": "*.swp"}, {"pattern": true}},
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if validation.Path != "rules[1].pattern" {
		t.Fatalf("expected rules[1].pattern, got %q", validation.Path)
	}
	if !strings.Contains(err.Error(), "expected string, got boolean (true)") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestValidateReusesCompiledSchema(t *testing.T) {
	s := &jsonschema.Schema{Type: "object", Required: []string{"name"}}
	for i := 0; i < 2; i++ {
		if err := Validate(s, map[string]any{"name": "a"}); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if _, ok := compiled.Load(s); !ok {
		t.Fatal("expected the compiled schema to be cached")
	}
}

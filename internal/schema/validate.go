package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	checker "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const resourceURL = "mem://pathwatch/schema.json"

var (
	printer  = message.NewPrinter(language.English)
	compiled sync.Map
)

// ValidationError locates the first value that does not fit a schema. Path
// uses dotted keys and [n] indexes, as in "watch.swap-patterns[0].pattern".
type ValidationError struct {
	Path     string
	Expected string
	Actual   string
	Value    any
	Message  string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	var detail string
	if e.Message != "" {
		detail = e.Message
	} else {
		detail = fmt.Sprintf("expected %s, got %s", e.Expected, describe(e.Actual, e.Value))
	}
	if e.Path == "" {
		return detail
	}
	return e.Path + ": " + detail
}

// Validate checks a decoded document (maps, slices and scalars as produced
// by the TOML, YAML or JSON decoders) against s.
func Validate(s *jsonschema.Schema, value any) error {
	if s == nil {
		return nil
	}
	validator, err := compile(s)
	if err != nil {
		return err
	}
	instance, err := normalize(value)
	if err != nil {
		return err
	}
	err = validator.Validate(instance)
	if err == nil {
		return nil
	}
	failure, ok := err.(*checker.ValidationError)
	if !ok {
		return err
	}
	return convert(failure, instance)
}

// compile builds the validator for s once per schema value.
func compile(s *jsonschema.Schema) (*checker.Schema, error) {
	if cached, ok := compiled.Load(s); ok {
		return cached.(*checker.Schema), nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	document, err := checker.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	compiler := checker.NewCompiler()
	if err := compiler.AddResource(resourceURL, document); err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	validator, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	compiled.Store(s, validator)
	return validator, nil
}

// normalize turns decoder output into plain JSON values so that TOML
// integers and YAML maps are checked the same way.
func normalize(value any) (any, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return checker.UnmarshalJSON(bytes.NewReader(payload))
}

// convert reports the first leaf cause of failure.
func convert(failure *checker.ValidationError, instance any) *ValidationError {
	leaf := failure
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	path := dotted(leaf.InstanceLocation, instance)
	value := lookup(leaf.InstanceLocation, instance)

	switch detail := leaf.ErrorKind.(type) {
	case *kind.AdditionalProperties:
		field := ""
		if len(detail.Properties) > 0 {
			field = detail.Properties[0]
		}
		var extra any
		if object, ok := value.(map[string]any); ok {
			extra = object[field]
		}
		return &ValidationError{Path: joinPath(path, field), Message: "unknown field", Value: extra}
	case *kind.Required:
		field := ""
		if len(detail.Missing) > 0 {
			field = detail.Missing[0]
		}
		return &ValidationError{Path: joinPath(path, field), Message: "missing required field"}
	case *kind.Type:
		return &ValidationError{
			Path:     path,
			Expected: strings.Join(detail.Want, "|"),
			Actual:   actualType(detail.Got, value),
			Value:    value,
		}
	case *kind.Enum:
		options := make([]string, 0, len(detail.Want))
		for _, option := range detail.Want {
			options = append(options, fmt.Sprint(option))
		}
		return &ValidationError{
			Path:    path,
			Value:   value,
			Message: fmt.Sprintf("expected one of %s, got %s", strings.Join(options, "|"), formatValue(value)),
		}
	}
	return &ValidationError{
		Path:    path,
		Value:   value,
		Message: leaf.ErrorKind.LocalizedString(printer),
	}
}

// dotted renders a JSON pointer as keys and [n] indexes, using instance to
// tell array indexes from numeric keys.
func dotted(tokens []string, instance any) string {
	var builder strings.Builder
	current := instance
	for _, token := range tokens {
		switch node := current.(type) {
		case []any:
			builder.WriteString("[" + token + "]")
			index, err := strconv.Atoi(token)
			if err != nil || index < 0 || index >= len(node) {
				current = nil
				continue
			}
			current = node[index]
		case map[string]any:
			if builder.Len() > 0 {
				builder.WriteByte('.')
			}
			builder.WriteString(token)
			current = node[token]
		default:
			if builder.Len() > 0 {
				builder.WriteByte('.')
			}
			builder.WriteString(token)
			current = nil
		}
	}
	return builder.String()
}

func lookup(tokens []string, instance any) any {
	current := instance
	for _, token := range tokens {
		switch node := current.(type) {
		case []any:
			index, err := strconv.Atoi(token)
			if err != nil || index < 0 || index >= len(node) {
				return nil
			}
			current = node[index]
		case map[string]any:
			current = node[token]
		default:
			return nil
		}
	}
	return current
}

// actualType names whole numbers "integer" rather than "number".
func actualType(got string, value any) string {
	if number, ok := value.(json.Number); ok && got == "number" {
		if _, err := number.Int64(); err == nil {
			return "integer"
		}
	}
	return got
}

func joinPath(base, field string) string {
	if base == "" {
		return field
	}
	if field == "" {
		return base
	}
	return base + "." + field
}

func describe(actual string, value any) string {
	formatted := formatValue(value)
	if formatted == "" {
		return actual
	}
	return fmt.Sprintf("%s (%s)", actual, formatted)
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	text := string(payload)
	const maxLength = 160
	if len(text) > maxLength {
		return text[:maxLength-3] + "..."
	}
	return text
}

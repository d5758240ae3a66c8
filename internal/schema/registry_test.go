package schema

import (
	"strings"
	"testing"

	"github.com/invopop/jsonschema"
)

func TestRegisterResolveAndCache(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	if err := registry.Register("Example", func() *jsonschema.Schema {
		calls++
		return &jsonschema.Schema{Title: "example"}
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	first, err := registry.Resolve("example")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := registry.Resolve(" EXAMPLE ")
	if err != nil {
		t.Fatalf("resolve cached: %v", err)
	}
	if first != second {
		t.Fatal("expected cached schema instance")
	}
	if calls != 1 {
		t.Fatalf("expected provider called once, got %d", calls)
	}

	registry.ClearCache()
	if _, err := registry.Resolve("example"); err != nil {
		t.Fatalf("resolve after clear: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected provider called twice, got %d", calls)
	}
}

func TestRegisterValidation(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register("", func() *jsonschema.Schema { return &jsonschema.Schema{} }); err == nil {
		t.Fatal("expected empty name error")
	}
	if err := registry.Register("x", nil); err == nil {
		t.Fatal("expected nil provider error")
	}
	if _, err := registry.Resolve(""); err == nil {
		t.Fatal("expected empty name lookup error")
	}
	if _, err := registry.Resolve("missing"); err == nil {
		t.Fatal("expected missing schema error")
	}
}

func TestNamesAreSorted(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"event", "config"} {
		if err := registry.Register(name, func() *jsonschema.Schema { return &jsonschema.Schema{} }); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	names := registry.Names()
	if strings.Join(names, ",") != "config,event" {
		t.Fatalf("unexpected names %v", names)
	}
}

type sample struct {
	Name  string   `json:"name,omitempty"`
	Count int      `json:"count,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func TestGenerateRejectsUnknownFields(t *testing.T) {
	generated := Generate(&sample{})
	if generated.Version == "" {
		t.Fatal("expected schema version")
	}
	if err := Validate(generated, map[string]any{"name": "a", "count": int64(2)}); err != nil {
		t.Fatalf("expected valid document: %v", err)
	}
	err := Validate(generated, map[string]any{"nmae": "a"})
	if err == nil || !strings.Contains(err.Error(), "nmae: unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

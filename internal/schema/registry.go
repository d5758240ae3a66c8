// Package schema generates JSON Schemas for pathwatch documents and checks
// decoded values against them.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// Provider builds the schema registered under a name.
type Provider func() *jsonschema.Schema

// Registry caches schemas by name. Providers run at most once until the
// cache is cleared.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	cache     map[string]*jsonschema.Schema
}

func NewRegistry() *Registry {
	return &Registry{
		providers: map[string]Provider{},
		cache:     map[string]*jsonschema.Schema{},
	}
}

// Register installs or replaces the provider under name.
func (r *Registry) Register(name string, provider Provider) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("schema name is required for registration")
	}
	if provider == nil {
		return fmt.Errorf("schema provider is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = provider
	delete(r.cache, name)
	return nil
}

// Resolve returns the cached schema for name, building it on first use.
func (r *Registry) Resolve(name string) (*jsonschema.Schema, error) {
	name = normalizeName(name)
	if name == "" {
		return nil, fmt.Errorf("schema name is required for lookup")
	}

	r.mu.RLock()
	cached, ok := r.cache[name]
	provider, registered := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}
	if !registered {
		return nil, fmt.Errorf("unknown schema %q", name)
	}

	built := provider()
	r.mu.Lock()
	r.cache[name] = built
	r.mu.Unlock()
	return built, nil
}

// Names lists registered schemas in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) ClearCache() {
	r.mu.Lock()
	r.cache = map[string]*jsonschema.Schema{}
	r.mu.Unlock()
}

// Generate reflects value into an inline schema that rejects unknown fields.
func Generate(value any) *jsonschema.Schema {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	generated := reflector.Reflect(value)
	if generated.Version == "" {
		generated.Version = jsonschema.Version
	}
	return generated
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

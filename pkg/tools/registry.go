package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// Audience selects which family of tools a session may use.
type Audience string

const (
	AudienceIdentified Audience = "identified"
	AudienceGuest      Audience = "guest"
)

// Parameter describes one tool argument.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
}

// Handler runs a tool. It reports failure through the Result, never by panicking.
type Handler func(ctx context.Context, args Args) Result

// Definition is a registered tool.
type Definition struct {
	Name             string      `json:"name"`
	Description      string      `json:"description"`
	Parameters       []Parameter `json:"parameters"`
	Mutating         bool        `json:"mutating"`
	RequiresIdentity bool        `json:"requires_identity"`
	Handler          Handler     `json:"-"`
}

// Spec is the engine-facing declaration of a tool.
type Spec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// Registry holds tool definitions and their compiled argument schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	raw     map[string]map[string]interface{}
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
		raw:     make(map[string]map[string]interface{}),
		logger:  logger.With().Str("component", "tools").Logger(),
	}
}

// Register adds a tool. Names must be unique and every tool on the
// mutating whitelist must be declared Mutating.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}
	if IsMutating(def.Name) && !def.Mutating {
		return fmt.Errorf("tool %s changes account state and must be marked mutating", def.Name)
	}

	raw := inputSchema(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema
	r.raw[def.Name] = raw

	r.logger.Debug().Str("tool", def.Name).Bool("mutating", def.Mutating).Msg("Tool registered")
	return nil
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Toolset builds a fixed subset of the registry for one audience.
// A guest toolset refuses mutating and identity-bound tools.
func (r *Registry) Toolset(audience Audience, names ...string) (*Toolset, error) {
	if audience != AudienceIdentified && audience != AudienceGuest {
		return nil, fmt.Errorf("unknown audience %q", audience)
	}

	ts := &Toolset{
		audience: audience,
		registry: r,
		names:    make([]string, 0, len(names)),
		allowed:  make(map[string]bool, len(names)),
	}

	for _, name := range names {
		def, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("tool %s is not registered", name)
		}
		if audience == AudienceGuest && (def.Mutating || def.RequiresIdentity || IsMutating(name)) {
			return nil, fmt.Errorf("tool %s cannot be offered to guests", name)
		}
		if ts.allowed[name] {
			return nil, fmt.Errorf("tool %s listed twice", name)
		}
		ts.allowed[name] = true
		ts.names = append(ts.names, name)
	}

	return ts, nil
}

func (r *Registry) lookup(name string) (*Definition, *gojsonschema.Schema, map[string]interface{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name], r.schemas[name], r.raw[name]
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true, "integer": true,
	}
	seen := make(map[string]bool, len(def.Parameters))
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// inputSchema renders the parameters as a JSON schema object.
func inputSchema(def Definition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		prop := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			prop["description"] = param.Description
		}
		if len(param.Enum) > 0 {
			enum := make([]interface{}, len(param.Enum))
			for i, v := range param.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func validateArgs(schema *gojsonschema.Schema, args Args) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(args)))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}

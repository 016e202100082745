// Package capability implements the capability registry and safety
// classifier: the static mapping from provider to allowlisted tools, and
// from tool id to safety class. All lookups are pure reads over loaded
// configuration; a refresh replaces the whole registry.
package capability

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Manifest is the loaded capability configuration: tool descriptors plus the
// per-provider profiles exposing them.
type Manifest struct {
	ProfileID string                   `json:"profile_id" yaml:"profile_id" mapstructure:"profile_id"`
	Tools     []domain.ToolDescriptor  `json:"tools" yaml:"tools" mapstructure:"tools"`
	Providers []domain.ProviderProfile `json:"providers" yaml:"providers" mapstructure:"providers"`
}

// Registry answers capability and classification queries. Immutable once
// built; safe for concurrent use without locking.
type Registry struct {
	profileID string
	tools     map[string]domain.ToolDescriptor
	providers map[domain.Provider]domain.ProviderProfile
	inputs    map[string]*jsonschema.Schema
}

// New builds a registry from a manifest, compiling every tool input schema.
func New(manifest Manifest) (*Registry, error) {
	r := &Registry{
		profileID: manifest.ProfileID,
		tools:     make(map[string]domain.ToolDescriptor, len(manifest.Tools)),
		providers: make(map[domain.Provider]domain.ProviderProfile, len(manifest.Providers)),
		inputs:    make(map[string]*jsonschema.Schema),
	}

	for _, tool := range manifest.Tools {
		if tool.ID == "" {
			return nil, fmt.Errorf("tool descriptor without id")
		}
		if !tool.SafetyClass.Valid() {
			return nil, fmt.Errorf("tool %q: unknown safety class %q", tool.ID, tool.SafetyClass)
		}
		if _, dup := r.tools[tool.ID]; dup {
			return nil, fmt.Errorf("duplicate tool id %q", tool.ID)
		}
		r.tools[tool.ID] = tool

		if tool.InputSchema != nil {
			schema, err := compileSchema(tool.ID, tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %q: compiling input schema: %w", tool.ID, err)
			}
			r.inputs[tool.ID] = schema
		}
	}

	for _, profile := range manifest.Providers {
		if profile.Provider == "" {
			return nil, fmt.Errorf("provider profile without provider id")
		}
		for _, id := range profile.Tools {
			if _, ok := r.tools[id]; !ok {
				return nil, fmt.Errorf("provider %q exposes unknown tool %q", profile.Provider, id)
			}
		}
		r.providers[profile.Provider] = profile
	}

	return r, nil
}

// ProfileID identifies the loaded manifest.
func (r *Registry) ProfileID() string { return r.profileID }

// IsAllowed reports whether the provider's profile exposes the tool. When the
// descriptor additionally restricts AllowedProviders, the provider must be
// listed there too.
func (r *Registry) IsAllowed(provider domain.Provider, toolID string) bool {
	profile, ok := r.providers[provider]
	if !ok || !profile.HasTool(toolID) {
		return false
	}
	tool, ok := r.tools[toolID]
	if !ok {
		return false
	}
	if len(tool.AllowedProviders) == 0 {
		return true
	}
	for _, p := range tool.AllowedProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// Classify returns the safety class of a tool. Unknown tool ids classify as
// destructive: the registry fails closed, never open.
func (r *Registry) Classify(toolID string) domain.SafetyClass {
	if tool, ok := r.tools[toolID]; ok {
		return tool.SafetyClass
	}
	return domain.SafetyDestructive
}

// Describe returns the descriptor for a tool id.
func (r *Registry) Describe(toolID string) (domain.ToolDescriptor, bool) {
	tool, ok := r.tools[toolID]
	return tool, ok
}

// Profile returns the capability profile for a provider.
func (r *Registry) Profile(provider domain.Provider) (domain.ProviderProfile, bool) {
	p, ok := r.providers[provider]
	return p, ok
}

// Tools returns all descriptors, for listing surfaces (CLI, MCP).
func (r *Registry) Tools() []domain.ToolDescriptor {
	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ValidateParams checks a parameter map against the tool's input schema
// before any work is admitted. Tools without a schema accept any shape.
func (r *Registry) ValidateParams(toolID string, params map[string]any) error {
	schema, ok := r.inputs[toolID]
	if !ok {
		return nil
	}
	// jsonschema validates values produced by encoding/json, so round-trip
	// the map to normalize numeric types.
	raw, err := json.Marshal(params)
	if err != nil {
		return domain.NewValidationError(fmt.Sprintf("parameters for %q are not serializable", toolID), err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.NewValidationError(fmt.Sprintf("parameters for %q are not serializable", toolID), err)
	}
	if err := schema.Validate(doc); err != nil {
		return domain.NewValidationError(fmt.Sprintf("parameters for %q rejected by input schema", toolID), err)
	}
	return nil
}

func compileSchema(id string, schema map[string]any) (*jsonschema.Schema, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(schema); err != nil {
		return nil, err
	}
	return jsonschema.CompileString(id+".input.json", buf.String())
}

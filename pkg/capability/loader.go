package capability

import (
	"fmt"
	"os"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// LoadManifest reads a YAML capability manifest from disk and builds a
// registry from it.
func LoadManifest(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(raw)
}

// ParseManifest decodes YAML manifest bytes. Decoding goes through a generic
// map plus mapstructure so manifests may use either flat or nested forms
// without a bespoke unmarshaller per type.
func ParseManifest(raw []byte) (*Registry, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest yaml: %w", err)
	}

	var manifest Manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &manifest,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	return New(manifest)
}

// DefaultManifest mirrors the capability profile the sidecar ships with:
// pipeline, context and entity tools, exposed by both supported providers.
func DefaultManifest() Manifest {
	readOnly := []string{
		"pipeline.validate",
		"pipeline.build-graph",
		"pipeline.impact",
		"context.read",
		"context.search",
		"entity.details",
		"entity.similar",
	}

	tools := make([]domain.ToolDescriptor, 0, len(readOnly)+2)
	for _, id := range readOnly {
		tools = append(tools, domain.ToolDescriptor{
			ID:          id,
			SafetyClass: domain.SafetyReadOnly,
		})
	}
	tools = append(tools,
		domain.ToolDescriptor{
			ID:          "pipeline.generate",
			SafetyClass: domain.SafetyMutating,
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"template"},
				"properties": map[string]any{
					"template":    map[string]any{"type": "string", "minLength": 1},
					"output_path": map[string]any{"type": "string"},
					"repo_path":   map[string]any{"type": "string"},
				},
			},
		},
		domain.ToolDescriptor{
			ID:          "pipeline.run",
			SafetyClass: domain.SafetyDestructive,
			AllowedProviders: []domain.Provider{
				domain.ProviderAzureOpenAI,
			},
			InputSchema: map[string]any{
				"type":     "object",
				"required": []any{"pipeline_id"},
				"properties": map[string]any{
					"pipeline_id": map[string]any{"type": "string", "minLength": 1},
					"repo_path":   map[string]any{"type": "string"},
				},
			},
		},
	)

	all := make([]string, 0, len(tools))
	for _, t := range tools {
		all = append(all, t.ID)
	}
	// Ollama does not expose the destructive pipeline runner.
	ollamaTools := all[:len(all)-1]

	return Manifest{
		ProfileID: "default-profile",
		Tools:     tools,
		Providers: []domain.ProviderProfile{
			{
				Provider:          domain.ProviderAzureOpenAI,
				Endpoint:          "https://example.openai.azure.com",
				Model:             "gpt-4",
				APIVersion:        "2024-02-15-preview",
				SupportsStreaming: true,
				SupportsEmbedding: true,
				Tools:             all,
			},
			{
				Provider:          domain.ProviderOllama,
				Endpoint:          "http://localhost:11434",
				Model:             "llama2",
				SupportsStreaming: true,
				Tools:             ollamaTools,
			},
		},
	}
}

package domain

// Provider identifies an AI provider backend.
type Provider string

const (
	ProviderAzureOpenAI Provider = "azure-openai"
	ProviderOllama      Provider = "ollama"
)

// ToolDescriptor describes a tool available through the orchestrator.
// Descriptors are immutable once loaded into a capability registry.
type ToolDescriptor struct {
	ID               string         `json:"id" yaml:"id" mapstructure:"id"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	SafetyClass      SafetyClass    `json:"safety_class" yaml:"safety_class" mapstructure:"safety_class"`
	AllowedProviders []Provider     `json:"allowed_providers,omitempty" yaml:"allowed_providers,omitempty" mapstructure:"allowed_providers"`
	InputSchema      map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty" mapstructure:"input_schema"`
	OutputSchema     map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty" mapstructure:"output_schema"`
	Streaming        bool           `json:"streaming,omitempty" yaml:"streaming,omitempty" mapstructure:"streaming"`
}

// ProviderProfile is the per-provider capability manifest. It is loaded once
// per session and read-only during the session's lifetime; a refresh replaces
// the whole profile atomically.
type ProviderProfile struct {
	Provider          Provider `json:"provider" yaml:"provider" mapstructure:"provider"`
	Endpoint          string   `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Model             string   `json:"model" yaml:"model" mapstructure:"model"`
	APIVersion        string   `json:"api_version,omitempty" yaml:"api_version,omitempty" mapstructure:"api_version"`
	SupportsStreaming bool     `json:"supports_streaming" yaml:"supports_streaming" mapstructure:"supports_streaming"`
	SupportsEmbedding bool     `json:"supports_embedding,omitempty" yaml:"supports_embedding,omitempty" mapstructure:"supports_embedding"`
	MaxConcurrent     int      `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty" mapstructure:"max_concurrent"`
	Tools             []string `json:"tools" yaml:"tools" mapstructure:"tools"`
}

// HasTool reports whether the profile exposes the given tool id.
func (p ProviderProfile) HasTool(toolID string) bool {
	for _, id := range p.Tools {
		if id == toolID {
			return true
		}
	}
	return false
}

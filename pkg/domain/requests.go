package domain

// ProviderConfig is the wire configuration for one provider connection,
// attached to every sidecar request. Field names follow the sidecar contract
// (camelCase).
type ProviderConfig struct {
	Provider    Provider `json:"provider"`
	Endpoint    string   `json:"endpoint"`
	Model       string   `json:"model"`
	APIKey      string   `json:"apiKey,omitempty"`
	APIVersion  string   `json:"apiVersion,omitempty"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
}

// GenerateEntityRequest asks the sidecar to generate one entity.
type GenerateEntityRequest struct {
	EntityType      string         `json:"entityType"`
	UserPrompt      string         `json:"userPrompt"`
	LinkedFeatureID string         `json:"linkedFeatureId,omitempty"`
	Config          ProviderConfig `json:"config"`
}

// GenerateEntityResponse is the sidecar's entity generation result.
type GenerateEntityResponse struct {
	Entity   map[string]any `json:"entity"`
	Metadata struct {
		PromptTokens     int     `json:"promptTokens"`
		CompletionTokens int     `json:"completionTokens"`
		DurationMs       float64 `json:"durationMs"`
		Model            string  `json:"model"`
		Provider         string  `json:"provider,omitempty"`
	} `json:"metadata"`
}

// AssistStreamRequest opens a streaming completion.
type AssistStreamRequest struct {
	Question            string         `json:"question"`
	ConversationHistory []Message      `json:"conversationHistory,omitempty"`
	ContextSnapshot     map[string]any `json:"contextSnapshot,omitempty"`
	Config              ProviderConfig `json:"config"`
}

// ToolExecutionRequest invokes one atomic tool on the sidecar.
type ToolExecutionRequest struct {
	ToolID     string         `json:"toolId"`
	Parameters map[string]any `json:"parameters"`
	RepoPath   string         `json:"repoPath"`
	Config     ProviderConfig `json:"config"`
}

// ToolExecutionResponse carries the tool result or a remote error string.
type ToolExecutionResponse struct {
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata struct {
		DurationMs float64 `json:"durationMs"`
		ToolID     string  `json:"toolId"`
	} `json:"metadata"`
}

// RAGQueryRequest runs a retrieval-augmented query.
type RAGQueryRequest struct {
	Query       string         `json:"query"`
	RepoPath    string         `json:"repoPath"`
	TopK        int            `json:"topK,omitempty"`
	EntityTypes []string       `json:"entityTypes,omitempty"`
	Config      ProviderConfig `json:"config"`
}

// RAGSource is one retrieved source document.
type RAGSource struct {
	EntityID       string  `json:"entityId"`
	EntityType     string  `json:"entityType"`
	RelevanceScore float64 `json:"relevanceScore"`
	Excerpt        string  `json:"excerpt"`
	FilePath       string  `json:"filePath,omitempty"`
}

// RAGQueryResponse is the sidecar's RAG answer.
type RAGQueryResponse struct {
	Answer   string      `json:"answer"`
	Sources  []RAGSource `json:"sources"`
	Metadata struct {
		RetrievalTimeMs  float64 `json:"retrievalTimeMs"`
		GenerationTimeMs float64 `json:"generationTimeMs"`
		TotalSources     int     `json:"totalSources"`
		Model            string  `json:"model,omitempty"`
	} `json:"metadata"`
}

// HealthState enumerates sidecar health.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// HealthResponse is the sidecar liveness/readiness report.
type HealthResponse struct {
	Status        HealthState       `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds float64           `json:"uptimeSeconds,omitempty"`
	Dependencies  map[string]string `json:"dependencies,omitempty"`
	Timestamp     string            `json:"timestamp,omitempty"`
}

package domain

import "time"

// MessageRole is the author of a conversation message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is one assistant session: the provider configuration it was opened
// with, its active tool allowlist and its conversation history.
type Session struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Provider      Provider        `json:"provider"`
	SystemPrompt  string          `json:"system_prompt,omitempty"`
	ActiveTools   []string        `json:"active_tools,omitempty"`
	Profile       ProviderProfile `json:"profile"`
	Messages      []Message       `json:"messages,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// DefaultSystemPrompt is used when a session is created without one.
const DefaultSystemPrompt = "You are a guard-railed operator for context repository pipelines. " +
	"Confirm scope, execute only allowlisted commands, and summarize results for humans."

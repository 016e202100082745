package domain

import "time"

// InvocationStatus tracks the lifecycle of a tool invocation.
type InvocationStatus string

const (
	InvocationPending   InvocationStatus = "pending"
	InvocationRunning   InvocationStatus = "running"
	InvocationSucceeded InvocationStatus = "succeeded"
	InvocationFailed    InvocationStatus = "failed"
	InvocationCanceled  InvocationStatus = "canceled"
)

// Terminal reports whether the status is a terminal state.
func (s InvocationStatus) Terminal() bool {
	switch s {
	case InvocationSucceeded, InvocationFailed, InvocationCanceled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Legal paths: pending -> running -> succeeded|failed|canceled,
// and pending -> canceled for work that was never admitted.
func (s InvocationStatus) CanTransition(next InvocationStatus) bool {
	switch s {
	case InvocationPending:
		return next == InvocationRunning || next == InvocationCanceled
	case InvocationRunning:
		return next.Terminal()
	}
	return false
}

// InvocationRecord is the append-only audit entry for one tool invocation.
// It is created at admission time and mutated only through status transitions;
// the parameters map must already be redacted-safe when the record is created.
type InvocationRecord struct {
	ID            string           `json:"id"`
	SessionID     string           `json:"session_id"`
	ToolID        string           `json:"tool_id"`
	Provider      Provider         `json:"provider"`
	Status        InvocationStatus `json:"status"`
	Parameters    map[string]any   `json:"parameters,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
	ResultSummary string           `json:"result_summary,omitempty"`
	ErrorDetail   string           `json:"error_detail,omitempty"`
}

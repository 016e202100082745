package domain

import (
	"time"
	"unicode"
)

// ApprovalStatus is the state of a pending approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Resolved reports whether the approval reached a terminal state.
func (s ApprovalStatus) Resolved() bool {
	return s != ApprovalPending
}

// MinReasonLength is the minimum number of non-whitespace characters required
// in a destructive approval justification.
const MinReasonLength = 8

// PendingApproval gates a mutating or destructive tool invocation.
// Resolved exactly once; immutable after resolution.
type PendingApproval struct {
	ID           string         `json:"id"`
	InvocationID string         `json:"invocation_id"`
	ToolID       string         `json:"tool_id"`
	SafetyClass  SafetyClass    `json:"safety_class"`
	Status       ApprovalStatus `json:"status"`

	// Destructive confirmation state. Confirm2At is always strictly after
	// Confirm1At, and both require a valid ReasonText.
	ReasonText string     `json:"reason_text,omitempty"`
	Confirm1At *time.Time `json:"confirm1_at,omitempty"`
	Confirm2At *time.Time `json:"confirm2_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// ValidReason reports whether the justification text meets the minimum of
// MinReasonLength non-whitespace characters.
func ValidReason(text string) bool {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
			if n >= MinReasonLength {
				return true
			}
		}
	}
	return false
}

package domain

import "fmt"

// SafetyClass classifies the risk of a tool, driving approval requirements.
type SafetyClass string

const (
	// SafetyReadOnly tools never mutate state and require no approval.
	SafetyReadOnly SafetyClass = "read-only"
	// SafetyMutating tools change state and require a single approval.
	SafetyMutating SafetyClass = "mutating"
	// SafetyDestructive tools require the two-step confirmation with a
	// written justification. Unknown tools classify here (fail closed).
	SafetyDestructive SafetyClass = "destructive"
)

// RequiresApproval reports whether the class is gated behind an approval.
func (c SafetyClass) RequiresApproval() bool {
	return c == SafetyMutating || c == SafetyDestructive
}

// Valid reports whether the class is one of the known values.
func (c SafetyClass) Valid() bool {
	switch c {
	case SafetyReadOnly, SafetyMutating, SafetyDestructive:
		return true
	}
	return false
}

// ParseSafetyClass converts a string into a SafetyClass.
func ParseSafetyClass(s string) (SafetyClass, error) {
	c := SafetyClass(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown safety class: %q", s)
	}
	return c, nil
}

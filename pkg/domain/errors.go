package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrApprovalNotFound is returned when an approval ID cannot be found.
var ErrApprovalNotFound = errors.New("approval not found")

// ErrInvocationNotFound is returned when an invocation record cannot be found.
var ErrInvocationNotFound = errors.New("invocation not found")

// ErrQueueClosed is returned by the queue manager after shutdown.
var ErrQueueClosed = errors.New("queue closed")

// ErrStreamClosed is returned when events arrive on a terminated stream.
var ErrStreamClosed = errors.New("stream closed")

// ErrorKind discriminates error classes so callers can apply differentiated
// retry policy.
type ErrorKind string

const (
	// KindValidation marks malformed request/response data. Never retried.
	KindValidation ErrorKind = "validation"
	// KindConnection marks network/transport failures. Retryable with backoff.
	KindConnection ErrorKind = "connection"
	// KindTimeout marks calls that exceeded their deadline. Retryable.
	KindTimeout ErrorKind = "timeout"
	// KindCapability marks tools not allowlisted for a provider. Fatal.
	KindCapability ErrorKind = "capability"
	// KindApprovalRequired marks gated tools lacking a terminal approved
	// decision. Not retryable until the approval resolves.
	KindApprovalRequired ErrorKind = "approval-required"
	// KindStreamProtocol marks malformed or duplicate terminal SSE events.
	// Fatal to that stream only.
	KindStreamProtocol ErrorKind = "stream-protocol"
	// KindRemote marks structured application errors returned by the sidecar.
	KindRemote ErrorKind = "remote"
	// KindCanceled marks invocations canceled by the caller.
	KindCanceled ErrorKind = "canceled"
)

// Error is the typed error carried across the orchestration boundary. It
// always pairs a machine-discriminable Kind with a human-readable message.
type Error struct {
	Kind    ErrorKind
	Message string
	// HTTPStatus is set for remote errors synthesized from non-2xx responses.
	HTTPStatus int
	// Code is the machine code reported by the remote service, if any.
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the error class permits automatic retry.
func (e *Error) Retryable() bool {
	return e.Kind == KindConnection || e.Kind == KindTimeout
}

// NewValidationError builds a validation error.
func NewValidationError(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: err}
}

// NewConnectionError builds a connection error.
func NewConnectionError(msg string, err error) *Error {
	return &Error{Kind: KindConnection, Message: msg, Err: err}
}

// NewTimeoutError builds a timeout error.
func NewTimeoutError(msg string, err error) *Error {
	return &Error{Kind: KindTimeout, Message: msg, Err: err}
}

// NewCapabilityError builds a capability error naming the rejected tool.
func NewCapabilityError(provider Provider, toolID string) *Error {
	return &Error{
		Kind:    KindCapability,
		Message: fmt.Sprintf("tool %q is not allowlisted for provider %q", toolID, provider),
	}
}

// NewApprovalRequiredError builds an approval-required error.
func NewApprovalRequiredError(toolID string, reason string) *Error {
	msg := fmt.Sprintf("tool %q requires approval", toolID)
	if reason != "" {
		msg += ": " + reason
	}
	return &Error{Kind: KindApprovalRequired, Message: msg}
}

// NewStreamProtocolError builds a stream protocol error.
func NewStreamProtocolError(msg string) *Error {
	return &Error{Kind: KindStreamProtocol, Message: msg}
}

// NewCanceledError builds a cancellation error.
func NewCanceledError(msg string) *Error {
	return &Error{Kind: KindCanceled, Message: msg}
}

// KindOf extracts the ErrorKind from err, walking the wrap chain. Context
// deadline and cancellation map to KindTimeout and KindCanceled; anything
// else unclassified maps to KindConnection.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindConnection
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

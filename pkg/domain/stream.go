package domain

// StreamEventType tags the members of the stream event union.
type StreamEventType string

const (
	StreamEventToken    StreamEventType = "token"
	StreamEventComplete StreamEventType = "complete"
	StreamEventError    StreamEventType = "error"
)

// StreamEvent is one normalized event on an assistant stream. Events are
// consumed in strict arrival order; a stream terminates on exactly one
// complete or one error, never both. The wire representation (nested
// metadata objects) is decoded by the sidecar transport.
type StreamEvent struct {
	Type StreamEventType

	// token fields
	Token      string
	TokenIndex int

	// complete fields
	FullContent string
	TotalTokens int
	DurationMs  float64
	Model       string

	// error fields
	Message string
	Code    string
}

// Terminal reports whether the event closes its stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == StreamEventComplete || e.Type == StreamEventError
}

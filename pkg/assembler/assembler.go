// Package assembler reassembles ordered stream tokens into final messages.
// Streams are keyed by id; each id goes through open, zero or more appends,
// and exactly one terminal (Complete or Fail). Incremental partials are
// published to an EventEmitter so UIs can render text as it arrives.
package assembler

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// Result is the outcome of one assembled stream.
type Result struct {
	StreamID string
	// Content is the final message. For failed streams it holds whatever
	// arrived before the failure and Incomplete is true.
	Content    string
	Tokens     int
	Incomplete bool
	Err        error
}

type stream struct {
	buf       strings.Builder
	tokens    int
	nextIndex int
	closed    bool
	result    *Result
}

// Assembler tracks concurrent streams. Safe for concurrent use across
// streams; events within one stream must arrive in order, which the
// transport already guarantees.
type Assembler struct {
	mu      sync.Mutex
	streams map[string]*stream
	emitter ports.EventEmitter
	logger  *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithEmitter publishes incremental partials to the given emitter.
func WithEmitter(e ports.EventEmitter) Option {
	return func(a *Assembler) {
		if e != nil {
			a.emitter = e
		}
	}
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logger
	}
}

// New creates an empty Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		streams: make(map[string]*stream),
		emitter: ports.NopEmitter{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Open registers a new stream id. Reopening any known id, including a
// closed one, is an error: ids are single-use.
func (a *Assembler) Open(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.streams[id]; ok {
		return domain.NewStreamProtocolError(fmt.Sprintf("stream %q already opened", id))
	}
	a.streams[id] = &stream{}
	return nil
}

// Append adds one token at the given arrival index. Gaps and reordering are
// protocol violations.
func (a *Assembler) Append(id, token string, index int) error {
	a.mu.Lock()
	s, ok := a.streams[id]
	if !ok {
		a.mu.Unlock()
		return domain.NewStreamProtocolError(fmt.Sprintf("append to unknown stream %q", id))
	}
	if s.closed {
		a.mu.Unlock()
		return fmt.Errorf("append to stream %q: %w", id, domain.ErrStreamClosed)
	}
	if index != s.nextIndex {
		a.mu.Unlock()
		return domain.NewStreamProtocolError(fmt.Sprintf("stream %q: token index %d, expected %d", id, index, s.nextIndex))
	}
	s.buf.WriteString(token)
	s.tokens++
	s.nextIndex++
	partial := s.buf.String()
	tokens := s.tokens
	a.mu.Unlock()

	// Emitters are fire-and-forget; a slow subscriber must not stall the
	// stream, so the emitter contract is non-blocking.
	a.emitter.StreamProgress(id, partial, tokens)
	return nil
}

// Complete closes the stream with its final message. When the remote side
// declares the full content it wins over local concatenation, but a declared
// token count that disagrees with what actually arrived is a protocol
// violation.
func (a *Assembler) Complete(id, declaredFull string, totalTokens int) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[id]
	if !ok {
		return nil, domain.NewStreamProtocolError(fmt.Sprintf("complete on unknown stream %q", id))
	}
	if s.closed {
		return nil, fmt.Errorf("complete on stream %q: %w", id, domain.ErrStreamClosed)
	}
	if totalTokens > 0 && s.tokens > 0 && totalTokens != s.tokens {
		return nil, domain.NewStreamProtocolError(fmt.Sprintf("stream %q: declared %d tokens, received %d", id, totalTokens, s.tokens))
	}

	content := declaredFull
	if content == "" {
		content = s.buf.String()
	} else if got := s.buf.String(); got != "" && got != content {
		a.logger.Warn("declared stream content differs from concatenation", "stream_id", id)
	}

	s.closed = true
	s.result = &Result{
		StreamID: id,
		Content:  content,
		Tokens:   s.tokens,
	}
	return s.result, nil
}

// Fail closes the stream after an error. The partial buffer is retained and
// surfaced through the result as incomplete content.
func (a *Assembler) Fail(id string, cause error) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[id]
	if !ok {
		return nil, domain.NewStreamProtocolError(fmt.Sprintf("fail on unknown stream %q", id))
	}
	if s.closed {
		return nil, fmt.Errorf("fail on stream %q: %w", id, domain.ErrStreamClosed)
	}
	s.closed = true
	s.result = &Result{
		StreamID:   id,
		Content:    s.buf.String(),
		Tokens:     s.tokens,
		Incomplete: true,
		Err:        cause,
	}
	return s.result, nil
}

// Partial returns the text accumulated so far for an open or closed stream.
func (a *Assembler) Partial(id string) (string, int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[id]
	if !ok {
		return "", 0, domain.NewStreamProtocolError(fmt.Sprintf("unknown stream %q", id))
	}
	return s.buf.String(), s.tokens, nil
}

// Result returns the terminal result of a closed stream, or nil while open.
func (a *Assembler) Result(id string) (*Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.streams[id]
	if !ok {
		return nil, domain.NewStreamProtocolError(fmt.Sprintf("unknown stream %q", id))
	}
	return s.result, nil
}

// Forget drops all state for a stream id. Closed streams are kept until
// forgotten so late events keep failing deterministically.
func (a *Assembler) Forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.streams, id)
}

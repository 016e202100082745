package sidecar

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// wireStreamEvent is the raw SSE payload shape. Metadata nesting is
// flattened into domain.StreamEvent before reaching the handler.
type wireStreamEvent struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	FullContent string `json:"fullContent"`
	Message     string `json:"message"`
	Code        string `json:"code"`
	Metadata    struct {
		TokenIndex  int     `json:"tokenIndex"`
		TotalTokens int     `json:"totalTokens"`
		DurationMs  float64 `json:"durationMs"`
		Model       string  `json:"model"`
	} `json:"metadata"`
}

// streamState serializes terminal dispatch. Once closed, whether by a
// terminal event or by cancellation, no terminal callback fires and the read
// loop stops before the next event.
type streamState struct {
	mu     sync.Mutex
	closed bool
}

// close marks the stream done. Returns false when already closed.
func (s *streamState) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	return true
}

// StreamAssist opens the assistant SSE stream. Events are dispatched to the
// handler in arrival order from a single goroutine. The returned CancelFunc
// aborts the request; terminal callbacks never fire after it returns, though a
// token dispatch already in flight may still be delivered.
func (c *Client) StreamAssist(ctx context.Context, req domain.AssistStreamRequest, handler ports.StreamHandler) (ports.CancelFunc, error) {
	s, err := compiledSchemas()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, domain.NewValidationError("stream request is not serializable", err)
	}
	if err := validateRaw(s.assistStreamIn, raw); err != nil {
		return nil, domain.NewValidationError("stream request rejected by schema", err)
	}

	// The stream outlives the per-call timeout; only the caller context and
	// explicit cancellation bound it.
	streamCtx, cancelCtx := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/ai/assist/stream", bytes.NewReader(raw))
	if err != nil {
		cancelCtx()
		return nil, domain.NewConnectionError("building stream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancelCtx()
		if ctx.Err() != nil {
			return nil, classifyCtxErr(ctx.Err())
		}
		return nil, domain.NewConnectionError("opening assist stream", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancelCtx()
		return nil, remoteError(resp.StatusCode, body)
	}

	state := &streamState{}
	cancel := func() {
		// Close first so the read loop stops dispatching at the next closed
		// check; a token already past that check may still land.
		state.close()
		cancelCtx()
	}

	go c.readStream(state, resp.Body, handler, s)

	return cancel, nil
}

// readStream consumes SSE lines until a terminal event, stream end, or
// cancellation. Exactly one terminal callback fires on every path except
// cancellation, which fires none.
func (c *Client) readStream(state *streamState, body io.ReadCloser, handler ports.StreamHandler, s *schemaSet) {
	defer body.Close()

	terminal := func(fire func()) {
		if state.close() {
			fire()
		}
	}

	reader := bufio.NewReader(body)
	tokenIndex := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if len(strings.TrimSpace(line)) > 0 {
				// Truncated final line: the payload is incomplete.
				terminal(func() {
					if handler.OnError != nil {
						handler.OnError(domain.NewStreamProtocolError("stream ended mid-event"))
					}
				})
				return
			}
			terminal(func() {
				if handler.OnError != nil {
					handler.OnError(domain.NewConnectionError("stream ended without a terminal event", err))
				}
			})
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Field lines other than data (event:, id:, retry:) carry no payload here.
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		event, err := decodeStreamEvent(s, data)
		if err != nil {
			terminal(func() {
				if handler.OnError != nil {
					handler.OnError(err)
				}
			})
			return
		}

		switch event.Type {
		case domain.StreamEventToken:
			state.mu.Lock()
			closed := state.closed
			state.mu.Unlock()
			if closed {
				return
			}
			if handler.OnToken != nil {
				idx := event.TokenIndex
				if idx == 0 {
					idx = tokenIndex
				}
				handler.OnToken(event.Token, idx)
			}
			tokenIndex++
		case domain.StreamEventComplete:
			terminal(func() {
				if handler.OnComplete != nil {
					handler.OnComplete(event.FullContent, event.TotalTokens, event.DurationMs)
				}
			})
			return
		case domain.StreamEventError:
			terminal(func() {
				if handler.OnError != nil {
					handler.OnError(&domain.Error{
						Kind:    domain.KindRemote,
						Message: event.Message,
						Code:    event.Code,
					})
				}
			})
			return
		}
	}
}

// decodeStreamEvent validates one SSE data payload and flattens it.
func decodeStreamEvent(s *schemaSet, data string) (domain.StreamEvent, error) {
	if err := validateRaw(s.streamEvent, []byte(data)); err != nil {
		return domain.StreamEvent{}, domain.NewStreamProtocolError(fmt.Sprintf("malformed stream event: %v", err))
	}
	var wire wireStreamEvent
	if err := json.Unmarshal([]byte(data), &wire); err != nil {
		return domain.StreamEvent{}, domain.NewStreamProtocolError(fmt.Sprintf("decoding stream event: %v", err))
	}
	return domain.StreamEvent{
		Type:        domain.StreamEventType(wire.Type),
		Token:       wire.Token,
		TokenIndex:  wire.Metadata.TokenIndex,
		FullContent: wire.FullContent,
		TotalTokens: wire.Metadata.TotalTokens,
		DurationMs:  wire.Metadata.DurationMs,
		Model:       wire.Metadata.Model,
		Message:     wire.Message,
		Code:        wire.Code,
	}, nil
}

package observability

import (
	"sync"

	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// EventType discriminates aggregated events.
type EventType string

const (
	// EventInvocation marks a status transition on an invocation record.
	EventInvocation EventType = "invocation"
	// EventStream marks incremental progress on an assistant stream.
	EventStream EventType = "stream"
)

// Event is one aggregated observation.
type Event struct {
	Type       EventType
	Invocation *domain.InvocationRecord
	StreamID   string
	Partial    string
	Tokens     int
}

// Aggregator combines multiple event consumers into a single emitter. It
// implements ports.EventEmitter and fans each event out to every registered
// emitter and channel subscriber. Slow subscribers drop events rather than
// stall orchestration.
type Aggregator struct {
	mu       sync.RWMutex
	emitters []ports.EventEmitter
	subs     map[chan Event]struct{}
}

// NewAggregator creates a new aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		subs: make(map[chan Event]struct{}),
	}
}

// AddEmitter registers a downstream emitter.
func (a *Aggregator) AddEmitter(e ports.EventEmitter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emitters = append(a.emitters, e)
}

// Subscribe returns a channel of events and a cancel function. The channel
// is buffered; events are dropped when the subscriber falls behind.
func (a *Aggregator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	a.mu.Lock()
	a.subs[ch] = struct{}{}
	a.mu.Unlock()

	return ch, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.subs[ch]; ok {
			delete(a.subs, ch)
			close(ch)
		}
	}
}

// InvocationChanged implements ports.EventEmitter.
func (a *Aggregator) InvocationChanged(rec *domain.InvocationRecord) {
	a.publish(Event{Type: EventInvocation, Invocation: rec})
}

// StreamProgress implements ports.EventEmitter.
func (a *Aggregator) StreamProgress(streamID string, partial string, tokens int) {
	a.publish(Event{Type: EventStream, StreamID: streamID, Partial: partial, Tokens: tokens})
}

func (a *Aggregator) publish(ev Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, e := range a.emitters {
		if ev.Type == EventInvocation {
			e.InvocationChanged(ev.Invocation)
		} else {
			e.StreamProgress(ev.StreamID, ev.Partial, ev.Tokens)
		}
	}
	for ch := range a.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

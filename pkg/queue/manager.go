// Package queue implements the bounded-concurrency scheduler that admits
// tool invocations into execution. At most N invocations per session run at
// once; overflow waits in strict FIFO order with cancellation support.
package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/domain"
)

// DefaultLimit is the default number of concurrently active slots per session.
const DefaultLimit = 3

// Manager bounds concurrent execution per session. The per-session counter
// and FIFO list are the only mutable shared state; every path touching them
// holds the manager mutex, so the active-slot invariant holds across
// concurrent admission races.
type Manager struct {
	mu       sync.Mutex
	limit    int
	sessions map[string]*sessionQueue
	running  map[string]*Slot
	closed   bool
	logger   *slog.Logger
	observer func(active, waiting int)
}

type sessionQueue struct {
	active  int
	waiters []*waiter
}

type waiter struct {
	invocationID string
	admit        chan *Slot
	abort        chan error
}

// Slot is an admission ticket. It must be released exactly once when the
// invocation finishes on any path; Release is idempotent.
type Slot struct {
	m            *Manager
	sessionID    string
	invocationID string
	once         sync.Once

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// Option configures the Manager.
type Option func(*Manager)

// WithLimit overrides the per-session concurrency bound.
func WithLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.limit = n
		}
	}
}

// WithLogger configures a logger for queue events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithObserver registers a callback invoked (under no locks) after every
// admission change with the total active and waiting counts. Used to feed
// metrics gauges.
func WithObserver(fn func(active, waiting int)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// NewManager creates a queue manager with the default limit of 3.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		limit:    DefaultLimit,
		sessions: make(map[string]*sessionQueue),
		running:  make(map[string]*Slot),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue admits the invocation into one of the session's slots, waiting in
// FIFO order when all slots are busy. It never panics; the only non-slot
// outcomes are context cancellation, Cancel, and manager shutdown.
func (m *Manager) Enqueue(ctx context.Context, sessionID, invocationID string) (*Slot, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrQueueClosed
	}

	sq := m.sessions[sessionID]
	if sq == nil {
		sq = &sessionQueue{}
		m.sessions[sessionID] = sq
	}

	if sq.active < m.limit {
		sq.active++
		slot := m.newSlotLocked(sessionID, invocationID)
		m.mu.Unlock()
		m.notify()
		return slot, nil
	}

	w := &waiter{
		invocationID: invocationID,
		admit:        make(chan *Slot, 1),
		abort:        make(chan error, 1),
	}
	sq.waiters = append(sq.waiters, w)
	m.mu.Unlock()
	m.notify()

	select {
	case slot := <-w.admit:
		return slot, nil
	case err := <-w.abort:
		return nil, err
	case <-ctx.Done():
		// The waiter may have been admitted between ctx firing and us
		// taking the lock; if so, hand the slot straight back.
		m.mu.Lock()
		if m.removeWaiterLocked(sessionID, w) {
			m.mu.Unlock()
			m.notify()
			return nil, ctx.Err()
		}
		m.mu.Unlock()
		// Not queued anymore: an admit or abort is already committed to the
		// buffered channel, so this never blocks for long.
		select {
		case slot := <-w.admit:
			slot.Release()
		case <-w.abort:
		}
		return nil, ctx.Err()
	}
}

// Cancel cancels an invocation. Queued-but-not-admitted work is removed from
// the FIFO list and resolves as canceled without ever starting; running work
// has its bound context canceled, propagating to the in-flight request.
// Returns true if the invocation was known to the queue.
func (m *Manager) Cancel(invocationID string) bool {
	m.mu.Lock()
	for sessionID, sq := range m.sessions {
		for i, w := range sq.waiters {
			if w.invocationID != invocationID {
				continue
			}
			sq.waiters = append(sq.waiters[:i], sq.waiters[i+1:]...)
			m.cleanupLocked(sessionID, sq)
			m.mu.Unlock()
			w.abort <- domain.NewCanceledError("canceled while queued")
			m.notify()
			return true
		}
	}
	slot, ok := m.running[invocationID]
	m.mu.Unlock()
	if ok {
		slot.signalCancel()
	}
	return ok
}

// Close shuts the manager down. All waiters resolve with ErrQueueClosed and
// no further work is admitted. Running slots finish normally.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var drained []*waiter
	for _, sq := range m.sessions {
		drained = append(drained, sq.waiters...)
		sq.waiters = nil
	}
	m.mu.Unlock()

	for _, w := range drained {
		w.abort <- domain.ErrQueueClosed
	}
	m.notify()
}

// Active returns the number of admitted slots for the session.
func (m *Manager) Active(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sq := m.sessions[sessionID]; sq != nil {
		return sq.active
	}
	return 0
}

// Waiting returns the number of queued (non-admitted) requests for the session.
func (m *Manager) Waiting(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sq := m.sessions[sessionID]; sq != nil {
		return len(sq.waiters)
	}
	return 0
}

// Release frees the slot and promotes the head of the FIFO list, if any.
// Safe to call more than once; only the first call has effect.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.m.release(s)
	})
}

// InvocationID returns the invocation bound to this slot.
func (s *Slot) InvocationID() string { return s.invocationID }

// BindCancel attaches the cancel function of the running invocation's
// context, so Manager.Cancel can abort in-flight work.
func (s *Slot) BindCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
}

func (s *Slot) signalCancel() {
	s.cancelMu.Lock()
	cancel := s.cancel
	s.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (m *Manager) newSlotLocked(sessionID, invocationID string) *Slot {
	slot := &Slot{m: m, sessionID: sessionID, invocationID: invocationID}
	m.running[invocationID] = slot
	return slot
}

func (m *Manager) release(s *Slot) {
	m.mu.Lock()
	delete(m.running, s.invocationID)

	sq := m.sessions[s.sessionID]
	if sq == nil {
		m.mu.Unlock()
		return
	}

	if len(sq.waiters) > 0 && !m.closed {
		// Hand the freed slot to the FIFO head; active count is unchanged.
		w := sq.waiters[0]
		sq.waiters = sq.waiters[1:]
		next := m.newSlotLocked(s.sessionID, w.invocationID)
		m.mu.Unlock()
		w.admit <- next
		m.notify()
		return
	}

	sq.active--
	m.cleanupLocked(s.sessionID, sq)
	m.mu.Unlock()
	m.notify()
}

// removeWaiterLocked removes w from the session's FIFO list. Returns false
// if the waiter is no longer queued (already admitted or aborted).
func (m *Manager) removeWaiterLocked(sessionID string, w *waiter) bool {
	sq := m.sessions[sessionID]
	if sq == nil {
		return false
	}
	for i, cand := range sq.waiters {
		if cand == w {
			sq.waiters = append(sq.waiters[:i], sq.waiters[i+1:]...)
			m.cleanupLocked(sessionID, sq)
			return true
		}
	}
	return false
}

func (m *Manager) cleanupLocked(sessionID string, sq *sessionQueue) {
	if sq.active == 0 && len(sq.waiters) == 0 {
		delete(m.sessions, sessionID)
	}
}

func (m *Manager) notify() {
	if m.observer == nil {
		return
	}
	m.mu.Lock()
	active, waiting := 0, 0
	for _, sq := range m.sessions {
		active += sq.active
		waiting += len(sq.waiters)
	}
	m.mu.Unlock()
	m.observer(active, waiting)
}

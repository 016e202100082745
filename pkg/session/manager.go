package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/aretw0/contextkit/internal/logging"
	"github.com/aretw0/contextkit/pkg/capability"
	"github.com/aretw0/contextkit/pkg/domain"
	"github.com/aretw0/contextkit/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu     sync.Mutex
	refs   int
	unlock ports.UnlockFunc
}

// CreateRequest describes a new session.
type CreateRequest struct {
	UserID        string
	Provider      domain.Provider
	SystemPrompt  string
	ActiveTools   []string
	ClientVersion string
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused lock entries.
type Manager struct {
	store    ports.SessionStore
	registry *capability.Registry

	mu    sync.Mutex // Global lock for the map
	locks map[string]*lockEntry

	locker ports.DistributedLocker // Optional distributed locker
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager over the given store. The registry
// supplies the capability profile snapshotted into each session.
func NewManager(store ports.SessionStore, registry *capability.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		registry: registry,
		locks:    make(map[string]*lockEntry),
		logger:   logging.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Create initializes a new session with a capability profile snapshot for
// the requested provider. Requested active tools outside the profile are
// rejected; an empty request activates the whole profile.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Session, error) {
	profile, ok := m.registry.Profile(req.Provider)
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("unknown provider %q", req.Provider), nil)
	}

	active := req.ActiveTools
	if len(active) == 0 {
		active = append([]string(nil), profile.Tools...)
	} else {
		for _, toolID := range active {
			if !profile.HasTool(toolID) {
				return nil, domain.NewCapabilityError(req.Provider, toolID)
			}
		}
	}

	prompt := req.SystemPrompt
	if prompt == "" {
		prompt = domain.DefaultSystemPrompt
	}

	sess := &domain.Session{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Provider:      req.Provider,
		SystemPrompt:  prompt,
		ActiveTools:   active,
		Profile:       profile,
		ClientVersion: req.ClientVersion,
		CreatedAt:     m.now().UTC(),
	}

	err := m.WithLock(ctx, sess.ID, func(ctx context.Context) error {
		return m.store.Save(ctx, sess)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}
	m.logger.Info("session created", "session_id", sess.ID, "provider", req.Provider)
	return sess, nil
}

// Get retrieves an existing session from the store.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.store.Load(ctx, sessionID)
		return err
	})
	return sess, err
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// AppendMessage adds one message to the session's conversation history.
// A zero timestamp is stamped with the current time.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, msg domain.Message) (*domain.Session, error) {
	var sess *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.store.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = m.now().UTC()
		}
		sess.Messages = append(sess.Messages, msg)
		return m.store.Save(ctx, sess)
	})
	return sess, err
}

// RefreshProfile re-reads the provider's capability profile and swaps the
// session's snapshot in one write. Readers see either the old or the new
// profile, never a mix.
func (m *Manager) RefreshProfile(ctx context.Context, sessionID string) (*domain.Session, error) {
	var sess *domain.Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.store.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		profile, ok := m.registry.Profile(sess.Provider)
		if !ok {
			return domain.NewValidationError(fmt.Sprintf("provider %q no longer in manifest", sess.Provider), nil)
		}
		sess.Profile = profile
		return m.store.Save(ctx, sess)
	})
	return sess, err
}

// Store returns the underlying session store.
func (m *Manager) Store() ports.SessionStore {
	return m.store
}

// WithLock executes a function while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, 30*time.Second)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

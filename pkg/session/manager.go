package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/panbeh/internal/observability"
	"github.com/harun/panbeh/pkg/agent"
	"github.com/rs/zerolog"
)

// DefaultIdleTimeout is used when no idle timeout is configured.
const DefaultIdleTimeout = 30 * time.Minute

// ErrSessionNotFound is returned for unknown or closed session ids.
var ErrSessionNotFound = errors.New("session not found")

// Factory creates agent sessions.
type Factory interface {
	NewSession(ctx context.Context, identity agent.Identity) (*agent.Session, error)
}

// Manager tracks the live sessions of every dashboard client.
type Manager struct {
	factory     Factory
	idleTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*agent.Session
	byClient map[string]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty manager.
func NewManager(factory Factory, idleTimeout time.Duration, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	observability.EnsureRegistered()

	m := &Manager{
		factory:     factory,
		idleTimeout: idleTimeout,
		logger:      logger.With().Str("component", "session_manager").Logger(),
		now:         time.Now,
		sessions:    make(map[string]*agent.Session),
		byClient:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Open returns the client's live session if it belongs to identity.
// Otherwise the old session is dropped and a new one is created; the
// bool reports whether that happened.
func (m *Manager) Open(ctx context.Context, clientID string, identity agent.Identity) (*agent.Session, bool, error) {
	if clientID == "" {
		return nil, false, fmt.Errorf("client id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byClient[clientID]; ok {
		if s, ok := m.sessions[id]; ok {
			if s.Identity() == identity {
				return s, false, nil
			}
			m.logger.Info().
				Str("client_id", clientID).
				Str("session_id", id).
				Str("from", s.Identity().String()).
				Str("to", identity.String()).
				Msg("Identity changed, replacing session")
			delete(m.sessions, id)
		}
		delete(m.byClient, clientID)
	}

	s, err := m.factory.NewSession(ctx, identity)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create session: %w", err)
	}

	m.sessions[s.ID()] = s
	m.byClient[clientID] = s.ID()
	observability.SetActiveSessions(len(m.sessions))

	return s, true, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*agent.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close drops a session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	m.remove(id)
	m.logger.Debug().Str("session_id", id).Msg("Session closed")
	return nil
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepIdle drops sessions idle longer than the timeout. Busy sessions
// are kept. It returns how many were dropped.
func (m *Manager) SweepIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.idleTimeout)
	dropped := 0
	for id, s := range m.sessions {
		if s.IsBusy() || s.LastActive().After(cutoff) {
			continue
		}
		m.remove(id)
		dropped++
	}

	if dropped > 0 {
		m.logger.Info().Int("dropped", dropped).Int("remaining", len(m.sessions)).Msg("Idle sessions swept")
	}
	return dropped
}

// remove deletes a session and its client mapping. Callers hold mu.
func (m *Manager) remove(id string) {
	delete(m.sessions, id)
	for client, sid := range m.byClient {
		if sid == id {
			delete(m.byClient, client)
		}
	}
	observability.SetActiveSessions(len(m.sessions))
}

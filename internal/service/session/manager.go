package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/qgao233/virtual-avatar-agent/internal/observability/logging"
)

// Manager is the registry of live sessions. The handler registers a session
// for its whole lifetime so a server drain can shut every session down.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      zerolog.Logger
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		log:      logging.WithComponent("session-manager"),
	}
}

// Add registers a session under its ID.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID()] = s
}

// Remove unregisters a session. Unknown IDs are a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown drains all live sessions concurrently and waits for them.
// Each session's own ShutdownTimeout bounds the wait.
func (m *Manager) Shutdown() {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	if len(sessions) == 0 {
		return
	}
	m.log.Info().Int("sessions", len(sessions)).Msg("Draining all sessions")

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Shutdown()
		}(s)
	}
	wg.Wait()
}

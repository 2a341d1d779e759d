package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/llm"
)

// ErrNotFound indicates an unknown session identifier
var ErrNotFound = errors.New("session not found")

// Snapshot is the archived form of a session
type Snapshot struct {
	ID        string         `json:"id"`
	Status    agent.Status   `json:"status"`
	Turns     []Turn         `json:"turns"`
	Flow      map[string]any `json:"flow,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Archiver persists session snapshots. Archiving is best-effort: failures
// are logged and never fail a turn.
type Archiver interface {
	SaveSession(ctx context.Context, snapshot *Snapshot) error
	DeleteSession(ctx context.Context, id string) error
}

// Manager owns the collection of sessions and provides a concurrent-safe way
// to create, look up and drive them. The manager lock guards map membership
// only; each session carries its own mutex, so turns on unrelated sessions
// run in parallel.
type Manager struct {
	llmClient  llm.Client
	maxRepairs int
	archiver   Archiver

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager
func NewManager(llmClient llm.Client) *Manager {
	return &Manager{
		llmClient:  llmClient,
		maxRepairs: agent.DefaultMaxRepairs,
		sessions:   make(map[string]*Session),
	}
}

// WithMaxRepairs sets the per-turn repair budget for new sessions. Like
// WithArchiver, it writes without synchronization and must be called during
// setup, before the manager is shared across goroutines.
func (m *Manager) WithMaxRepairs(budget int) *Manager {
	m.maxRepairs = budget
	return m
}

// WithArchiver enables best-effort session persistence. Must be called
// during setup, before the manager is shared across goroutines.
func (m *Manager) WithArchiver(archiver Archiver) *Manager {
	m.archiver = archiver
	return m
}

// Create creates a new session with a fresh identifier
func (m *Manager) Create() *Session {
	builder := agent.NewBuilderAgent("botforge", m.llmClient).WithMaxRepairs(m.maxRepairs)
	s := newSession(uuid.NewString(), builder)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.archive(s)
	return s
}

// Get retrieves a session by identifier
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, ErrNotFound
	}
	return s, nil
}

// Chat sends a user message to a session and returns the turn's terminal
// outcome. Concurrent calls against the same identifier serialize on the
// session's own mutex.
func (m *Manager) Chat(ctx context.Context, id, message string) (*agent.TurnResult, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	result, err := s.Chat(ctx, message)
	if err != nil {
		return nil, err
	}

	m.archive(s)
	return result, nil
}

// Reset clears a session's transcript and flow, keeping its identifier
func (m *Manager) Reset(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.Reset()
	m.archive(s)
	return nil
}

// Delete removes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	_, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !exists {
		return ErrNotFound
	}

	if m.archiver != nil {
		if err := m.archiver.DeleteSession(context.Background(), id); err != nil {
			log.Printf("Warning: failed to delete archived session %s: %v", id, err)
		}
	}
	return nil
}

// History returns a read-only copy of a session's transcript
func (m *Manager) History(id string) ([]Turn, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.History(), nil
}

// Flow returns a copy of a session's current flow document
func (m *Manager) Flow(id string) (map[string]any, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Flow(), nil
}

// Subscribe registers a turn-event listener on a session and returns a
// cancel function
func (m *Manager) Subscribe(id string, listener func(agent.TurnEvent)) (func(), error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Subscribe(listener), nil
}

// List returns the identifiers of all active sessions
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Restore rebuilds sessions from archived snapshots, typically at startup
func (m *Manager) Restore(snapshots []*Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, snapshot := range snapshots {
		builder := agent.NewBuilderAgent("botforge", m.llmClient).WithMaxRepairs(m.maxRepairs)
		s := newSession(snapshot.ID, builder)
		s.CreatedAt = snapshot.CreatedAt
		s.restore(snapshot)
		m.sessions[snapshot.ID] = s
	}
}

// archive persists a session snapshot if an archiver is configured
func (m *Manager) archive(s *Session) {
	if m.archiver == nil {
		return
	}

	s.mu.Lock()
	snapshot := s.snapshot()
	s.mu.Unlock()

	if err := m.archiver.SaveSession(context.Background(), snapshot); err != nil {
		log.Printf("Warning: failed to archive session %s: %v", s.ID, err)
	}
}

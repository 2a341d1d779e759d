package session

import (
	"context"
	"sync"
	"time"

	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/llm"
)

// Turn is one transcript entry. Insertion order is the conversation order
// and is replayed to the model each turn.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Info is a read-only snapshot of a session's state
type Info struct {
	ID        string       `json:"id"`
	Status    agent.Status `json:"status"`
	Turns     int          `json:"turns"`
	HasFlow   bool         `json:"has_flow"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Session wraps a builder agent with identity, a timestamped transcript and
// per-session mutual exclusion. All reads and writes go through the session
// mutex, so at most one turn is ever in flight and concurrent turns on the
// same session serialize instead of interleaving.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.Mutex
	agent     *agent.BuilderAgent
	turns     []Turn
	updatedAt time.Time

	listenerMu sync.Mutex
	listeners  map[int]func(agent.TurnEvent)
	nextHandle int
}

func newSession(id string, builder *agent.BuilderAgent) *Session {
	now := time.Now()
	s := &Session{
		ID:        id,
		CreatedAt: now,
		agent:     builder,
		updatedAt: now,
		listeners: make(map[int]func(agent.TurnEvent)),
	}

	builder.TurnListeners = append(builder.TurnListeners, s.broadcast)
	return s
}

// Chat executes one user turn. A gateway failure is returned as-is; the
// transcript keeps the user message so a retry of the same message is the
// next attempt, not a duplicate.
func (s *Session) Chat(ctx context.Context, message string) (*agent.TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	before := len(s.agent.ConversationHistory)
	result, err := s.agent.Run(ctx, message)
	now := time.Now()

	// The user message was sent at the start of the turn; everything the
	// agent appended after it arrived once the turn finished.
	for _, msg := range s.agent.ConversationHistory[before:] {
		ts := now
		if msg.Role == "user" {
			ts = start
		}
		s.turns = append(s.turns, Turn{Role: msg.Role, Content: msg.Content, Timestamp: ts})
	}
	s.updatedAt = now

	if err != nil {
		return nil, err
	}
	return result, nil
}

// Info returns a snapshot of the session's state
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Info{
		ID:        s.ID,
		Status:    s.agent.Status,
		Turns:     len(s.turns),
		HasFlow:   s.agent.Flow != nil,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
}

// History returns a copy of the transcript
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	return turns
}

// Flow returns a copy of the last validated flow, or nil if none exists
func (s *Session) Flow() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.agent.CurrentFlow()
}

// Reset clears the transcript and flow. The session identifier is unchanged.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agent.Reset()
	s.turns = nil
	s.updatedAt = time.Now()
}

// Subscribe registers a turn-event listener and returns a cancel function
func (s *Session) Subscribe(listener func(agent.TurnEvent)) func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	handle := s.nextHandle
	s.nextHandle++
	s.listeners[handle] = listener

	return func() {
		s.listenerMu.Lock()
		defer s.listenerMu.Unlock()
		delete(s.listeners, handle)
	}
}

// broadcast fans a turn event out to all subscribed listeners
func (s *Session) broadcast(event agent.TurnEvent) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	for _, listener := range s.listeners {
		listener(event)
	}
}

// snapshot captures the session for archiving. Callers must hold s.mu or
// have exclusive access.
func (s *Session) snapshot() *Snapshot {
	return &Snapshot{
		ID:        s.ID,
		Status:    s.agent.Status,
		Turns:     append([]Turn(nil), s.turns...),
		Flow:      s.agent.CurrentFlow(),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
}

// restore rebuilds agent state from an archived snapshot
func (s *Session) restore(snapshot *Snapshot) {
	s.turns = append([]Turn(nil), snapshot.Turns...)
	s.updatedAt = snapshot.UpdatedAt

	history := make([]llm.Message, 0, len(snapshot.Turns))
	for _, turn := range snapshot.Turns {
		history = append(history, llm.Message{Role: turn.Role, Content: turn.Content})
	}
	s.agent.ConversationHistory = history
	s.agent.Flow = snapshot.Flow
	s.agent.Status = snapshot.Status
	if s.agent.Status == "" {
		s.agent.Status = agent.StatusCollecting
	}
}

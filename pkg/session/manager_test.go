package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoGateway answers every call with the same scripted text
type echoGateway struct {
	mu    sync.Mutex
	text  string
	calls int
}

func (g *echoGateway) ChatCompletion(ctx context.Context, request *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: g.text}}},
	}, nil
}

func (g *echoGateway) GetModelName() string { return "echo" }
func (g *echoGateway) GetProvider() string  { return "test" }

// memoryArchiver records snapshots for assertions
type memoryArchiver struct {
	mu      sync.Mutex
	saved   map[string]*Snapshot
	deleted []string
}

func newMemoryArchiver() *memoryArchiver {
	return &memoryArchiver{saved: make(map[string]*Snapshot)}
}

func (a *memoryArchiver) SaveSession(ctx context.Context, snapshot *Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved[snapshot.ID] = snapshot
	return nil
}

func (a *memoryArchiver) DeleteSession(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, id)
	return nil
}

const readyFlowText = "```json\n{\"entry\": \"start\", \"nodes\": {\"start\": {\"type\": \"message\", \"text\": \"hi\"}}}\n```"

func TestManagerCreateAndGet(t *testing.T) {
	manager := NewManager(&echoGateway{text: "hello"})

	sess := manager.Create()
	require.NotEmpty(t, sess.ID)
	assert.Equal(t, 1, manager.Count())

	found, err := manager.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, found)

	_, err = manager.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManagerDelete(t *testing.T) {
	manager := NewManager(&echoGateway{text: "hello"})
	sess := manager.Create()

	require.NoError(t, manager.Delete(sess.ID))
	assert.Equal(t, 0, manager.Count())
	assert.ErrorIs(t, manager.Delete(sess.ID), ErrNotFound)
}

func TestManagerChatRecordsTranscript(t *testing.T) {
	manager := NewManager(&echoGateway{text: "What should the bot do?"})
	sess := manager.Create()

	result, err := manager.Chat(context.Background(), sess.ID, "build me a bot")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCollecting, result.Status)

	turns, err := manager.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "user", turns[0].Role)
	assert.Equal(t, "build me a bot", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)
	assert.False(t, turns[0].Timestamp.IsZero())
}

// slowGateway delays each completion so turn start and end are measurably
// distinct instants
type slowGateway struct {
	echoGateway
	delay time.Duration
}

func (g *slowGateway) ChatCompletion(ctx context.Context, request *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	time.Sleep(g.delay)
	return g.echoGateway.ChatCompletion(ctx, request)
}

func TestManagerTranscriptTimestampsOrdered(t *testing.T) {
	gateway := &slowGateway{echoGateway: echoGateway{text: "noted"}, delay: 5 * time.Millisecond}
	manager := NewManager(gateway)
	sess := manager.Create()

	_, err := manager.Chat(context.Background(), sess.ID, "build me a bot")
	require.NoError(t, err)

	turns, err := manager.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	// The user message predates the assistant reply by at least the model
	// round-trip, so sorting by timestamp preserves conversation order.
	assert.True(t, turns[1].Timestamp.After(turns[0].Timestamp))
}

func TestManagerFlowLifecycle(t *testing.T) {
	manager := NewManager(&echoGateway{text: readyFlowText})
	sess := manager.Create()

	flow, err := manager.Flow(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, flow)

	result, err := manager.Chat(context.Background(), sess.ID, "greet the user")
	require.NoError(t, err)
	assert.Equal(t, agent.StatusReady, result.Status)

	flow, err = manager.Flow(sess.ID)
	require.NoError(t, err)
	require.NotNil(t, flow)
	assert.Equal(t, "start", flow["entry"])

	info := sess.Info()
	assert.True(t, info.HasFlow)
	assert.Equal(t, agent.StatusReady, info.Status)
}

func TestManagerResetKeepsIdentifier(t *testing.T) {
	manager := NewManager(&echoGateway{text: readyFlowText})
	sess := manager.Create()

	_, err := manager.Chat(context.Background(), sess.ID, "greet the user")
	require.NoError(t, err)

	require.NoError(t, manager.Reset(sess.ID))

	found, err := manager.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, found.ID)

	flow, err := manager.Flow(sess.ID)
	require.NoError(t, err)
	assert.Nil(t, flow)

	turns, err := manager.History(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

// Two turns racing on the same session must serialize; both exchanges land in
// the transcript with no interleaved halves.
func TestManagerConcurrentChatsSerialize(t *testing.T) {
	manager := NewManager(&echoGateway{text: "noted"})
	sess := manager.Create()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := manager.Chat(context.Background(), sess.ID, fmt.Sprintf("message %d", n))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	turns, err := manager.History(sess.ID)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	for i := 0; i < 4; i += 2 {
		assert.Equal(t, "user", turns[i].Role)
		assert.Equal(t, "assistant", turns[i+1].Role)
	}
}

func TestManagerParallelSessions(t *testing.T) {
	manager := NewManager(&echoGateway{text: "ok"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := manager.Create()
			_, err := manager.Chat(context.Background(), sess.ID, "hello")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, manager.Count())
	assert.Len(t, manager.List(), 8)
}

func TestManagerArchivesSessions(t *testing.T) {
	archiver := newMemoryArchiver()
	manager := NewManager(&echoGateway{text: readyFlowText}).WithArchiver(archiver)

	sess := manager.Create()
	_, err := manager.Chat(context.Background(), sess.ID, "greet the user")
	require.NoError(t, err)

	archiver.mu.Lock()
	snapshot := archiver.saved[sess.ID]
	archiver.mu.Unlock()

	require.NotNil(t, snapshot)
	assert.Equal(t, agent.StatusReady, snapshot.Status)
	assert.Len(t, snapshot.Turns, 2)
	assert.NotNil(t, snapshot.Flow)

	require.NoError(t, manager.Delete(sess.ID))
	archiver.mu.Lock()
	deleted := append([]string(nil), archiver.deleted...)
	archiver.mu.Unlock()
	assert.Contains(t, deleted, sess.ID)
}

func TestManagerRestore(t *testing.T) {
	now := time.Now()
	snapshot := &Snapshot{
		ID:     "restored-session",
		Status: agent.StatusReady,
		Turns: []Turn{
			{Role: "user", Content: "greet the user", Timestamp: now},
			{Role: "assistant", Content: "done", Timestamp: now},
		},
		Flow: map[string]any{
			"entry": "start",
			"nodes": map[string]any{"start": map[string]any{"type": "message", "text": "hi"}},
		},
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now,
	}

	manager := NewManager(&echoGateway{text: "ok"})
	manager.Restore([]*Snapshot{snapshot})

	sess, err := manager.Get("restored-session")
	require.NoError(t, err)

	info := sess.Info()
	assert.Equal(t, agent.StatusReady, info.Status)
	assert.Equal(t, 2, info.Turns)
	assert.True(t, info.HasFlow)
	assert.Equal(t, snapshot.CreatedAt, info.CreatedAt)

	flow := sess.Flow()
	require.NotNil(t, flow)
	assert.Equal(t, "start", flow["entry"])
}

func TestSessionSubscribe(t *testing.T) {
	manager := NewManager(&echoGateway{text: "ok"})
	sess := manager.Create()

	var mu sync.Mutex
	var events []agent.TurnEvent
	cancel, err := manager.Subscribe(sess.ID, func(event agent.TurnEvent) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = sess.Chat(context.Background(), "hello")
	require.NoError(t, err)

	mu.Lock()
	count := len(events)
	mu.Unlock()
	assert.GreaterOrEqual(t, count, 2)

	cancel()
	_, err = sess.Chat(context.Background(), "again")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, count, len(events))
	mu.Unlock()
}

package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prathyushnallamothu/botforge/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGateway replays a scripted sequence of completions. A nil entry in errs
// means the matching call succeeds; past the end of the script the last
// response repeats.
type stubGateway struct {
	responses []string
	errs      []error
	calls     int
}

func (g *stubGateway) ChatCompletion(ctx context.Context, request *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	i := g.calls
	g.calls++

	if i < len(g.errs) && g.errs[i] != nil {
		return nil, g.errs[i]
	}

	text := ""
	if len(g.responses) > 0 {
		if i >= len(g.responses) {
			i = len(g.responses) - 1
		}
		text = g.responses[i]
	}

	return &llm.ChatCompletionResponse{
		Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: text}}},
	}, nil
}

func (g *stubGateway) GetModelName() string { return "stub" }
func (g *stubGateway) GetProvider() string  { return "test" }

func validFlowText(entry string) string {
	return fmt.Sprintf("Here it is:\n```json\n{\"entry\": %q, \"nodes\": {%q: {\"type\": \"message\", \"text\": \"hi\"}}}\n```", entry, entry)
}

func TestRunClarifyingReply(t *testing.T) {
	gateway := &stubGateway{responses: []string{"What should the bot say first?"}}
	builder := NewBuilderAgent("test", gateway)

	result, err := builder.Run(context.Background(), "I want a pizza bot")
	require.NoError(t, err)

	assert.Equal(t, StatusCollecting, result.Status)
	assert.Nil(t, result.Flow)
	assert.Equal(t, "What should the bot say first?", result.Reply)

	require.Len(t, builder.ConversationHistory, 2)
	assert.Equal(t, "user", builder.ConversationHistory[0].Role)
	assert.Equal(t, "assistant", builder.ConversationHistory[1].Role)
}

func TestRunValidFlowFirstTry(t *testing.T) {
	gateway := &stubGateway{responses: []string{validFlowText("start")}}
	builder := NewBuilderAgent("test", gateway)

	result, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	assert.Equal(t, StatusReady, result.Status)
	require.NotNil(t, result.Flow)
	assert.Equal(t, "start", result.Flow["entry"])
	assert.Equal(t, 1, gateway.calls)

	// The returned flow is a copy; mutating it must not touch agent state
	result.Flow["entry"] = "tampered"
	assert.Equal(t, "start", builder.CurrentFlow()["entry"])
}

func TestRunRepairsInvalidThenValid(t *testing.T) {
	// First candidate names an entry node that doesn't exist; the corrective
	// round-trip produces a fixed document.
	broken := "```json\n{\"entry\": \"start\", \"nodes\": {\"greet\": {\"type\": \"message\", \"text\": \"hi\"}}}\n```"
	gateway := &stubGateway{responses: []string{broken, validFlowText("greet")}}
	builder := NewBuilderAgent("test", gateway)

	var repairs []TurnEvent
	builder.TurnListeners = append(builder.TurnListeners, func(event TurnEvent) {
		if event.Type == EventRepair {
			repairs = append(repairs, event)
		}
	})

	result, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	assert.Equal(t, StatusReady, result.Status)
	assert.Equal(t, 2, gateway.calls)
	require.Len(t, repairs, 1)
	assert.Contains(t, repairs[0].Detail, "entry node 'start' not found in nodes")

	// Repair chatter stays out of the durable transcript
	require.Len(t, builder.ConversationHistory, 2)
	assert.Equal(t, "user", builder.ConversationHistory[0].Role)
	assert.Equal(t, "assistant", builder.ConversationHistory[1].Role)
}

func TestRunExhaustsRepairBudget(t *testing.T) {
	gateway := &stubGateway{responses: []string{"```json\n{\"entry\": broken}\n```"}}
	builder := NewBuilderAgent("test", gateway).WithMaxRepairs(3)

	result, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.NotEmpty(t, result.Defects)
	// Initial attempt plus exactly MaxRepairs repair calls
	assert.Equal(t, 4, gateway.calls)

	// Transcript holds the user message and the failure explanation only
	require.Len(t, builder.ConversationHistory, 2)
	assert.Contains(t, builder.ConversationHistory[1].Content, "3 repair attempts")
}

func TestRunBudgetSharedAcrossCauses(t *testing.T) {
	// One malformed candidate, then invalid candidates until the shared
	// budget runs out.
	malformed := "```json\n{\"entry\": \"start\", \"nodes\":\n```"
	invalid := "```json\n{\"entry\": \"start\", \"nodes\": {\"a\": {\"type\": \"bogus\"}}}\n```"
	gateway := &stubGateway{responses: []string{malformed, invalid, invalid, invalid}}
	builder := NewBuilderAgent("test", gateway).WithMaxRepairs(2)

	result, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, 3, gateway.calls)
	assert.Contains(t, result.Defects, "node 'a': unknown type 'bogus'")
}

func TestRunGatewayFailurePreservesState(t *testing.T) {
	gateway := &stubGateway{
		responses: []string{"", validFlowText("start")},
		errs:      []error{errors.New("connection refused"), nil},
	}
	builder := NewBuilderAgent("test", gateway)

	_, err := builder.Run(context.Background(), "greet the user")
	require.Error(t, err)

	var gatewayErr *GatewayError
	require.True(t, errors.As(err, &gatewayErr))
	assert.Equal(t, StatusCollecting, builder.Status)
	require.Len(t, builder.ConversationHistory, 1)

	// Retrying the identical message must not duplicate it in the transcript
	result, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)
	assert.Equal(t, StatusReady, result.Status)

	users := 0
	for _, msg := range builder.ConversationHistory {
		if msg.Role == "user" {
			users++
		}
	}
	assert.Equal(t, 1, users)
}

func TestRunFailureKeepsLastValidFlow(t *testing.T) {
	gateway := &stubGateway{responses: []string{validFlowText("start")}}
	builder := NewBuilderAgent("test", gateway)

	_, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)
	require.NotNil(t, builder.Flow)

	gateway.responses = []string{"```json\n{not even close}\n```"}
	gateway.calls = 0

	result, err := builder.Run(context.Background(), "now break it")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)

	// The last validated document survives the failed turn untouched
	flow := builder.CurrentFlow()
	require.NotNil(t, flow)
	assert.Equal(t, "start", flow["entry"])
}

func TestRunClarifyingReplyAfterReady(t *testing.T) {
	gateway := &stubGateway{responses: []string{validFlowText("start"), "Sure, what would you like to change?"}}
	builder := NewBuilderAgent("test", gateway)

	_, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	result, err := builder.Run(context.Background(), "can you explain the flow?")
	require.NoError(t, err)

	// A prose answer doesn't demote a session that already has a valid flow
	assert.Equal(t, StatusReady, result.Status)
	require.NotNil(t, result.Flow)
	assert.Equal(t, "start", result.Flow["entry"])
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	gateway := &stubGateway{responses: []string{validFlowText("start")}}
	builder := NewBuilderAgent("test", gateway)

	var types []string
	builder.TurnListeners = append(builder.TurnListeners, func(event TurnEvent) {
		types = append(types, event.Type)
	})

	_, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	assert.Equal(t, []string{EventTurnStarted, EventModelCall, EventReady}, types)
}

func TestReset(t *testing.T) {
	gateway := &stubGateway{responses: []string{validFlowText("start")}}
	builder := NewBuilderAgent("test", gateway)

	_, err := builder.Run(context.Background(), "greet the user")
	require.NoError(t, err)

	builder.Reset()
	assert.Nil(t, builder.Flow)
	assert.Empty(t, builder.ConversationHistory)
	assert.Equal(t, StatusCollecting, builder.Status)
}

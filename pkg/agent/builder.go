package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/prathyushnallamothu/botforge/pkg/extract"
	"github.com/prathyushnallamothu/botforge/pkg/llm"
	"github.com/prathyushnallamothu/botforge/pkg/schema"
)

// DefaultMaxRepairs is the repair budget shared by malformed-candidate and
// invalid-candidate causes within one user turn.
const DefaultMaxRepairs = 3

// BuilderAgent drives one conversation toward a structurally valid flow
// document. It owns the transcript, the last known-valid flow and the
// per-turn repair loop.
//
// A BuilderAgent is not safe for concurrent use; the session layer
// serializes turns so at most one is in flight per conversation.
type BuilderAgent struct {
	Name                string
	LLMClient           llm.Client
	ConversationHistory []llm.Message
	SystemPrompt        string
	Temperature         float64
	MaxRepairs          int
	// Flow is the last validated document. It is overwritten only when a new
	// candidate passes validation, never rolled back on a failed attempt.
	Flow   map[string]any
	Status Status
	// TurnListeners receive progress events while a turn is in flight
	TurnListeners []func(TurnEvent)
}

// NewBuilderAgent creates a new builder agent
func NewBuilderAgent(name string, llmClient llm.Client) *BuilderAgent {
	return &BuilderAgent{
		Name:         name,
		LLMClient:    llmClient,
		SystemPrompt: defaultSystemPrompt,
		Temperature:  0.3,
		MaxRepairs:   DefaultMaxRepairs,
		Status:       StatusCollecting,
	}
}

// WithSystemPrompt sets a custom system prompt
func (a *BuilderAgent) WithSystemPrompt(prompt string) *BuilderAgent {
	a.SystemPrompt = prompt
	return a
}

// WithMaxRepairs sets the per-turn repair budget
func (a *BuilderAgent) WithMaxRepairs(budget int) *BuilderAgent {
	a.MaxRepairs = budget
	return a
}

// CurrentFlow returns a copy of the last validated flow, or nil
func (a *BuilderAgent) CurrentFlow() map[string]any {
	return schema.Clone(a.Flow)
}

// History returns a copy of the conversation transcript
func (a *BuilderAgent) History() []llm.Message {
	history := make([]llm.Message, len(a.ConversationHistory))
	copy(history, a.ConversationHistory)
	return history
}

// Reset clears the transcript and flow and returns the agent to collecting
func (a *BuilderAgent) Reset() {
	a.ConversationHistory = nil
	a.Flow = nil
	a.Status = StatusCollecting
}

// Run executes one user turn: append the message, call the model, extract
// and validate a candidate flow, repairing up to MaxRepairs times. Only a
// terminal outcome is returned; a GatewayError leaves all state as it was so
// the caller can retry the same message.
func (a *BuilderAgent) Run(ctx context.Context, input string) (*TurnResult, error) {
	a.emit(TurnEvent{Type: EventTurnStarted})

	// A turn that died at the gateway already left this message in the
	// transcript; don't append the retried message twice.
	if n := len(a.ConversationHistory); n == 0 ||
		a.ConversationHistory[n-1].Role != "user" ||
		a.ConversationHistory[n-1].Content != input {
		a.ConversationHistory = append(a.ConversationHistory, llm.Message{Role: "user", Content: input})
	}

	// Outbound transcript for this turn. Repair sub-exchanges are appended
	// here only, so the session transcript never records repair chatter.
	outbound := make([]llm.Message, 0, len(a.ConversationHistory)+1)
	outbound = append(outbound, llm.Message{Role: "system", Content: a.SystemPrompt})
	outbound = append(outbound, a.ConversationHistory...)

	repairs := 0
	for {
		text, err := a.complete(ctx, outbound)
		if err != nil {
			return nil, &GatewayError{Err: err}
		}

		candidate, err := extract.Extract(text)
		if err != nil {
			// Malformed candidate: an apparent JSON block that won't parse
			repairs++
			if repairs > a.MaxRepairs {
				return a.fail([]string{err.Error()}), nil
			}
			a.emit(TurnEvent{Type: EventRepair, Detail: err.Error(), Attempt: repairs, Budget: a.MaxRepairs})
			outbound = append(outbound,
				llm.Message{Role: "assistant", Content: text},
				llm.Message{Role: "user", Content: fmt.Sprintf(repairParsePrompt, err)},
			)
			continue
		}

		if candidate == nil {
			// No JSON yet: the model is asking a clarifying question
			return a.reply(text), nil
		}

		defects := schema.Validate(candidate.Value)
		if len(defects) == 0 {
			return a.accept(text, candidate.Value), nil
		}

		repairs++
		if repairs > a.MaxRepairs {
			return a.fail(defects), nil
		}
		a.emit(TurnEvent{Type: EventRepair, Detail: strings.Join(defects, "; "), Attempt: repairs, Budget: a.MaxRepairs})
		outbound = append(outbound,
			llm.Message{Role: "assistant", Content: text},
			llm.Message{Role: "user", Content: fmt.Sprintf(repairDefectsPrompt, formatDefects(defects))},
		)
	}
}

// complete sends the outbound transcript to the model gateway and returns
// the assistant text.
func (a *BuilderAgent) complete(ctx context.Context, messages []llm.Message) (string, error) {
	a.emit(TurnEvent{Type: EventModelCall})

	response, err := a.LLMClient.ChatCompletion(ctx, &llm.ChatCompletionRequest{
		Messages:    messages,
		Temperature: a.Temperature,
	})
	if err != nil {
		return "", err
	}

	return llm.CompletionText(response)
}

// reply records a clarifying assistant reply and keeps the conversation open.
func (a *BuilderAgent) reply(text string) *TurnResult {
	a.ConversationHistory = append(a.ConversationHistory, llm.Message{Role: "assistant", Content: text})

	// Status is derived from the last validated flow: a ready session stays
	// ready while the user refines it.
	a.Status = StatusCollecting
	result := &TurnResult{Reply: text, Status: StatusCollecting}
	if a.Flow != nil {
		a.Status = StatusReady
		result.Status = StatusReady
		result.Flow = a.CurrentFlow()
	}

	a.emit(TurnEvent{Type: EventReply, Detail: string(result.Status)})
	return result
}

// accept installs a validated flow document and ends the turn as ready.
// The flow field is updated atomically, only here.
func (a *BuilderAgent) accept(text string, doc map[string]any) *TurnResult {
	a.Flow = schema.Clone(doc)
	a.Status = StatusReady
	a.ConversationHistory = append(a.ConversationHistory, llm.Message{Role: "assistant", Content: text})

	a.emit(TurnEvent{Type: EventReady})
	return &TurnResult{Reply: text, Status: StatusReady, Flow: schema.Clone(doc)}
}

// fail ends the turn after the repair budget is exhausted. The last valid
// flow, if any, is left untouched.
func (a *BuilderAgent) fail(defects []string) *TurnResult {
	explanation := fmt.Sprintf(
		"Flow generation could not complete after %d repair attempts. Remaining defects:\n%s",
		a.MaxRepairs, formatDefects(defects),
	)

	a.Status = StatusFailed
	a.ConversationHistory = append(a.ConversationHistory, llm.Message{Role: "assistant", Content: explanation})

	a.emit(TurnEvent{Type: EventFailed, Detail: strings.Join(defects, "; ")})
	return &TurnResult{Reply: explanation, Status: StatusFailed, Defects: defects}
}

// emit sends a turn event to all registered listeners
func (a *BuilderAgent) emit(event TurnEvent) {
	for _, listener := range a.TurnListeners {
		listener(event)
	}
}

// formatDefects renders a defect list as corrective bullet points
func formatDefects(defects []string) string {
	var b strings.Builder
	for _, defect := range defects {
		b.WriteString("- ")
		b.WriteString(defect)
		b.WriteString("\n")
	}
	return b.String()
}

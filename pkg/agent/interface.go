package agent

// Status represents the current state of a conversation
type Status string

const (
	// StatusCollecting indicates the agent is still gathering requirements
	StatusCollecting Status = "collecting"
	// StatusReady indicates a structurally valid flow has been produced
	StatusReady Status = "ready"
	// StatusFailed indicates the last turn exhausted its repair budget
	StatusFailed Status = "failed"
)

// TurnResult is the terminal outcome of a single user turn. Internal repair
// attempts never surface here; the caller only sees ready, collecting or
// failed.
type TurnResult struct {
	// The assistant's reply: a clarifying question, a confirmation, or a
	// failure explanation
	Reply string `json:"reply"`
	// Conversation status after the turn
	Status Status `json:"status"`
	// The validated flow document, present only when Status is ready
	Flow map[string]any `json:"flow,omitempty"`
	// Validation defects, present only when Status is failed
	Defects []string `json:"defects,omitempty"`
}

// GatewayError reports a failed model gateway call. The turn ends
// immediately and session state is preserved, so the caller can retry the
// same message.
type GatewayError struct {
	Err error
}

// Error returns the error message
func (e *GatewayError) Error() string {
	return "model gateway: " + e.Err.Error()
}

// Unwrap returns the underlying gateway failure
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Turn event types emitted while a turn is in flight.
const (
	EventTurnStarted = "turn-started"
	EventModelCall   = "model-call"
	EventRepair      = "repair"
	EventReply       = "reply"
	EventReady       = "ready"
	EventFailed      = "failed"
)

// TurnEvent describes progress within a turn. Events are advisory; clients
// streaming them see repair attempts that are otherwise invisible.
type TurnEvent struct {
	Type    string `json:"type"`
	Detail  string `json:"detail,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
	Budget  int    `json:"budget,omitempty"`
}

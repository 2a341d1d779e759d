package schema

import "encoding/json"

// Node type tags recognized by the bot engine.
const (
	NodeMessage   = "message"
	NodeChoice    = "choice"
	NodeInput     = "input"
	NodeCondition = "condition"
	NodeHTTP      = "http"
	NodeDelay     = "delay"
	NodeCommand   = "command"
)

// KnownNodeTypes is the set of node type tags the engine understands.
var KnownNodeTypes = map[string]bool{
	NodeMessage:   true,
	NodeChoice:    true,
	NodeInput:     true,
	NodeCondition: true,
	NodeHTTP:      true,
	NodeDelay:     true,
	NodeCommand:   true,
}

// RequiredFields maps each node type to the data fields it must carry.
// A required field must be present, non-null and non-empty.
var RequiredFields = map[string][]string{
	NodeMessage:   {"text"},
	NodeChoice:    {"options"},
	NodeInput:     {"prompt", "var"},
	NodeCondition: {"var", "operator", "value"},
	NodeHTTP:      {"method", "url"},
	NodeDelay:     {"ms"},
	NodeCommand:   {"command"},
}

// Clone returns a deep copy of a flow document. Sessions own their flow
// exclusively, so every document handed to a caller is a copy.
func Clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}

	return out
}

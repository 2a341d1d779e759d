package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed indicates that a JSON-looking block was found in the model
// output but failed to parse. This is distinct from finding no candidate at
// all: a missing candidate is a normal mid-conversation outcome, a malformed
// one triggers the repair loop.
var ErrMalformed = errors.New("malformed JSON candidate")

// Candidate is a JSON object pulled out of raw model output. It lives for a
// single turn and is discarded once validated (or rejected).
type Candidate struct {
	Raw   string
	Value map[string]any
}

// Extract scans raw model text for an embedded JSON object and parses it.
// Fenced code blocks are preferred; a bare top-level {...} found with a
// balanced-brace scan is the fallback. Only the first candidate is
// considered; models tend to elaborate after their primary answer.
//
// Returns (nil, nil) when the text contains no JSON-looking block at all.
func Extract(text string) (*Candidate, error) {
	raw, found := findCandidate(text)
	if !found {
		return nil, nil
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &Candidate{Raw: raw, Value: value}, nil
}

// findCandidate locates the first JSON object in the text, fenced block
// first, bare braces second.
func findCandidate(text string) (string, bool) {
	if raw, ok := fencedBlock(text); ok {
		return raw, true
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	return balancedObject(text[start:]), true
}

// fencedBlock returns the body of the first ``` fence whose content starts
// with an opening brace. The language tag (```json) is ignored.
func fencedBlock(text string) (string, bool) {
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return "", false
		}
		rest = rest[open+3:]

		// Skip the language tag up to the first newline
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}

		body := rest
		if end := strings.Index(rest, "```"); end >= 0 {
			body = rest[:end]
			rest = rest[end+3:]
		} else {
			rest = ""
		}

		body = strings.TrimSpace(body)
		if strings.HasPrefix(body, "{") {
			return body, true
		}

		if rest == "" {
			return "", false
		}
	}
}

// balancedObject scans text starting at an opening brace and returns the
// substring up to its matching close, honoring string literals and escapes
// so braces inside strings don't end the scan early. An unterminated object
// is returned as-is and left for the JSON parser to reject.
func balancedObject(text string) string {
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[:i+1]
			}
		}
	}

	return text
}

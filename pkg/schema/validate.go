package schema

import (
	"fmt"
	"sort"
)

// Validate checks a candidate flow document against the engine contract and
// returns an ordered list of defects. An empty list means the document is
// valid. Checks run in a fixed order (top-level shape, then nodes in sorted
// id order, then reference integrity) so identical bad input always yields
// the same defect list.
//
// Reachability from the entry node is deliberately not checked; loosely
// connected flows are structurally valid.
func Validate(doc map[string]any) []string {
	defects := make([]string, 0)

	if doc == nil {
		return []string{"flow must be a JSON object"}
	}

	// Top-level shape
	entry, entryOK := doc["entry"].(string)
	if !entryOK || entry == "" {
		defects = append(defects, "missing or invalid 'entry'")
	}

	nodes, ok := doc["nodes"].(map[string]any)
	if !ok {
		defects = append(defects, "missing or invalid 'nodes' object")
		return defects
	}
	if len(nodes) == 0 {
		defects = append(defects, "flow has no nodes")
		return defects
	}

	// The edges array is optional; a flow with a single node has none.
	edges, edgesOK := edgeList(doc)
	if !edgesOK {
		defects = append(defects, "'edges' must be an array of objects")
	}

	// Per-node checks, in sorted id order for determinism
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		node, ok := nodes[id].(map[string]any)
		if !ok {
			defects = append(defects, fmt.Sprintf("node '%s' must be an object", id))
			continue
		}

		nodeType, ok := node["type"].(string)
		if !ok || nodeType == "" {
			defects = append(defects, fmt.Sprintf("node '%s' has no 'type'", id))
			continue
		}

		if !KnownNodeTypes[nodeType] {
			defects = append(defects, fmt.Sprintf("node '%s': unknown type '%s'", id, nodeType))
			continue
		}

		for _, field := range RequiredFields[nodeType] {
			value, present := node[field]
			if !present || emptyValue(value) {
				defects = append(defects, fmt.Sprintf("node '%s' (%s): missing required field '%s'", id, nodeType, field))
			}
		}
	}

	// Reference integrity
	if entryOK && entry != "" {
		if _, exists := nodes[entry]; !exists {
			defects = append(defects, fmt.Sprintf("entry node '%s' not found in nodes", entry))
		}
	}

	for i, edge := range edges {
		from, fromOK := edge["from"].(string)
		to, toOK := edge["to"].(string)

		if !fromOK || from == "" || !toOK || to == "" {
			defects = append(defects, fmt.Sprintf("edge %d: missing 'from' or 'to'", i))
			continue
		}

		if _, exists := nodes[from]; !exists {
			defects = append(defects, fmt.Sprintf("edge %d: from node '%s' not found in nodes", i, from))
		}
		if _, exists := nodes[to]; !exists {
			defects = append(defects, fmt.Sprintf("edge %d: to node '%s' not found in nodes", i, to))
		}
	}

	return defects
}

// edgeList extracts the edges array from a document. A missing key is treated
// as an empty list; a present key with the wrong shape reports failure.
func edgeList(doc map[string]any) ([]map[string]any, bool) {
	raw, present := doc["edges"]
	if !present || raw == nil {
		return nil, true
	}

	list, ok := raw.([]any)
	if !ok {
		return nil, false
	}

	edges := make([]map[string]any, 0, len(list))
	for _, item := range list {
		edge, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		edges = append(edges, edge)
	}

	return edges, true
}

// emptyValue reports whether a required field value counts as missing.
// Empty strings and empty arrays fail the requirement; a choice node with
// zero options is as broken as one without the field.
func emptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	default:
		return false
	}
}

package protocol

import (
	"encoding/json"
	"fmt"
)

// Patch ops, matching RFC 6902 names.
const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

// Patch is one path-addressed mutation of a session's mirrored state.
// Patches arrive in batches tied to one session and must be applied in
// arrival order; they are consumed once and discarded.
type Patch struct {
	Op    string          `json:"op"`
	Path  Path            `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
	From  Path            `json:"from,omitempty"`
}

// Path is a sequence of segments addressing a location in session state.
// Segments are strings (map keys, field names) or ints (array indices).
type Path []any

func (p *Path) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Path, 0, len(raw))
	for _, seg := range raw {
		switch v := seg.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, int(v))
		default:
			return fmt.Errorf("unsupported path segment %T", seg)
		}
	}
	*p = out
	return nil
}

// Key returns the i-th segment as a string key.
func (p Path) Key(i int) (string, bool) {
	if i < 0 || i >= len(p) {
		return "", false
	}
	s, ok := p[i].(string)
	return s, ok
}

// Index returns the i-th segment as an array index.
func (p Path) Index(i int) (int, bool) {
	if i < 0 || i >= len(p) {
		return 0, false
	}
	n, ok := p[i].(int)
	return n, ok
}

func (p Path) String() string {
	out := ""
	for _, seg := range p {
		out += fmt.Sprintf("/%v", seg)
	}
	if out == "" {
		return "/"
	}
	return out
}

// ValidOp reports whether op is a recognized patch operation.
func ValidOp(op string) bool {
	switch op {
	case OpAdd, OpRemove, OpReplace, OpMove, OpCopy, OpTest:
		return true
	}
	return false
}

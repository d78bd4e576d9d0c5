package worker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"plutobridge/internal/protocol"
)

// SessionState is the local mirror of one backend session. It is mutated
// only by applying patches (or replacing it wholesale from a snapshot),
// never locally guessed or recomputed.
type SessionState struct {
	NotebookID       string                     `json:"notebook_id"`
	Path             string                     `json:"path"`
	CellOrder        []string                   `json:"cell_order"`
	CellInputs       map[string]*CellInput      `json:"cell_inputs"`
	CellResults      map[string]*CellResult     `json:"cell_results"`
	CellDependencies map[string]*CellDependency `json:"cell_dependencies"`
	ProcessStatus    string                     `json:"process_status"`
	Nbpkg            json.RawMessage            `json:"nbpkg,omitempty"`
}

type CellInput struct {
	CellID   string         `json:"cell_id"`
	Code     string         `json:"code"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type CellResult struct {
	Running   bool        `json:"running"`
	Queued    bool        `json:"queued"`
	Errored   bool        `json:"errored"`
	Output    *CellOutput `json:"output"`
	Logs      []LogEntry  `json:"logs"`
	RuntimeNS int64       `json:"runtime"`
}

type CellOutput struct {
	Mime string `json:"mime"`
	Body any    `json:"body"`
}

type LogEntry struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

type CellDependency struct {
	Upstream   []string `json:"upstream"`
	Downstream []string `json:"downstream"`
}

func NewSessionState(path string) *SessionState {
	return &SessionState{
		Path:             path,
		CellInputs:       map[string]*CellInput{},
		CellResults:      map[string]*CellResult{},
		CellDependencies: map[string]*CellDependency{},
	}
}

// Apply mutates the state with one patch. Only the fields enumerated here
// can legally be touched by the backend; top-level segments the mirror does
// not track are skipped without error (the reconciler logs them). Malformed
// patches return an error and leave the state unchanged.
func (s *SessionState) Apply(p protocol.Patch) error {
	if !protocol.ValidOp(p.Op) {
		return fmt.Errorf("unknown patch op %q", p.Op)
	}
	root, ok := p.Path.Key(0)
	if !ok {
		return fmt.Errorf("patch path %s has no root segment", p.Path)
	}
	switch root {
	case "cell_order":
		return decodeValue(p.Value, &s.CellOrder)
	case "cell_inputs":
		return s.applyCellInputs(p)
	case "cell_results":
		return s.applyCellResults(p)
	case "cell_dependencies":
		return s.applyCellDependencies(p)
	case "process_status":
		return decodeValue(p.Value, &s.ProcessStatus)
	case "nbpkg":
		s.Nbpkg = append([]byte(nil), p.Value...)
		return nil
	default:
		// Backend-internal fields the mirror does not track.
		return nil
	}
}

func (s *SessionState) applyCellInputs(p protocol.Patch) error {
	if len(p.Path) == 1 {
		return decodeValue(p.Value, &s.CellInputs)
	}
	id, ok := p.Path.Key(1)
	if !ok {
		return fmt.Errorf("patch path %s: bad cell id segment", p.Path)
	}
	if len(p.Path) == 2 {
		if p.Op == protocol.OpRemove {
			delete(s.CellInputs, id)
			return nil
		}
		input := &CellInput{CellID: id}
		if err := decodeValue(p.Value, input); err != nil {
			return err
		}
		s.CellInputs[id] = input
		return nil
	}
	field, ok := p.Path.Key(2)
	if !ok {
		return fmt.Errorf("patch path %s: bad field segment", p.Path)
	}
	input := s.CellInputs[id]
	if input == nil {
		input = &CellInput{CellID: id}
		s.CellInputs[id] = input
	}
	switch field {
	case "code":
		return decodeValue(p.Value, &input.Code)
	case "metadata":
		return decodeValue(p.Value, &input.Metadata)
	default:
		return nil
	}
}

func (s *SessionState) applyCellResults(p protocol.Patch) error {
	if len(p.Path) == 1 {
		return decodeValue(p.Value, &s.CellResults)
	}
	id, ok := p.Path.Key(1)
	if !ok {
		return fmt.Errorf("patch path %s: bad cell id segment", p.Path)
	}
	if len(p.Path) == 2 {
		if p.Op == protocol.OpRemove {
			delete(s.CellResults, id)
			return nil
		}
		result := &CellResult{}
		if err := decodeValue(p.Value, result); err != nil {
			return err
		}
		s.CellResults[id] = result
		return nil
	}
	field, ok := p.Path.Key(2)
	if !ok {
		return fmt.Errorf("patch path %s: bad field segment", p.Path)
	}
	result := s.ensureResult(id)
	switch field {
	case "running":
		return decodeValue(p.Value, &result.Running)
	case "queued":
		return decodeValue(p.Value, &result.Queued)
	case "errored":
		return decodeValue(p.Value, &result.Errored)
	case "output":
		if isNullValue(p.Value) || p.Op == protocol.OpRemove {
			result.Output = nil
			return nil
		}
		out := &CellOutput{}
		if err := decodeValue(p.Value, out); err != nil {
			return err
		}
		result.Output = out
		return nil
	case "runtime":
		var ns float64
		if isNullValue(p.Value) {
			result.RuntimeNS = 0
			return nil
		}
		if err := decodeValue(p.Value, &ns); err != nil {
			return err
		}
		result.RuntimeNS = int64(ns)
		return nil
	case "logs":
		if len(p.Path) == 3 {
			return decodeValue(p.Value, &result.Logs)
		}
		idx, ok := p.Path.Index(3)
		if !ok {
			return fmt.Errorf("patch path %s: bad log index", p.Path)
		}
		entry := LogEntry{}
		if err := decodeValue(p.Value, &entry); err != nil {
			return err
		}
		switch {
		case idx >= 0 && idx < len(result.Logs) && p.Op != protocol.OpAdd:
			result.Logs[idx] = entry
		default:
			result.Logs = append(result.Logs, entry)
		}
		return nil
	default:
		return nil
	}
}

func (s *SessionState) applyCellDependencies(p protocol.Patch) error {
	if len(p.Path) == 1 {
		return decodeValue(p.Value, &s.CellDependencies)
	}
	id, ok := p.Path.Key(1)
	if !ok {
		return fmt.Errorf("patch path %s: bad cell id segment", p.Path)
	}
	if p.Op == protocol.OpRemove && len(p.Path) == 2 {
		delete(s.CellDependencies, id)
		return nil
	}
	dep := &CellDependency{}
	if err := decodeValue(p.Value, dep); err != nil {
		return err
	}
	s.CellDependencies[id] = dep
	return nil
}

func (s *SessionState) ensureResult(id string) *CellResult {
	if r := s.CellResults[id]; r != nil {
		return r
	}
	r := &CellResult{}
	s.CellResults[id] = r
	return r
}

// Clone returns a deep copy safe to hand to callers outside the session
// loop.
func (s *SessionState) Clone() *SessionState {
	out := &SessionState{
		NotebookID:       s.NotebookID,
		Path:             s.Path,
		CellOrder:        append([]string(nil), s.CellOrder...),
		CellInputs:       make(map[string]*CellInput, len(s.CellInputs)),
		CellResults:      make(map[string]*CellResult, len(s.CellResults)),
		CellDependencies: make(map[string]*CellDependency, len(s.CellDependencies)),
		ProcessStatus:    s.ProcessStatus,
		Nbpkg:            append(json.RawMessage(nil), s.Nbpkg...),
	}
	for id, in := range s.CellInputs {
		c := *in
		if in.Metadata != nil {
			c.Metadata = make(map[string]any, len(in.Metadata))
			for k, v := range in.Metadata {
				c.Metadata[k] = v
			}
		}
		out.CellInputs[id] = &c
	}
	for id, r := range s.CellResults {
		out.CellResults[id] = r.Clone()
	}
	for id, d := range s.CellDependencies {
		out.CellDependencies[id] = &CellDependency{
			Upstream:   append([]string(nil), d.Upstream...),
			Downstream: append([]string(nil), d.Downstream...),
		}
	}
	return out
}

func (r *CellResult) Clone() *CellResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Logs = append([]LogEntry(nil), r.Logs...)
	if r.Output != nil {
		o := *r.Output
		c.Output = &o
	}
	return &c
}

// Settled reports whether the cell has finished its current run.
func (r *CellResult) Settled() bool {
	return r != nil && !r.Running && !r.Queued && r.Output != nil
}

func decodeValue(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return fmt.Errorf("patch has no value")
	}
	return json.Unmarshal(raw, dst)
}

func isNullValue(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

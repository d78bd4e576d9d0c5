// Package protocol defines the wire shapes exchanged with the Pluto
// backend: the request/response envelope and the JSON-Patch update stream.
package protocol

import "encoding/json"

const (
	TypeRequest  = "req"
	TypeResponse = "resp"
	TypeEvent    = "event"
)

// Backend operations the bridge issues.
const (
	OpCreateSession   = "create_session"
	OpUpdateCell      = "update_cell"
	OpAddCell         = "add_cell"
	OpDeleteCells     = "delete_cells"
	OpInterrupt       = "interrupt"
	OpShutdownSession = "shutdown_session"
	OpPing            = "ping"

	// OpNotebookDiff is the push event carrying an UpdateMessage.
	OpNotebookDiff = "notebook_diff"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Request payloads. Mutations are keyed by {session, cell, code} tuples.

type CreateSessionRequest struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type UpdateCellRequest struct {
	SessionID string `json:"session_id"`
	CellID    string `json:"cell_id"`
	Code      string `json:"code"`
	Run       bool   `json:"run"`
}

type AddCellRequest struct {
	SessionID string `json:"session_id"`
	CellID    string `json:"cell_id"`
	Index     int    `json:"index"`
	Code      string `json:"code"`
}

type DeleteCellsRequest struct {
	SessionID string   `json:"session_id"`
	CellIDs   []string `json:"cell_ids"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// UpdateMessage is one push batch for one session: the patches since the
// previous batch and, optionally, a full state snapshot to resync from.
type UpdateMessage struct {
	SessionID string          `json:"session_id"`
	Patches   []Patch         `json:"patches"`
	Snapshot  json.RawMessage `json:"notebook,omitempty"`
}

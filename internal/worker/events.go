package worker

// EventKind enumerates the cross-component notifications the registry
// emits. Each kind has a fixed payload shape in Event.
type EventKind int

const (
	// EventNotebookOpened fires exactly once per successful session
	// creation. Payload: Path, SessionID.
	EventNotebookOpened EventKind = iota
	// EventNotebookClosed fires when a session is closed or discarded.
	// Payload: Path, SessionID.
	EventNotebookClosed
	// EventServerStateChanged fires when the backend connection is gained
	// or lost. Payload: ServerRunning.
	EventServerStateChanged
	// EventCellUpdated fires when a cell's execution state settles.
	// Payload: Path, SessionID, CellID.
	EventCellUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventNotebookOpened:
		return "notebookOpened"
	case EventNotebookClosed:
		return "notebookClosed"
	case EventServerStateChanged:
		return "serverStateChanged"
	case EventCellUpdated:
		return "cellUpdated"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind          EventKind
	Path          string
	SessionID     string
	CellID        string
	ServerRunning bool
}

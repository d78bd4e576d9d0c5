package worker

import (
	"context"
	"sort"

	"plutobridge/internal/render"
)

// SessionInfo describes one open notebook session.
type SessionInfo struct {
	Path      string   `json:"path"`
	SessionID string   `json:"session_id"`
	CellOrder []string `json:"cell_order"`
}

// CellView is the read model for one cell, composed from the session's
// local mirror.
type CellView struct {
	CellID    string     `json:"cell_id"`
	Code      string     `json:"code"`
	Mime      string     `json:"mime,omitempty"`
	Output    string     `json:"output,omitempty"`
	RuntimeNS int64      `json:"runtime_ns"`
	Errored   bool       `json:"errored"`
	Running   bool       `json:"running"`
	Queued    bool       `json:"queued"`
	Logs      []LogEntry `json:"logs,omitempty"`
}

// OpenNotebook opens (or returns) the session for path.
func (m *Manager) OpenNotebook(ctx context.Context, path string) (SessionInfo, error) {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return SessionInfo{}, err
	}
	return m.sessionInfo(w), nil
}

// ExecuteCell replaces a cell's code, runs it, and waits for the run to
// settle.
func (m *Manager) ExecuteCell(ctx context.Context, path, cellID, code string) (CellView, error) {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return CellView{}, err
	}
	if err := w.UpdateCellCode(ctx, cellID, code, true); err != nil {
		return CellView{}, err
	}
	if _, err := w.WaitSettled(ctx, cellID); err != nil {
		return CellView{}, err
	}
	return m.cellView(w, cellID)
}

// EditCell updates a cell's stored code; when run is set it also executes
// and waits for the result.
func (m *Manager) EditCell(ctx context.Context, path, cellID, code string, run bool) (CellView, error) {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return CellView{}, err
	}
	if err := w.UpdateCellCode(ctx, cellID, code, run); err != nil {
		return CellView{}, err
	}
	if run {
		if _, err := w.WaitSettled(ctx, cellID); err != nil {
			return CellView{}, err
		}
	}
	return m.cellView(w, cellID)
}

// CreateCell creates a new cell at index and waits for its first run.
func (m *Manager) CreateCell(ctx context.Context, path string, index int, code string) (CellView, error) {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return CellView{}, err
	}
	cellID, _, err := w.CreateAndRunCell(ctx, index, code)
	if err != nil {
		return CellView{}, err
	}
	return m.cellView(w, cellID)
}

// ReadCell reads a cell's last-known code and execution state without a
// network round-trip.
func (m *Manager) ReadCell(ctx context.Context, path, cellID string) (CellView, error) {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return CellView{}, err
	}
	return m.cellView(w, cellID)
}

// DeleteCells removes cells from the notebook session.
func (m *Manager) DeleteCells(ctx context.Context, path string, cellIDs []string) error {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return err
	}
	return w.DeleteCells(ctx, cellIDs)
}

// Interrupt aborts in-flight executions for the notebook's session.
func (m *Manager) Interrupt(ctx context.Context, path string) error {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return err
	}
	return w.Interrupt(ctx)
}

// ListOpenNotebooks returns the open sessions, sorted by path.
func (m *Manager) ListOpenNotebooks() []SessionInfo {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.Unlock()

	out := make([]SessionInfo, 0, len(workers))
	for _, w := range workers {
		out = append(out, m.sessionInfo(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ExecuteEphemeral runs code in a transient cell: create, run, delete. The
// delete failure is swallowed and logged so the result is never lost to
// cleanup problems.
func (m *Manager) ExecuteEphemeral(ctx context.Context, path, code string) (CellView, error) {
	w, err := m.GetSession(ctx, path)
	if err != nil {
		return CellView{}, err
	}
	index := len(w.FullState().CellOrder)
	cellID, result, err := w.CreateAndRunCell(ctx, index, code)
	if cellID != "" {
		defer func() {
			if derr := w.DeleteCells(context.WithoutCancel(ctx), []string{cellID}); derr != nil {
				m.logger.Warn("ephemeral cell cleanup failed", "path", path, "cell_id", cellID, "err", derr)
			}
		}()
	}
	if err != nil {
		return CellView{}, err
	}
	return viewFromResult(cellID, code, result), nil
}

func (m *Manager) sessionInfo(w *Worker) SessionInfo {
	state := w.FullState()
	return SessionInfo{Path: w.Path, SessionID: w.SessionID, CellOrder: state.CellOrder}
}

func (m *Manager) cellView(w *Worker, cellID string) (CellView, error) {
	input, result, ok := w.CellSnapshot(cellID)
	if !ok {
		return CellView{}, &CellNotFoundError{CellID: cellID}
	}
	view := viewFromResult(cellID, input.Code, result)
	return view, nil
}

func viewFromResult(cellID, code string, result *CellResult) CellView {
	view := CellView{CellID: cellID, Code: code}
	if result == nil {
		return view
	}
	view.RuntimeNS = result.RuntimeNS
	view.Errored = result.Errored
	view.Running = result.Running
	view.Queued = result.Queued
	view.Logs = append([]LogEntry(nil), result.Logs...)
	if result.Output != nil {
		rendered := render.Format(result.Output.Mime, result.Output.Body)
		view.Mime = result.Output.Mime
		view.Output = rendered.Text
		if rendered.Kind == render.KindObject {
			// Structured Pluto objects pass through for a richer renderer;
			// the text form is a JSON dump so CLI and MCP consumers still
			// see something useful.
			view.Output = render.Dump(result.Output.Body)
		}
	}
	return view
}

package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"plutobridge/internal/protocol"
)

// ExecutionUnit is the externally visible "this cell is running / has
// finished" lifecycle object. The reconciler opens at most one per cell at
// a time.
type ExecutionUnit struct {
	CellID     string
	StartedAt  time.Time
	Output     *CellOutput
	Logs       []LogEntry
	RuntimeNS  int64
	Errored    bool
	FailReason string
}

// ReconcilerHooks receives execution-unit transitions and the coarser
// global notifications. Hooks are invoked from the patch-application path
// and must not call back into the reconciler.
type ReconcilerHooks struct {
	OnStart         func(cellID string)
	OnLog           func(cellID string, entry LogEntry)
	OnSettle        func(unit *ExecutionUnit)
	OnProcessStatus func(status string)
	OnPkgStatus     func(raw json.RawMessage)
}

// Reconciler turns the per-session patch stream into well-ordered
// start/update/end transitions. Patches must be fed in arrival order;
// behavior under out-of-order delivery is undefined but never a crash. A
// malformed patch is logged with its raw content and skipped, it never
// stops the rest of the batch.
type Reconciler struct {
	logger *slog.Logger
	hooks  ReconcilerHooks
	now    func() time.Time

	mu   sync.Mutex
	open map[string]*ExecutionUnit
	last map[string]*ExecutionUnit
}

func NewReconciler(logger *slog.Logger, hooks ReconcilerHooks) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reconciler{
		logger: logger,
		hooks:  hooks,
		now:    time.Now,
		open:   map[string]*ExecutionUnit{},
		last:   map[string]*ExecutionUnit{},
	}
}

// ApplyBatch processes one patch batch in order. Settled units are reported
// once, at the end of the batch, so runtime and errored patches arriving in
// the same batch as the output still attach to the unit they belong to.
func (r *Reconciler) ApplyBatch(patches []protocol.Patch) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var settled []*ExecutionUnit
	for _, p := range patches {
		if err := r.applyOne(p, &settled); err != nil {
			r.logger.Warn("patch reconciliation failed", "path", p.Path.String(), "op", p.Op, "patch", rawPatch(p), "err", err)
		}
	}
	for _, u := range settled {
		if r.hooks.OnSettle != nil {
			r.hooks.OnSettle(u)
		}
	}
}

func (r *Reconciler) applyOne(p protocol.Patch, settled *[]*ExecutionUnit) error {
	root, ok := p.Path.Key(0)
	if !ok {
		return fmt.Errorf("no root segment")
	}
	switch root {
	case "cell_results":
		return r.applyCellPatch(p, settled)
	case "process_status":
		var status string
		if err := json.Unmarshal(p.Value, &status); err != nil {
			return err
		}
		if r.hooks.OnProcessStatus != nil {
			r.hooks.OnProcessStatus(status)
		}
		return nil
	case "nbpkg":
		if r.hooks.OnPkgStatus != nil {
			r.hooks.OnPkgStatus(p.Value)
		}
		return nil
	default:
		r.logger.Debug("unclassified patch", "path", p.Path.String(), "op", p.Op)
		return nil
	}
}

func (r *Reconciler) applyCellPatch(p protocol.Patch, settled *[]*ExecutionUnit) error {
	cellID, ok := p.Path.Key(1)
	if !ok {
		return fmt.Errorf("bad cell id segment")
	}
	field, ok := p.Path.Key(2)
	if !ok {
		// Whole-result replace; treated as bookkeeping, not a transition.
		return nil
	}
	switch field {
	case "running":
		var running bool
		if err := json.Unmarshal(p.Value, &running); err != nil {
			return err
		}
		if running {
			r.openUnit(cellID)
		}
		return nil
	case "output":
		u := r.openUnit(cellID)
		if !isNullValue(p.Value) {
			out := &CellOutput{}
			if err := json.Unmarshal(p.Value, out); err != nil {
				return err
			}
			u.Output = out
		}
		delete(r.open, cellID)
		*settled = append(*settled, u)
		return nil
	case "logs":
		return r.appendLogs(cellID, p)
	case "runtime":
		var ns float64
		if isNullValue(p.Value) {
			return nil
		}
		if err := json.Unmarshal(p.Value, &ns); err != nil {
			return err
		}
		if u := r.unitFor(cellID); u != nil {
			u.RuntimeNS = int64(ns)
		}
		return nil
	case "errored":
		var errored bool
		if err := json.Unmarshal(p.Value, &errored); err != nil {
			return err
		}
		if u := r.unitFor(cellID); u != nil {
			u.Errored = errored
		}
		return nil
	case "queued":
		return nil
	default:
		r.logger.Debug("unknown cell result field", "cell_id", cellID, "field", field)
		return nil
	}
}

// openUnit opens an execution unit for the cell unless one is already open;
// reopening reuses the existing unit rather than orphaning it.
func (r *Reconciler) openUnit(cellID string) *ExecutionUnit {
	if u := r.open[cellID]; u != nil {
		return u
	}
	u := &ExecutionUnit{CellID: cellID, StartedAt: r.now()}
	r.open[cellID] = u
	r.last[cellID] = u
	if r.hooks.OnStart != nil {
		r.hooks.OnStart(cellID)
	}
	return u
}

func (r *Reconciler) unitFor(cellID string) *ExecutionUnit {
	if u := r.open[cellID]; u != nil {
		return u
	}
	return r.last[cellID]
}

func (r *Reconciler) appendLogs(cellID string, p protocol.Patch) error {
	u := r.open[cellID]
	if len(p.Path) >= 4 {
		entry := LogEntry{}
		if err := json.Unmarshal(p.Value, &entry); err != nil {
			return err
		}
		if u != nil {
			u.Logs = append(u.Logs, entry)
		}
		if r.hooks.OnLog != nil {
			r.hooks.OnLog(cellID, entry)
		}
		return nil
	}
	var entries []LogEntry
	if err := json.Unmarshal(p.Value, &entries); err != nil {
		return err
	}
	if u != nil {
		u.Logs = entries
	}
	if r.hooks.OnLog != nil {
		for _, entry := range entries {
			r.hooks.OnLog(cellID, entry)
		}
	}
	return nil
}

// OpenCells returns the ids of cells with an open execution unit.
func (r *Reconciler) OpenCells() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.open))
	for id := range r.open {
		out = append(out, id)
	}
	return out
}

// FailOpenUnits force-closes every open execution unit as errored. The
// interrupt path calls this; the reconciler never times units out on its
// own.
func (r *Reconciler) FailOpenUnits(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.open {
		u.Errored = true
		u.FailReason = reason
		delete(r.open, id)
		if r.hooks.OnSettle != nil {
			r.hooks.OnSettle(u)
		}
	}
}

func rawPatch(p protocol.Patch) string {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf("%+v", p)
	}
	return string(b)
}

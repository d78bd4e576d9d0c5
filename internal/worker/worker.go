// Package worker manages live Pluto sessions: one Worker per open notebook
// file, a Manager owning the path-to-worker registry, and the Reconciler
// that folds the backend's patch stream into execution-unit transitions.
package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"plutobridge/internal/protocol"
)

// Backend is the session backend surface the worker layer consumes. The
// real implementation speaks WebSocket to a Pluto server; tests substitute
// a fake.
type Backend interface {
	Connect(ctx context.Context) error
	Connected() bool
	CreateSession(ctx context.Context, path, text string) (string, error)
	UpdateCell(ctx context.Context, sessionID, cellID, code string, run bool) error
	AddCell(ctx context.Context, sessionID, cellID string, index int, code string) error
	DeleteCells(ctx context.Context, sessionID string, cellIDs []string) error
	Interrupt(ctx context.Context, sessionID string) error
	ShutdownSession(ctx context.Context, sessionID string) error
	Updates() <-chan protocol.UpdateMessage
	Ping(ctx context.Context) error
	Close() error
}

const defaultFirstRunTimeout = 90 * time.Second

var (
	settlePollInterval = 100 * time.Millisecond
	// settleGrace covers runs so fast that polling never observes the
	// running flag.
	settleGrace = 2 * time.Second
)

type subscriber struct {
	id int
	fn func(protocol.UpdateMessage)
}

// Worker is one live session bound to one notebook file. Patches are
// applied and fanned out by a single loop goroutine, so subscribers see
// batches in arrival order and are never invoked concurrently with
// themselves.
type Worker struct {
	Path      string
	SessionID string

	backend Backend
	logger  *slog.Logger
	rec     *Reconciler

	mu    sync.RWMutex
	state *SessionState

	subMu  sync.Mutex
	subs   []subscriber
	subSeq int

	updates   chan protocol.UpdateMessage
	done      chan struct{}
	closeOnce sync.Once

	firstRunTimeout time.Duration
}

func newWorker(path, sessionID string, backend Backend, rec *Reconciler, logger *slog.Logger, firstRunTimeout time.Duration) *Worker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if firstRunTimeout <= 0 {
		firstRunTimeout = defaultFirstRunTimeout
	}
	w := &Worker{
		Path:            path,
		SessionID:       sessionID,
		backend:         backend,
		logger:          logger.With("path", path, "session_id", sessionID),
		rec:             rec,
		state:           NewSessionState(path),
		updates:         make(chan protocol.UpdateMessage, 256),
		done:            make(chan struct{}),
		firstRunTimeout: firstRunTimeout,
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	for {
		select {
		case <-w.done:
			return
		case msg := <-w.updates:
			w.applyUpdate(msg)
		}
	}
}

func (w *Worker) applyUpdate(msg protocol.UpdateMessage) {
	w.mu.Lock()
	if len(msg.Snapshot) > 0 {
		st := NewSessionState(w.Path)
		if err := json.Unmarshal(msg.Snapshot, st); err != nil {
			w.logger.Warn("state snapshot decode failed", "err", err)
		} else {
			st.Path = w.Path
			w.state = st
		}
	}
	for _, p := range msg.Patches {
		if err := w.state.Apply(p); err != nil {
			w.logger.Warn("patch apply failed", "patch", rawPatch(p), "err", err)
		}
	}
	w.mu.Unlock()

	w.rec.ApplyBatch(msg.Patches)

	for _, sub := range w.snapshotSubs() {
		sub.fn(msg)
	}
}

// enqueueUpdate hands one push batch to the session loop. The manager's
// dispatch goroutine calls this; ordering is preserved by the channel.
func (w *Worker) enqueueUpdate(msg protocol.UpdateMessage) {
	select {
	case <-w.done:
	case w.updates <- msg:
	}
}

// Subscribe registers a patch-stream listener and returns its unsubscribe
// function. Callbacks run on the session loop.
func (w *Worker) Subscribe(fn func(protocol.UpdateMessage)) func() {
	w.subMu.Lock()
	w.subSeq++
	id := w.subSeq
	w.subs = append(w.subs, subscriber{id: id, fn: fn})
	w.subMu.Unlock()
	return func() {
		w.subMu.Lock()
		for i, sub := range w.subs {
			if sub.id == id {
				w.subs = append(w.subs[:i], w.subs[i+1:]...)
				break
			}
		}
		w.subMu.Unlock()
	}
}

func (w *Worker) snapshotSubs() []subscriber {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	out := make([]subscriber, len(w.subs))
	copy(out, w.subs)
	return out
}

// CellSnapshot returns the last-known local input and result for a cell.
// It never touches the network and may be stale relative to in-flight
// patches.
func (w *Worker) CellSnapshot(cellID string) (*CellInput, *CellResult, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	in, ok := w.state.CellInputs[cellID]
	if !ok {
		return nil, nil, false
	}
	c := *in
	return &c, w.state.CellResults[cellID].Clone(), true
}

// FullState returns a deep copy of the session's local mirror.
func (w *Worker) FullState() *SessionState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Clone()
}

// UpdateCellCode updates a cell's stored code and, when run is set,
// enqueues its execution. Callers must not issue concurrent mutations for
// the same cell id without awaiting the prior call.
func (w *Worker) UpdateCellCode(ctx context.Context, cellID, code string, run bool) error {
	w.mu.RLock()
	_, known := w.state.CellInputs[cellID]
	w.mu.RUnlock()
	if !known {
		return &CellNotFoundError{CellID: cellID}
	}
	return w.backend.UpdateCell(ctx, w.SessionID, cellID, code, run)
}

// CreateAndRunCell creates a cell at index, runs it, and waits for its
// first execution to settle.
func (w *Worker) CreateAndRunCell(ctx context.Context, index int, code string) (string, *CellResult, error) {
	cellID := uuid.NewString()
	if err := w.backend.AddCell(ctx, w.SessionID, cellID, index, code); err != nil {
		return "", nil, err
	}
	result, err := w.WaitSettled(ctx, cellID)
	if err != nil {
		return cellID, nil, err
	}
	return cellID, result, nil
}

// WaitSettled idle-polls until the cell's current run has finished. The
// wait is bounded by the worker's first-run timeout and fails with a
// TimeoutError, which is distinct from a backend-reported execution error.
func (w *Worker) WaitSettled(ctx context.Context, cellID string) (*CellResult, error) {
	deadline := time.Now().Add(w.firstRunTimeout)
	grace := time.Now().Add(settleGrace)
	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()

	sawBusy := false
	for {
		if _, result, ok := w.CellSnapshot(cellID); ok && result != nil {
			if result.Running || result.Queued {
				sawBusy = true
			} else if result.Settled() && (sawBusy || time.Now().After(grace)) {
				return result, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, &TimeoutError{Op: "execution of cell " + cellID}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) DeleteCells(ctx context.Context, cellIDs []string) error {
	return w.backend.DeleteCells(ctx, w.SessionID, cellIDs)
}

// Interrupt aborts in-flight executions and force-closes any open
// execution units as failed.
func (w *Worker) Interrupt(ctx context.Context) error {
	err := w.backend.Interrupt(ctx, w.SessionID)
	w.rec.FailOpenUnits("interrupted")
	return err
}

// Shutdown stops the session loop and asks the backend to drop the
// session.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.stop()
	return w.backend.ShutdownSession(ctx, w.SessionID)
}

// discard stops the session loop without a backend call, for when the
// backend is already gone.
func (w *Worker) discard() {
	w.rec.FailOpenUnits("backend lost")
	w.stop()
}

func (w *Worker) stop() {
	w.closeOnce.Do(func() { close(w.done) })
}

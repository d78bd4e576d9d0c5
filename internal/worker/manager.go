package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"plutobridge/internal/notebook"
	"plutobridge/internal/protocol"
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type creation struct {
	done chan struct{}
	w    *Worker
	err  error
}

type eventSub struct {
	id int
	fn func(Event)
}

// ManagerOptions configures a Manager. Backend is required; everything
// else has defaults.
type ManagerOptions struct {
	Backend Backend
	Logger  *slog.Logger
	// ReadFile is injectable for tests; defaults to os.ReadFile.
	ReadFile        func(string) ([]byte, error)
	FirstRunTimeout time.Duration
	// OnSettle is called with every settled execution unit, after state
	// has been updated. Used to record execution history.
	OnSettle func(path string, unit *ExecutionUnit)
}

// Manager owns the single authoritative path-to-session map shared by all
// consumers, so only one live session ever exists per notebook file.
// Creation and recovery are mutually exclusive per path: concurrent
// GetSession calls for one unseen path await a single in-flight creation
// instead of racing a second session into existence.
type Manager struct {
	backend         Backend
	logger          *slog.Logger
	readFile        func(string) ([]byte, error)
	firstRunTimeout time.Duration
	onSettle        func(path string, unit *ExecutionUnit)

	mu           sync.Mutex
	connState    ConnState
	connDone     chan struct{}
	connErr      error
	workers      map[string]*Worker
	inflight     map[string]*creation
	recoverPaths []string

	evMu   sync.Mutex
	events []eventSub
	evSeq  int

	dispatchOnce sync.Once
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	readFile := opts.ReadFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	return &Manager{
		backend:         opts.Backend,
		logger:          logger,
		readFile:        readFile,
		firstRunTimeout: opts.FirstRunTimeout,
		onSettle:        opts.OnSettle,
		workers:         map[string]*Worker{},
		inflight:        map[string]*creation{},
	}
}

// ConnState returns the registry's connection state.
func (m *Manager) ConnState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connState
}

// GetSession returns the live session for path, creating or reconnecting
// it as needed. It emits notebookOpened exactly once per successful
// creation.
func (m *Manager) GetSession(ctx context.Context, path string) (*Worker, error) {
	m.mu.Lock()
	if w := m.workers[path]; w != nil {
		m.mu.Unlock()
		// Session exists but the connection may have dropped; reconnect
		// before handing it out.
		if !m.backend.Connected() {
			if err := m.ensureConnected(ctx); err != nil {
				return nil, err
			}
		}
		return w, nil
	}
	if c := m.inflight[path]; c != nil {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
		}
		return c.w, c.err
	}
	c := &creation{done: make(chan struct{})}
	m.inflight[path] = c
	m.mu.Unlock()

	w, err := m.createSession(ctx, path)

	m.mu.Lock()
	delete(m.inflight, path)
	if err == nil {
		m.workers[path] = w
	}
	m.mu.Unlock()

	c.w, c.err = w, err
	close(c.done)

	if err != nil {
		return nil, err
	}
	m.emit(Event{Kind: EventNotebookOpened, Path: path, SessionID: w.SessionID})
	return w, nil
}

func (m *Manager) createSession(ctx context.Context, path string) (*Worker, error) {
	if err := m.ensureConnected(ctx); err != nil {
		return nil, err
	}

	data, err := m.readFile(path)
	if err != nil {
		return nil, &SessionCreateError{Path: path, Err: err}
	}
	text := string(data)
	if _, perr := notebook.Parse(text); perr != nil {
		// The file still opens; the backend receives the raw text and the
		// UI presents it as a single unstructured cell.
		m.logger.Warn("notebook did not parse, opening raw", "path", path, "err", perr)
	}

	sessionID, err := m.backend.CreateSession(ctx, path, text)
	if err != nil {
		return nil, &SessionCreateError{Path: path, Err: err}
	}

	rec := NewReconciler(m.logger.With("path", path), ReconcilerHooks{
		OnSettle: func(u *ExecutionUnit) {
			m.emit(Event{Kind: EventCellUpdated, Path: path, SessionID: sessionID, CellID: u.CellID})
			if m.onSettle != nil {
				m.onSettle(path, u)
			}
		},
		OnProcessStatus: func(status string) {
			m.logger.Info("kernel status", "path", path, "status", status)
		},
	})
	return newWorker(path, sessionID, m.backend, rec, m.logger, m.firstRunTimeout), nil
}

// ensureConnected establishes the backend connection, coalescing
// concurrent attempts. The session map is never mutated while the registry
// is Connecting.
func (m *Manager) ensureConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.connState == Connected && m.backend.Connected() {
			m.mu.Unlock()
			return nil
		}
		if m.connState == Connecting {
			ch := m.connDone
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
			}
			m.mu.Lock()
			err := m.connErr
			state := m.connState
			m.mu.Unlock()
			if state == Connected {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			continue
		}
		m.connState = Connecting
		m.connDone = make(chan struct{})
		done := m.connDone
		m.mu.Unlock()

		err := m.backend.Connect(ctx)

		m.mu.Lock()
		m.connErr = err
		if err != nil {
			m.connState = Disconnected
		} else {
			m.connState = Connected
		}
		close(done)
		m.mu.Unlock()

		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		m.startDispatch()
		m.emit(Event{Kind: EventServerStateChanged, ServerRunning: true})
		return nil
	}
}

func (m *Manager) startDispatch() {
	m.dispatchOnce.Do(func() {
		go func() {
			for msg := range m.backend.Updates() {
				m.routeUpdate(msg)
			}
		}()
	})
}

func (m *Manager) routeUpdate(msg protocol.UpdateMessage) {
	m.mu.Lock()
	var target *Worker
	for _, w := range m.workers {
		if w.SessionID == msg.SessionID {
			target = w
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		m.logger.Debug("update for unknown session", "session_id", msg.SessionID)
		return
	}
	target.enqueueUpdate(msg)
}

// CloseSession shuts down the session for path. It is idempotent; backend
// shutdown failure is logged, not returned.
func (m *Manager) CloseSession(ctx context.Context, path string) {
	m.mu.Lock()
	w := m.workers[path]
	delete(m.workers, path)
	m.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.Shutdown(ctx); err != nil {
		m.logger.Warn("session shutdown failed", "path", path, "err", err)
	}
	m.emit(Event{Kind: EventNotebookClosed, Path: path, SessionID: w.SessionID})
}

// CloseAll closes every open session.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, info := range m.ListOpenNotebooks() {
		m.CloseSession(ctx, info.Path)
	}
}

// HandleBackendStopped reacts to backend loss: every handle is discarded
// without waiting for graceful shutdown (the backend is already gone), the
// connection is cleared, and the open paths are remembered for recovery.
func (m *Manager) HandleBackendStopped() {
	m.mu.Lock()
	paths := make([]string, 0, len(m.workers))
	workers := make([]*Worker, 0, len(m.workers))
	for path, w := range m.workers {
		paths = append(paths, path)
		workers = append(workers, w)
	}
	sort.Strings(paths)
	m.workers = map[string]*Worker{}
	m.recoverPaths = paths
	m.connState = Disconnected
	m.mu.Unlock()

	for _, w := range workers {
		w.discard()
	}
	if err := m.backend.Close(); err != nil {
		m.logger.Warn("backend close failed", "err", err)
	}
	m.emit(Event{Kind: EventServerStateChanged, ServerRunning: false})
}

// HandleBackendStarted recreates the sessions that were open when the
// backend stopped. Individual failures are logged per path and do not stop
// the batch.
func (m *Manager) HandleBackendStarted(ctx context.Context) {
	if err := m.ensureConnected(ctx); err != nil {
		m.logger.Warn("backend reconnect failed", "err", err)
		return
	}
	m.mu.Lock()
	paths := m.recoverPaths
	m.recoverPaths = nil
	m.mu.Unlock()

	for _, path := range paths {
		if _, err := m.GetSession(ctx, path); err != nil {
			m.logger.Warn("session recovery failed", "path", path, "err", err)
			continue
		}
		m.logger.Info("session recovered", "path", path)
	}
}

// SubscribeEvents registers a lifecycle-event listener and returns its
// unsubscribe function.
func (m *Manager) SubscribeEvents(fn func(Event)) func() {
	m.evMu.Lock()
	m.evSeq++
	id := m.evSeq
	m.events = append(m.events, eventSub{id: id, fn: fn})
	m.evMu.Unlock()
	return func() {
		m.evMu.Lock()
		for i, sub := range m.events {
			if sub.id == id {
				m.events = append(m.events[:i], m.events[i+1:]...)
				break
			}
		}
		m.evMu.Unlock()
	}
}

func (m *Manager) emit(e Event) {
	m.evMu.Lock()
	subs := make([]eventSub, len(m.events))
	copy(subs, m.events)
	m.evMu.Unlock()
	for _, sub := range subs {
		sub.fn(e)
	}
}

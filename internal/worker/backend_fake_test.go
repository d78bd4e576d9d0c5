package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"plutobridge/internal/protocol"
)

// fakeBackend is the in-process Backend test double used across the
// manager and worker tests.
type fakeBackend struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	createErrFor map[string]error
	createDelay  time.Duration
	createCount  int
	sessions     map[string]string // path -> session id
	seq          int

	updateCalls  []string
	deleteCalls  [][]string
	deleteErr    error
	interrupts   int
	shutdowns    []string
	onAddCell    func(sessionID, cellID string, index int, code string)
	onUpdateCell func(sessionID, cellID, code string, run bool)

	updates chan protocol.UpdateMessage
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions:     map[string]string{},
		createErrFor: map[string]error{},
		updates:      make(chan protocol.UpdateMessage, 64),
	}
}

func (f *fakeBackend) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeBackend) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBackend) CreateSession(ctx context.Context, path, text string) (string, error) {
	f.mu.Lock()
	delay := f.createDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCount++
	if err := f.createErrFor[path]; err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("sess-%d", f.seq)
	f.sessions[path] = id
	return id, nil
}

func (f *fakeBackend) UpdateCell(ctx context.Context, sessionID, cellID, code string, run bool) error {
	f.mu.Lock()
	f.updateCalls = append(f.updateCalls, cellID)
	cb := f.onUpdateCell
	f.mu.Unlock()
	if cb != nil {
		cb(sessionID, cellID, code, run)
	}
	return nil
}

func (f *fakeBackend) AddCell(ctx context.Context, sessionID, cellID string, index int, code string) error {
	f.mu.Lock()
	cb := f.onAddCell
	f.mu.Unlock()
	if cb != nil {
		cb(sessionID, cellID, index, code)
	}
	return nil
}

func (f *fakeBackend) DeleteCells(ctx context.Context, sessionID string, cellIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, cellIDs)
	return f.deleteErr
}

func (f *fakeBackend) Interrupt(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeBackend) ShutdownSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdowns = append(f.shutdowns, sessionID)
	return nil
}

func (f *fakeBackend) Updates() <-chan protocol.UpdateMessage {
	return f.updates
}

func (f *fakeBackend) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("not connected")
	}
	return nil
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeBackend) push(msg protocol.UpdateMessage) {
	f.updates <- msg
}

func (f *fakeBackend) sessionFor(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[path]
}

// pushCellLifecycle emits the input add, running flag, and output patches
// a real backend would send for one cell run.
func (f *fakeBackend) pushCellLifecycle(sessionID, cellID, code, outputBody string) {
	f.push(protocol.UpdateMessage{
		SessionID: sessionID,
		Patches: []protocol.Patch{
			{Op: protocol.OpAdd, Path: protocol.Path{"cell_inputs", cellID},
				Value: protocol.MustRaw(map[string]any{"cell_id": cellID, "code": code})},
			{Op: protocol.OpReplace, Path: protocol.Path{"cell_results", cellID, "running"}, Value: protocol.MustRaw(true)},
		},
	})
	f.push(protocol.UpdateMessage{
		SessionID: sessionID,
		Patches: []protocol.Patch{
			{Op: protocol.OpReplace, Path: protocol.Path{"cell_results", cellID, "running"}, Value: protocol.MustRaw(false)},
			{Op: protocol.OpReplace, Path: protocol.Path{"cell_results", cellID, "output"},
				Value: protocol.MustRaw(map[string]any{"mime": "text/plain", "body": outputBody})},
			{Op: protocol.OpReplace, Path: protocol.Path{"cell_results", cellID, "runtime"}, Value: protocol.MustRaw(1500000)},
		},
	})
}

package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"plutobridge/internal/db"
	"plutobridge/internal/historydb"
	"plutobridge/internal/protocol"
	"plutobridge/internal/worker"
)

type stubBackend struct {
	connected  bool
	interrupts int
	deletes    [][]string
	shutdowns  []string
	updates    chan protocol.UpdateMessage
}

func newStubBackend() *stubBackend {
	return &stubBackend{updates: make(chan protocol.UpdateMessage, 16)}
}

func (b *stubBackend) Connect(ctx context.Context) error { b.connected = true; return nil }
func (b *stubBackend) Connected() bool                   { return b.connected }
func (b *stubBackend) CreateSession(ctx context.Context, path, text string) (string, error) {
	return "sess-1", nil
}
func (b *stubBackend) UpdateCell(ctx context.Context, sessionID, cellID, code string, run bool) error {
	return nil
}
func (b *stubBackend) AddCell(ctx context.Context, sessionID, cellID string, index int, code string) error {
	return nil
}
func (b *stubBackend) DeleteCells(ctx context.Context, sessionID string, cellIDs []string) error {
	b.deletes = append(b.deletes, cellIDs)
	return nil
}
func (b *stubBackend) Interrupt(ctx context.Context, sessionID string) error {
	b.interrupts++
	return nil
}
func (b *stubBackend) ShutdownSession(ctx context.Context, sessionID string) error {
	b.shutdowns = append(b.shutdowns, sessionID)
	return nil
}
func (b *stubBackend) Updates() <-chan protocol.UpdateMessage { return b.updates }
func (b *stubBackend) Ping(ctx context.Context) error         { return nil }
func (b *stubBackend) Close() error                           { b.connected = false; return nil }

const stubCell = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"

func stubNotebook() string {
	return strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"# v0.19.40",
		"",
		"# ╔═╡ " + stubCell,
		"x = 1",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + stubCell,
		"",
	}, "\n")
}

func newTestServer(t *testing.T) (*Server, *stubBackend) {
	t.Helper()
	backend := newStubBackend()
	manager := worker.NewManager(worker.ManagerOptions{
		Backend: backend,
		ReadFile: func(string) ([]byte, error) {
			return []byte(stubNotebook()), nil
		},
	})
	return New(manager, nil, nil), backend
}

func TestServer_OpenAndListNotebooks(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	_, out, err := s.openNotebook(ctx, nil, NotebookInput{Path: "/tmp/nb.jl"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if out.SessionID != "sess-1" || out.Path != "/tmp/nb.jl" {
		t.Fatalf("unexpected open output: %+v", out)
	}

	_, list, err := s.listNotebooks(ctx, nil, ListNotebooksInput{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list.Notebooks) != 1 || list.Notebooks[0].Path != "/tmp/nb.jl" {
		t.Fatalf("unexpected list output: %+v", list)
	}
}

func TestServer_ReadCell_UnknownCellErrors(t *testing.T) {
	s, _ := newTestServer(t)
	_, _, err := s.readCell(context.Background(), nil, CellInput{Path: "/tmp/nb.jl", CellID: stubCell})
	// The stub backend never syncs inputs, so the mirror has no cells.
	var cnf *worker.CellNotFoundError
	if !errors.As(err, &cnf) {
		t.Fatalf("expected CellNotFoundError, got %v", err)
	}
}

func TestServer_DeleteCellsAndInterrupt(t *testing.T) {
	s, backend := newTestServer(t)
	ctx := context.Background()

	_, ok, err := s.deleteCells(ctx, nil, DeleteCellsInput{Path: "/tmp/nb.jl", CellIDs: []string{stubCell}})
	if err != nil || !ok.OK {
		t.Fatalf("delete failed: %v %+v", err, ok)
	}
	if len(backend.deletes) != 1 || backend.deletes[0][0] != stubCell {
		t.Fatalf("delete not forwarded: %+v", backend.deletes)
	}

	_, ok, err = s.interrupt(ctx, nil, NotebookInput{Path: "/tmp/nb.jl"})
	if err != nil || !ok.OK {
		t.Fatalf("interrupt failed: %v %+v", err, ok)
	}
	if backend.interrupts != 1 {
		t.Fatalf("interrupt not forwarded: %d", backend.interrupts)
	}
}

func TestServer_CloseNotebook(t *testing.T) {
	s, backend := newTestServer(t)
	ctx := context.Background()

	if _, _, err := s.openNotebook(ctx, nil, NotebookInput{Path: "/tmp/nb.jl"}); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, ok, err := s.closeNotebook(ctx, nil, NotebookInput{Path: "/tmp/nb.jl"})
	if err != nil || !ok.OK {
		t.Fatalf("close failed: %v", err)
	}
	if len(backend.shutdowns) != 1 {
		t.Fatalf("session not shut down: %+v", backend.shutdowns)
	}
	_, list, _ := s.listNotebooks(ctx, nil, ListNotebooksInput{})
	if len(list.Notebooks) != 0 {
		t.Fatalf("notebook still listed after close")
	}
}

func TestServer_ReadHistory(t *testing.T) {
	gdb, err := db.OpenSQLiteWithMigrations(filepath.Join(t.TempDir(), "plutobridge.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	store, err := historydb.NewStore(gdb)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := store.RecordExecution(historydb.Execution{
			NotebookPath: "/tmp/nb.jl",
			CellID:       fmt.Sprintf("cell-%d", i),
			Code:         fmt.Sprintf("x = %d", i),
			Mime:         "text/plain",
			Output:       fmt.Sprintf("%d", i),
		}); err != nil {
			t.Fatalf("record %d failed: %v", i, err)
		}
	}

	backend := newStubBackend()
	manager := worker.NewManager(worker.ManagerOptions{
		Backend:  backend,
		ReadFile: func(string) ([]byte, error) { return []byte(stubNotebook()), nil },
	})
	s := New(manager, store, nil)

	_, out, err := s.readHistory(context.Background(), nil, ReadHistoryInput{Limit: 2})
	if err != nil {
		t.Fatalf("read history failed: %v", err)
	}
	if len(out.Executions) != 2 {
		t.Fatalf("limit not applied: %d rows", len(out.Executions))
	}
	if out.Executions[0].CellID != "cell-2" {
		t.Fatalf("expected newest first, got %s", out.Executions[0].CellID)
	}
	if out.Executions[0].RecordedAt == "" {
		t.Fatalf("timestamp missing")
	}
}

func TestServer_BuildRegistersHistoryToolOnlyWithStore(t *testing.T) {
	s, _ := newTestServer(t)
	if srv := s.build(); srv == nil {
		t.Fatalf("build returned nil server")
	}
}

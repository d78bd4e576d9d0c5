package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"plutobridge/internal/historydb"
	"plutobridge/internal/worker"
)

type NotebookInput struct {
	Path string `json:"path" jsonschema:"absolute path of the notebook .jl file"`
}

type OpenNotebookOutput struct {
	Path      string   `json:"path"`
	SessionID string   `json:"session_id"`
	CellOrder []string `json:"cell_order"`
}

func (s *Server) openNotebook(ctx context.Context, req *mcp.CallToolRequest, in NotebookInput) (*mcp.CallToolResult, OpenNotebookOutput, error) {
	info, err := s.manager.OpenNotebook(ctx, in.Path)
	if err != nil {
		return nil, OpenNotebookOutput{}, err
	}
	return nil, OpenNotebookOutput{Path: info.Path, SessionID: info.SessionID, CellOrder: info.CellOrder}, nil
}

type ListNotebooksInput struct{}

type ListNotebooksOutput struct {
	Notebooks []worker.SessionInfo `json:"notebooks"`
}

func (s *Server) listNotebooks(ctx context.Context, req *mcp.CallToolRequest, in ListNotebooksInput) (*mcp.CallToolResult, ListNotebooksOutput, error) {
	return nil, ListNotebooksOutput{Notebooks: s.manager.ListOpenNotebooks()}, nil
}

type CellInput struct {
	Path   string `json:"path" jsonschema:"absolute path of the notebook .jl file"`
	CellID string `json:"cell_id" jsonschema:"UUID of the cell"`
}

type CellOutput struct {
	Cell worker.CellView `json:"cell"`
}

func (s *Server) readCell(ctx context.Context, req *mcp.CallToolRequest, in CellInput) (*mcp.CallToolResult, CellOutput, error) {
	view, err := s.manager.ReadCell(ctx, in.Path, in.CellID)
	if err != nil {
		return nil, CellOutput{}, err
	}
	return nil, CellOutput{Cell: view}, nil
}

type ExecuteCellInput struct {
	Path   string `json:"path" jsonschema:"absolute path of the notebook .jl file"`
	CellID string `json:"cell_id" jsonschema:"UUID of the cell to run"`
	Code   string `json:"code" jsonschema:"new source for the cell"`
}

func (s *Server) executeCell(ctx context.Context, req *mcp.CallToolRequest, in ExecuteCellInput) (*mcp.CallToolResult, CellOutput, error) {
	view, err := s.manager.ExecuteCell(ctx, in.Path, in.CellID, in.Code)
	if err != nil {
		return nil, CellOutput{}, err
	}
	return nil, CellOutput{Cell: view}, nil
}

type EditCellInput struct {
	Path   string `json:"path" jsonschema:"absolute path of the notebook .jl file"`
	CellID string `json:"cell_id" jsonschema:"UUID of the cell to edit"`
	Code   string `json:"code" jsonschema:"new source for the cell"`
	Run    bool   `json:"run,omitempty" jsonschema:"also execute the cell"`
}

func (s *Server) editCell(ctx context.Context, req *mcp.CallToolRequest, in EditCellInput) (*mcp.CallToolResult, CellOutput, error) {
	view, err := s.manager.EditCell(ctx, in.Path, in.CellID, in.Code, in.Run)
	if err != nil {
		return nil, CellOutput{}, err
	}
	return nil, CellOutput{Cell: view}, nil
}

type CreateCellInput struct {
	Path  string `json:"path" jsonschema:"absolute path of the notebook .jl file"`
	Index int    `json:"index,omitempty" jsonschema:"position of the new cell in the notebook order"`
	Code  string `json:"code" jsonschema:"source for the new cell"`
}

func (s *Server) createCell(ctx context.Context, req *mcp.CallToolRequest, in CreateCellInput) (*mcp.CallToolResult, CellOutput, error) {
	view, err := s.manager.CreateCell(ctx, in.Path, in.Index, in.Code)
	if err != nil {
		return nil, CellOutput{}, err
	}
	return nil, CellOutput{Cell: view}, nil
}

type DeleteCellsInput struct {
	Path    string   `json:"path" jsonschema:"absolute path of the notebook .jl file"`
	CellIDs []string `json:"cell_ids" jsonschema:"UUIDs of the cells to delete"`
}

type OKOutput struct {
	OK bool `json:"ok"`
}

func (s *Server) deleteCells(ctx context.Context, req *mcp.CallToolRequest, in DeleteCellsInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.manager.DeleteCells(ctx, in.Path, in.CellIDs); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

type ExecuteEphemeralInput struct {
	Path string `json:"path" jsonschema:"absolute path of the notebook .jl file"`
	Code string `json:"code" jsonschema:"code to run in a throwaway cell"`
}

func (s *Server) executeEphemeral(ctx context.Context, req *mcp.CallToolRequest, in ExecuteEphemeralInput) (*mcp.CallToolResult, CellOutput, error) {
	view, err := s.manager.ExecuteEphemeral(ctx, in.Path, in.Code)
	if err != nil {
		return nil, CellOutput{}, err
	}
	return nil, CellOutput{Cell: view}, nil
}

func (s *Server) interrupt(ctx context.Context, req *mcp.CallToolRequest, in NotebookInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.manager.Interrupt(ctx, in.Path); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Server) closeNotebook(ctx context.Context, req *mcp.CallToolRequest, in NotebookInput) (*mcp.CallToolResult, OKOutput, error) {
	s.manager.CloseSession(ctx, in.Path)
	return nil, OKOutput{OK: true}, nil
}

type ReadHistoryInput struct {
	Path  string `json:"path,omitempty" jsonschema:"limit to one notebook file"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum rows, default 20"`
}

type HistoryRow struct {
	NotebookPath string `json:"notebook_path"`
	CellID       string `json:"cell_id"`
	Code         string `json:"code"`
	Mime         string `json:"mime,omitempty"`
	Output       string `json:"output,omitempty"`
	Errored      bool   `json:"errored"`
	FailReason   string `json:"fail_reason,omitempty"`
	RuntimeNS    int64  `json:"runtime_ns"`
	RecordedAt   string `json:"recorded_at"`
}

type ReadHistoryOutput struct {
	Executions []HistoryRow `json:"executions"`
}

func (s *Server) readHistory(ctx context.Context, req *mcp.CallToolRequest, in ReadHistoryInput) (*mcp.CallToolResult, ReadHistoryOutput, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	entries, err := s.history.ListExecutions(in.Path, limit)
	if err != nil {
		return nil, ReadHistoryOutput{}, err
	}
	rows := make([]HistoryRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, historyRow(e))
	}
	return nil, ReadHistoryOutput{Executions: rows}, nil
}

func historyRow(e historydb.ExecutionEntry) HistoryRow {
	return HistoryRow{
		NotebookPath: e.NotebookPath,
		CellID:       e.CellID,
		Code:         e.Code,
		Mime:         e.Mime,
		Output:       e.Output,
		Errored:      e.Errored,
		FailReason:   e.FailReason,
		RuntimeNS:    e.RuntimeNS,
		RecordedAt:   e.CreatedAt.Format(time.RFC3339),
	}
}

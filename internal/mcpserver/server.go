// Package mcpserver exposes notebook operations as MCP tools over stdio.
package mcpserver

import (
	"context"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"plutobridge/internal/historydb"
	"plutobridge/internal/worker"
)

type Server struct {
	manager *worker.Manager
	history *historydb.Store
	logger  *slog.Logger
}

// New wires the tool surface. history may be nil, in which case the
// read_history tool is not registered.
func New(manager *worker.Manager, history *historydb.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{manager: manager, history: history, logger: logger}
}

// Run serves tools on stdin/stdout until ctx is cancelled or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.build().Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) build() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "plutobridge",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "open_notebook",
		Description: "Open a Pluto notebook file and return its cell order. Reuses the existing session when the notebook is already open.",
	}, s.openNotebook)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_notebooks",
		Description: "List the notebook files with live sessions.",
	}, s.listNotebooks)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "read_cell",
		Description: "Read a cell's code and last execution result without re-running it.",
	}, s.readCell)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "execute_cell",
		Description: "Replace a cell's code, run it, and wait for the result.",
	}, s.executeCell)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "edit_cell",
		Description: "Update a cell's code. Set run to also execute it.",
	}, s.editCell)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_cell",
		Description: "Create a new cell at the given position, run it, and wait for the result.",
	}, s.createCell)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_cells",
		Description: "Delete cells from a notebook.",
	}, s.deleteCells)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "execute_ephemeral",
		Description: "Run code in a throwaway cell inside the notebook's session and return the result. The cell is deleted afterwards.",
	}, s.executeEphemeral)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "interrupt",
		Description: "Interrupt all running cells in a notebook's session.",
	}, s.interrupt)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "close_notebook",
		Description: "Shut down a notebook's session.",
	}, s.closeNotebook)
	if s.history != nil {
		mcp.AddTool(srv, &mcp.Tool{
			Name:        "read_history",
			Description: "List recorded cell executions, newest first. Omit path for all notebooks.",
		}, s.readHistory)
	}
	return srv
}

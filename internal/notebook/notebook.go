// Package notebook implements the Pluto.jl plain-text notebook format:
// parsing, serialization, and the markdown-cell convention layered on top
// of it. The codec is pure and does no I/O.
package notebook

import (
	"strings"

	"github.com/google/uuid"
)

type CellKind int

const (
	KindCode CellKind = iota
	KindMarkdown
)

// Cell is one unit of source in a notebook. Position is not a property of
// the cell; it is determined solely by Notebook.CellOrder.
type Cell struct {
	// ID is a UUID string, unique within the notebook.
	ID string
	// Code is the raw source text. For markdown cells this includes the
	// marker line and the md""" wrapper.
	Code string
	Kind CellKind
	// Metadata holds the per-cell `# ╠═╡ key = value` lines as raw
	// key/value strings. Unknown keys round-trip unchanged.
	Metadata map[string]string
}

// Notebook is the text-format view of a Pluto notebook.
type Notebook struct {
	// ID identifies the in-memory notebook. The text format does not
	// persist it; Parse assigns a fresh one.
	ID string
	// PlutoVersion is the `# v0.19.40` tag from the file, empty when
	// missing or unrecognized.
	PlutoVersion string
	// CellOrder is the authoritative display order.
	CellOrder []string
	// CellInputs maps cell id to cell. Every id in CellOrder has an entry.
	CellInputs map[string]*Cell
	// Warnings collects non-fatal reconciliation notes from Parse, such as
	// order entries that reference no input. Serialize ignores it.
	Warnings []string
}

// Disabled reports whether the cell carries the execution-disabled flag.
func (c *Cell) Disabled() bool {
	return c != nil && metadataFlag(c.Metadata, "disabled")
}

// SkipAsScript reports whether the cell is excluded from script export.
func (c *Cell) SkipAsScript() bool {
	return c != nil && metadataFlag(c.Metadata, "skip_as_script")
}

func metadataFlag(md map[string]string, key string) bool {
	return strings.TrimSpace(md[key]) == "true"
}

// NewCellID returns a fresh cell id.
func NewCellID() string {
	return uuid.NewString()
}

func validCellID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// FallbackNotebook wraps unparseable text as a single unstructured cell so
// a file that fails Parse can still be presented instead of refused.
func FallbackNotebook(text string) *Notebook {
	id := NewCellID()
	return &Notebook{
		ID:        uuid.NewString(),
		CellOrder: []string{id},
		CellInputs: map[string]*Cell{
			id: {ID: id, Code: text},
		},
	}
}

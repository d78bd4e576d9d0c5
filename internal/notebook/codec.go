package notebook

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	headerLine      = "### A Pluto.jl notebook ###"
	cellBoundary    = "# ╔═╡ "
	cellOrderHeader = "# ╔═╡ Cell order:"
	metadataPrefix  = "# ╠═╡ "
	orderCodeEntry  = "# ╠═"
	orderFoldEntry  = "# ╟─"
)

// Parse decodes notebook text into a Notebook.
//
// The only load-bearing structure is the header line and at least one cell
// boundary (`# ╔═╡ <uuid>`); anything else that looks unusual (unknown
// version string, unknown metadata keys) parses fine. The trailing
// "Cell order:" section, when present and well-formed, is authoritative for
// display order; without it the order cells were encountered is used.
//
// Reconciliation policy: inputs missing from the order section are appended
// at the end; order entries without a matching input are dropped and
// reported in Notebook.Warnings. Duplicate cell ids are a FormatError.
func Parse(text string) (*Notebook, error) {
	if !strings.Contains(text, headerLine) {
		return nil, &FormatError{Reason: "missing notebook header"}
	}

	nb := &Notebook{
		ID:         uuid.NewString(),
		CellInputs: map[string]*Cell{},
	}

	var (
		scanOrder    []string
		orderSection []string
		inOrder      bool
		sawOrder     bool

		curID       string
		curMeta     map[string]string
		curBody     []string
		metaAllowed bool
	)

	flush := func() {
		if curID == "" {
			return
		}
		for len(curBody) > 0 && strings.TrimSpace(curBody[len(curBody)-1]) == "" {
			curBody = curBody[:len(curBody)-1]
		}
		code := strings.Join(curBody, "\n")
		kind := KindCode
		if IsMarkdownCell(code) {
			kind = KindMarkdown
		}
		nb.CellInputs[curID] = &Cell{ID: curID, Code: code, Kind: kind, Metadata: curMeta}
		scanOrder = append(scanOrder, curID)
		curID, curMeta, curBody = "", nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")

		if trimmed == cellOrderHeader {
			flush()
			inOrder = true
			sawOrder = true
			continue
		}

		if inOrder {
			if id, ok := parseOrderEntry(trimmed); ok {
				orderSection = append(orderSection, id)
			}
			continue
		}

		if id, ok := parseBoundary(trimmed); ok {
			flush()
			if _, dup := nb.CellInputs[id]; dup {
				return nil, &FormatError{Reason: "duplicate cell id " + id}
			}
			curID = id
			metaAllowed = true
			continue
		}

		if curID == "" {
			if nb.PlutoVersion == "" {
				if v, ok := parseVersionLine(trimmed); ok {
					nb.PlutoVersion = v
				}
			}
			continue
		}

		if metaAllowed && strings.HasPrefix(trimmed, metadataPrefix) {
			key, value, ok := parseMetadataLine(trimmed)
			if ok {
				if curMeta == nil {
					curMeta = map[string]string{}
				}
				curMeta[key] = value
				continue
			}
		}
		metaAllowed = false
		curBody = append(curBody, trimmed)
	}
	flush()

	if len(nb.CellInputs) == 0 {
		return nil, &FormatError{Reason: "no cell boundaries"}
	}

	if !sawOrder {
		nb.CellOrder = scanOrder
		return nb, nil
	}

	seen := map[string]bool{}
	for _, id := range orderSection {
		if _, ok := nb.CellInputs[id]; !ok {
			nb.Warnings = append(nb.Warnings, "cell order references unknown cell "+id)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		nb.CellOrder = append(nb.CellOrder, id)
	}
	// Inputs the order section missed are kept, not dropped.
	for _, id := range scanOrder {
		if !seen[id] {
			nb.CellOrder = append(nb.CellOrder, id)
		}
	}
	return nb, nil
}

// Serialize encodes a Notebook back to text. Cells are emitted in
// CellOrder; inputs absent from CellOrder are appended at the end (sorted
// by id so output is deterministic) rather than dropped.
func Serialize(nb *Notebook) string {
	order := make([]string, 0, len(nb.CellInputs))
	emitted := map[string]bool{}
	for _, id := range nb.CellOrder {
		if _, ok := nb.CellInputs[id]; !ok || emitted[id] {
			continue
		}
		emitted[id] = true
		order = append(order, id)
	}
	orphans := make([]string, 0)
	for id := range nb.CellInputs {
		if !emitted[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)
	order = append(order, orphans...)

	var b strings.Builder
	b.WriteString(headerLine)
	b.WriteString("\n")
	if nb.PlutoVersion != "" {
		b.WriteString("# ")
		b.WriteString(nb.PlutoVersion)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, id := range order {
		cell := nb.CellInputs[id]
		b.WriteString(cellBoundary)
		b.WriteString(id)
		b.WriteString("\n")
		for _, key := range sortedKeys(cell.Metadata) {
			b.WriteString(metadataPrefix)
			b.WriteString(key)
			b.WriteString(" = ")
			b.WriteString(cell.Metadata[key])
			b.WriteString("\n")
		}
		if cell.Code != "" {
			b.WriteString(cell.Code)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(cellOrderHeader)
	b.WriteString("\n")
	for _, id := range order {
		if nb.CellInputs[id].Kind == KindMarkdown {
			b.WriteString(orderFoldEntry)
		} else {
			b.WriteString(orderCodeEntry)
		}
		b.WriteString(id)
		b.WriteString("\n")
	}
	return b.String()
}

func parseBoundary(line string) (string, bool) {
	if !strings.HasPrefix(line, cellBoundary) {
		return "", false
	}
	id := strings.TrimSpace(strings.TrimPrefix(line, cellBoundary))
	if !validCellID(id) {
		return "", false
	}
	return id, true
}

func parseOrderEntry(line string) (string, bool) {
	s := line
	switch {
	case strings.HasPrefix(s, orderCodeEntry):
		s = strings.TrimPrefix(s, orderCodeEntry)
	case strings.HasPrefix(s, orderFoldEntry):
		s = strings.TrimPrefix(s, orderFoldEntry)
	case strings.HasPrefix(s, "# "):
		s = strings.TrimPrefix(s, "# ")
	default:
		return "", false
	}
	id := strings.TrimSpace(s)
	if !validCellID(id) {
		return "", false
	}
	return id, true
}

func parseVersionLine(line string) (string, bool) {
	if !strings.HasPrefix(line, "# v") {
		return "", false
	}
	v := strings.TrimSpace(strings.TrimPrefix(line, "# "))
	if v == "" || strings.ContainsAny(v, " \t") {
		return "", false
	}
	return v, true
}

func parseMetadataLine(line string) (key, value string, ok bool) {
	rest := strings.TrimPrefix(line, metadataPrefix)
	idx := strings.Index(rest, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(rest[:idx])
	value = strings.TrimSpace(rest[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

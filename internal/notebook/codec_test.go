package notebook

import (
	"strings"
	"testing"
)

const (
	idA = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	idB = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
	idC = "cccccccc-cccc-cccc-cccc-cccccccccccc"
)

func minimalNotebook() string {
	return strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"# v0.19.40",
		"",
		"# ╔═╡ " + idA,
		"x = 1",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"",
	}, "\n")
}

func TestParse_MinimalNotebook(t *testing.T) {
	nb, err := Parse(minimalNotebook())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(nb.CellOrder) != 1 || nb.CellOrder[0] != idA {
		t.Fatalf("unexpected cell order: %v", nb.CellOrder)
	}
	cell := nb.CellInputs[idA]
	if cell == nil {
		t.Fatalf("missing cell input for %s", idA)
	}
	if strings.TrimSpace(cell.Code) != "x = 1" {
		t.Fatalf("unexpected code: %q", cell.Code)
	}
	if nb.PlutoVersion != "v0.19.40" {
		t.Fatalf("unexpected version: %q", nb.PlutoVersion)
	}
}

func TestParse_OrderSectionIsAuthoritative(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idB,
		"b = 2",
		"",
		"# ╔═╡ " + idA,
		"a = 1",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"# ╠═" + idB,
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(nb.CellOrder) != 2 || nb.CellOrder[0] != idA || nb.CellOrder[1] != idB {
		t.Fatalf("order section not authoritative: %v", nb.CellOrder)
	}
}

func TestParse_NoOrderSectionFallsBackToScanOrder(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"x = 1",
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(nb.CellOrder) != 1 || nb.CellOrder[0] != idA {
		t.Fatalf("unexpected fallback order: %v", nb.CellOrder)
	}
}

func TestParse_NotANotebook(t *testing.T) {
	for _, text := range []string{
		"not a notebook",
		"",
		"### A Pluto.jl notebook ###\n\njust prose, no cells\n",
	} {
		if _, err := Parse(text); !IsFormatError(err) {
			t.Fatalf("expected FormatError for %q, got %v", text, err)
		}
	}
}

func TestParse_DuplicateCellIDIsFormatError(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"x = 1",
		"",
		"# ╔═╡ " + idA,
		"x = 2",
		"",
	}, "\n")
	if _, err := Parse(text); !IsFormatError(err) {
		t.Fatalf("expected FormatError, got %v", err)
	}
}

func TestParse_EmptyCellBody(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"",
		"# ╔═╡ " + idB,
		"y = 2",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"# ╠═" + idB,
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if nb.CellInputs[idA].Code != "" {
		t.Fatalf("expected empty code, got %q", nb.CellInputs[idA].Code)
	}
}

func TestParse_OrderEntryWithoutInputIsWarning(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"x = 1",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"# ╠═" + idC,
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(nb.CellOrder) != 1 || nb.CellOrder[0] != idA {
		t.Fatalf("unexpected order: %v", nb.CellOrder)
	}
	if len(nb.Warnings) != 1 {
		t.Fatalf("expected one warning, got %v", nb.Warnings)
	}
}

func TestParse_InputMissingFromOrderIsAppended(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"a = 1",
		"",
		"# ╔═╡ " + idB,
		"b = 2",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(nb.CellOrder) != 2 || nb.CellOrder[0] != idA || nb.CellOrder[1] != idB {
		t.Fatalf("orphan input not appended: %v", nb.CellOrder)
	}
}

func TestParse_CellIDUniqueInOrder(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"x = 1",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"# ╠═" + idA,
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	seen := map[string]int{}
	for _, id := range nb.CellOrder {
		seen[id]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("cell %s appears %d times in order", id, n)
		}
	}
}

func TestParse_MetadataLines(t *testing.T) {
	text := strings.Join([]string{
		"### A Pluto.jl notebook ###",
		"",
		"# ╔═╡ " + idA,
		"# ╠═╡ disabled = true",
		"# ╠═╡ custom_key = hello",
		"x = 1",
		"",
		"# ╔═╡ Cell order:",
		"# ╠═" + idA,
		"",
	}, "\n")
	nb, err := Parse(text)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cell := nb.CellInputs[idA]
	if !cell.Disabled() {
		t.Fatalf("disabled flag not parsed: %v", cell.Metadata)
	}
	if cell.Metadata["custom_key"] != "hello" {
		t.Fatalf("unknown metadata key not kept: %v", cell.Metadata)
	}
	if strings.TrimSpace(cell.Code) != "x = 1" {
		t.Fatalf("metadata leaked into code: %q", cell.Code)
	}
}

func TestRoundTrip(t *testing.T) {
	texts := map[string]string{
		"minimal": minimalNotebook(),
		"multi": strings.Join([]string{
			"### A Pluto.jl notebook ###",
			"# v0.19.40",
			"",
			"# ╔═╡ " + idB,
			"# ╠═╡ disabled = true",
			"function f(x)",
			"    x + 1",
			"end",
			"",
			"# ╔═╡ " + idA,
			WrapMarkdown("# Title"),
			"",
			"# ╔═╡ " + idC,
			"",
			"# ╔═╡ Cell order:",
			"# ╟─" + idA,
			"# ╠═" + idB,
			"# ╠═" + idC,
			"",
		}, "\n"),
	}
	for name, text := range texts {
		first, err := Parse(text)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", name, err)
		}
		second, err := Parse(Serialize(first))
		if err != nil {
			t.Fatalf("%s: reparse failed: %v", name, err)
		}
		if len(first.CellOrder) != len(second.CellOrder) {
			t.Fatalf("%s: order length changed: %v vs %v", name, first.CellOrder, second.CellOrder)
		}
		for i, id := range first.CellOrder {
			if second.CellOrder[i] != id {
				t.Fatalf("%s: order changed at %d: %v vs %v", name, i, first.CellOrder, second.CellOrder)
			}
			a, b := first.CellInputs[id], second.CellInputs[id]
			if a.Code != b.Code {
				t.Fatalf("%s: code changed for %s: %q vs %q", name, id, a.Code, b.Code)
			}
			if a.Kind != b.Kind {
				t.Fatalf("%s: kind changed for %s", name, id)
			}
		}
	}
}

func TestSerialize_OrphanInputsAppended(t *testing.T) {
	nb := &Notebook{
		CellOrder: []string{idA},
		CellInputs: map[string]*Cell{
			idA: {ID: idA, Code: "a = 1"},
			idB: {ID: idB, Code: "b = 2"},
		},
	}
	out := Serialize(nb)
	if !strings.Contains(out, idB) {
		t.Fatalf("orphan cell dropped from output:\n%s", out)
	}
	re, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if len(re.CellOrder) != 2 || re.CellOrder[0] != idA || re.CellOrder[1] != idB {
		t.Fatalf("unexpected reparsed order: %v", re.CellOrder)
	}
}

func TestFallbackNotebook(t *testing.T) {
	nb := FallbackNotebook("plain text, not a notebook")
	if len(nb.CellOrder) != 1 {
		t.Fatalf("expected one cell, got %v", nb.CellOrder)
	}
	if nb.CellInputs[nb.CellOrder[0]].Code != "plain text, not a notebook" {
		t.Fatalf("raw text not preserved")
	}
}

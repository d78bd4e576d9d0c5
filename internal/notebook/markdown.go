package notebook

import (
	"regexp"
	"strings"
)

// MarkdownMarker is the comment line this integration prepends to a cell to
// opt it into markdown treatment. Pluto itself only has the md"""...""""
// literal convention; the marker disambiguates true markdown cells from
// code that merely calls the md constructor.
const MarkdownMarker = "# @markdown"

var (
	markdownTripleRe = regexp.MustCompile(`(?s)^md"""(.*?)"""$`)
	markdownSingleRe = regexp.MustCompile(`(?s)^md"(.*?)"$`)
)

// IsMarkdownCell reports whether code follows the markdown-cell convention:
// the marker comment line followed by an md""" string literal. Both parts
// are required.
func IsMarkdownCell(code string) bool {
	rest, ok := stripMarker(code)
	if !ok {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(rest), `md"""`)
}

// ExtractMarkdown returns the markdown text inside a markdown cell. The
// second return is false when code does not match the convention, which
// signals the caller to treat the cell as ordinary code.
func ExtractMarkdown(code string) (string, bool) {
	rest, ok := stripMarker(code)
	if !ok {
		return "", false
	}
	body := strings.TrimSpace(rest)
	if m := markdownTripleRe.FindStringSubmatch(body); m != nil {
		inner := m[1]
		inner = strings.TrimPrefix(inner, "\n")
		inner = strings.TrimSuffix(inner, "\n")
		return inner, true
	}
	if m := markdownSingleRe.FindStringSubmatch(body); m != nil {
		return m[1], true
	}
	return "", false
}

// WrapMarkdown wraps markdown text as a markdown cell. The text is kept
// byte-for-byte inside the literal; text containing the """ delimiter
// itself cannot be represented and will not survive ExtractMarkdown.
func WrapMarkdown(text string) string {
	return MarkdownMarker + "\n" + `md"""` + "\n" + text + "\n" + `"""`
}

func stripMarker(code string) (string, bool) {
	s := strings.TrimLeft(code, " \t\r\n")
	if !strings.HasPrefix(s, MarkdownMarker) {
		return "", false
	}
	rest := s[len(MarkdownMarker):]
	if rest != "" && rest[0] != '\n' && rest[0] != '\r' {
		// Marker must be a whole line, not a prefix of a longer word.
		return "", false
	}
	return rest, true
}

// Package render maps a cell result (MIME type + body) to a renderable
// representation. Format is a pure function and never fails; anything it
// does not recognize falls back to a pretty-printed JSON dump.
package render

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

type Kind int

const (
	// KindText is renderable text carrying its own mime tag.
	KindText Kind = iota
	// KindImage is inline image markup with the binary payload attached.
	KindImage
	// KindObject is a structured Pluto object passed through raw for a
	// richer external renderer.
	KindObject
	// KindJSON is the generic fallback dump.
	KindJSON
)

type Rendered struct {
	Kind Kind
	Mime string
	// Text is the renderable text form: the body itself for text mimes,
	// inline <img> markup for images, a JSON dump for the fallback.
	Text string
	// Binary is the decoded payload for images.
	Binary []byte
	// Raw is the untouched body for structured object mimes.
	Raw any
}

// Format renders one cell result. The switch is the closed set of MIME
// families the bridge understands; the default arm is mandatory.
func Format(mime string, body any) Rendered {
	switch mime {
	case "image/png", "image/jpg", "image/jpeg", "image/gif", "image/bmp", "image/svg+xml":
		data := decodeBinary(body)
		return Rendered{
			Kind:   KindImage,
			Mime:   mime,
			Binary: data,
			Text:   fmt.Sprintf(`<img src="data:%s;base64,%s" />`, mime, base64.StdEncoding.EncodeToString(data)),
		}
	case "text/plain", "text/html":
		return Rendered{Kind: KindText, Mime: mime, Text: bodyString(body)}
	case "application/vnd.pluto.tree+object",
		"application/vnd.pluto.table+object",
		"application/vnd.pluto.stacktrace+object",
		"application/vnd.pluto.parseerror+object",
		"application/vnd.pluto.divelement+object":
		if body == nil {
			return Rendered{Kind: KindJSON, Mime: mime, Text: dumpJSON(map[string]any{"mime": mime, "body": nil})}
		}
		return Rendered{Kind: KindObject, Mime: mime, Raw: body}
	default:
		return Rendered{Kind: KindJSON, Mime: mime, Text: dumpJSON(map[string]any{"mime": mime, "body": body})}
	}
}

func decodeBinary(body any) []byte {
	switch v := body.(type) {
	case nil:
		return nil
	case []byte:
		return v
	case string:
		if data, err := base64.StdEncoding.DecodeString(v); err == nil {
			return data
		}
		if data, err := base64.RawStdEncoding.DecodeString(v); err == nil {
			return data
		}
		return []byte(v)
	default:
		return []byte(bodyString(v))
	}
}

func bodyString(body any) string {
	switch v := body.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return dumpJSON(v)
	}
}

// Dump pretty-prints any value as JSON. It is the generic text form for
// structured bodies.
func Dump(v any) string {
	return dumpJSON(v)
}

func dumpJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

package render

import (
	"bytes"
	"encoding/base64"
	"strings"
	"testing"
)

func TestFormat_TextPassthrough(t *testing.T) {
	r := Format("text/plain", "42")
	if r.Kind != KindText || r.Text != "42" || r.Mime != "text/plain" {
		t.Fatalf("unexpected rendered: %+v", r)
	}
	r = Format("text/html", "<b>hi</b>")
	if r.Kind != KindText || r.Text != "<b>hi</b>" {
		t.Fatalf("unexpected rendered: %+v", r)
	}
}

func TestFormat_ImageDecodesBase64(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47}
	r := Format("image/png", base64.StdEncoding.EncodeToString(payload))
	if r.Kind != KindImage {
		t.Fatalf("unexpected kind: %v", r.Kind)
	}
	if !bytes.Equal(r.Binary, payload) {
		t.Fatalf("binary not decoded: %v", r.Binary)
	}
	if !strings.Contains(r.Text, "data:image/png;base64,") {
		t.Fatalf("missing inline markup: %q", r.Text)
	}
}

func TestFormat_ImageRawBytes(t *testing.T) {
	payload := []byte{1, 2, 3}
	r := Format("image/gif", payload)
	if !bytes.Equal(r.Binary, payload) {
		t.Fatalf("raw bytes not preserved: %v", r.Binary)
	}
}

func TestFormat_StructuredObjectPassthrough(t *testing.T) {
	body := map[string]any{"elements": []any{1, 2}}
	r := Format("application/vnd.pluto.tree+object", body)
	if r.Kind != KindObject {
		t.Fatalf("unexpected kind: %v", r.Kind)
	}
	if r.Raw == nil {
		t.Fatalf("raw body dropped")
	}
}

func TestFormat_StructuredObjectNilBodyFallsBack(t *testing.T) {
	r := Format("application/vnd.pluto.stacktrace+object", nil)
	if r.Kind != KindJSON {
		t.Fatalf("expected JSON fallback, got %v", r.Kind)
	}
	if !strings.Contains(r.Text, "stacktrace") {
		t.Fatalf("fallback should dump the mime: %q", r.Text)
	}
}

func TestFormat_UnknownMimeFallsBack(t *testing.T) {
	r := Format("application/x-mystery", map[string]any{"a": 1})
	if r.Kind != KindJSON {
		t.Fatalf("expected fallback, got %v", r.Kind)
	}
	if !strings.Contains(r.Text, "x-mystery") || !strings.Contains(r.Text, `"a": 1`) {
		t.Fatalf("fallback dump incomplete: %q", r.Text)
	}
}

func TestFormat_NeverPanics(t *testing.T) {
	for _, body := range []any{nil, "", 0, []byte(nil), map[string]any{}, func() {}} {
		_ = Format("text/plain", body)
		_ = Format("image/png", body)
		_ = Format("application/weird", body)
	}
}

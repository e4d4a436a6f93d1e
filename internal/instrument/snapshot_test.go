package instrument

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSnapshotPrunesDepth(t *testing.T) {
	p := SnapshotPolicy{MaxDepth: 2}
	v, err := p.Value(map[string]any{"a": map[string]any{"b": map[string]any{"c": 1}}})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	inner := v.(map[string]any)["a"].(map[string]any)
	if inner["b"] != "[object with 1 keys]" {
		t.Fatalf("unexpected pruned value %#v", inner["b"])
	}
}

func TestSnapshotOversized(t *testing.T) {
	p := SnapshotPolicy{MaxBytes: 64, MaxString: 8}
	v, err := p.Value(map[string]string{"blob": strings.Repeat("x", 200)})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	m := v.(map[string]any)
	if m["truncated"] != true || m["bytes"].(int) <= 64 {
		t.Fatalf("unexpected oversized marker %#v", m)
	}
	if preview := m["preview"].(string); preview != `{"blob":`+truncatedMarker {
		t.Fatalf("unexpected preview %q", preview)
	}
}

func TestSnapshotKeepsNumbers(t *testing.T) {
	v, err := DefaultSnapshotPolicy.Value(map[string]any{"id": 9007199254740993})
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if n := v.(map[string]any)["id"].(json.Number); n.String() != "9007199254740993" {
		t.Fatalf("number lost precision: %s", n)
	}
}

func TestSnapshotUnencodable(t *testing.T) {
	if _, err := DefaultSnapshotPolicy.Value(func() {}); err == nil {
		t.Fatalf("expected encode error")
	}
}

func TestSnapshotBody(t *testing.T) {
	p := SnapshotPolicy{MaxString: 4}
	cases := []struct {
		name        string
		contentType string
		body        string
		check       func(any) bool
	}{
		{"json", "application/json", `{"a":1}`, func(v any) bool { _, ok := v.(map[string]any)["a"]; return ok }},
		{"form", "application/x-www-form-urlencoded", "q=go", func(v any) bool { return v.(map[string]any)["q"] == "go" }},
		{"multipart", "multipart/form-data; boundary=x", "--x--", func(v any) bool { return v.(map[string]any)["bytes"] == 5 }},
		{"sniffed json", "", `[1,2]`, func(v any) bool { return len(v.([]any)) == 2 }},
		{"text", "text/plain", "hello world", func(v any) bool { return v == "hell"+truncatedMarker }},
		{"binary", "application/octet-stream", "\xff\xfe", func(v any) bool { return v.(map[string]any)["bytes"] == 2 }},
	}
	for _, tc := range cases {
		v, err := p.Body(tc.contentType, []byte(tc.body))
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.check(v) {
			t.Fatalf("%s: unexpected snapshot %#v", tc.name, v)
		}
	}
}

func TestTruncateRespectsRuneBoundary(t *testing.T) {
	p := SnapshotPolicy{MaxString: 2}.withDefaults()
	if got := p.truncate("héllo"); got != "h"+truncatedMarker {
		t.Fatalf("unexpected truncation %q", got)
	}
}

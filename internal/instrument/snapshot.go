package instrument

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"
)

// SnapshotPolicy bounds the payload snapshots attached to events.
type SnapshotPolicy struct {
	// MaxDepth prunes nested objects and arrays deeper than this level.
	MaxDepth int
	// MaxBytes is the largest encoded payload kept verbatim.
	MaxBytes int
	// MaxString truncates individual string values.
	MaxString int
}

// DefaultSnapshotPolicy is used when no policy is configured.
var DefaultSnapshotPolicy = SnapshotPolicy{MaxDepth: 6, MaxBytes: 32 << 10, MaxString: 2 << 10}

const truncatedMarker = "…"

func (p SnapshotPolicy) withDefaults() SnapshotPolicy {
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultSnapshotPolicy.MaxDepth
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultSnapshotPolicy.MaxBytes
	}
	if p.MaxString <= 0 {
		p.MaxString = DefaultSnapshotPolicy.MaxString
	}
	return p
}

// Value converts v into a JSON-safe tree bounded by the policy. Values that
// cannot be encoded return an error and no snapshot.
func (p SnapshotPolicy) Value(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return p.JSON(encoded)
}

// JSON bounds an already encoded JSON document.
func (p SnapshotPolicy) JSON(encoded []byte) (any, error) {
	p = p.withDefaults()
	if len(encoded) > p.MaxBytes {
		return p.oversized(encoded), nil
	}
	var tree any
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return p.prune(tree, 0), nil
}

// Body snapshots a raw body. JSON bodies are decoded, form bodies are
// flattened and anything else is kept as bounded text.
func (p SnapshotPolicy) Body(contentType string, body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	p = p.withDefaults()
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		return p.JSON(body)
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return p.prune(flattenValues(values), 0), nil
	case strings.HasPrefix(mediaType, "multipart/"):
		return map[string]any{"contentType": mediaType, "bytes": len(body)}, nil
	}
	if json.Valid(body) {
		return p.JSON(body)
	}
	if !utf8.Valid(body) {
		return map[string]any{"contentType": mediaType, "bytes": len(body)}, nil
	}
	return p.truncate(string(body)), nil
}

func (p SnapshotPolicy) oversized(encoded []byte) map[string]any {
	preview := encoded
	if len(preview) > p.MaxString {
		preview = preview[:p.MaxString]
	}
	return map[string]any{
		"truncated": true,
		"bytes":     len(encoded),
		"preview":   strings.ToValidUTF8(string(preview), "") + truncatedMarker,
	}
}

func (p SnapshotPolicy) prune(v any, depth int) any {
	switch t := v.(type) {
	case map[string]any:
		if depth >= p.MaxDepth {
			return fmt.Sprintf("[object with %d keys]", len(t))
		}
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = p.prune(child, depth+1)
		}
		return out
	case []any:
		if depth >= p.MaxDepth {
			return fmt.Sprintf("[array with %d items]", len(t))
		}
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = p.prune(child, depth+1)
		}
		return out
	case string:
		return p.truncate(t)
	default:
		return t
	}
}

func (p SnapshotPolicy) truncate(s string) string {
	if len(s) <= p.MaxString {
		return s
	}
	cut := p.MaxString
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncatedMarker
}

func flattenValues(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		out[k] = items
	}
	return out
}

// headerMap flattens h into a single value per header name.
func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// SnakeToCamel converts one snake_case identifier to camelCase.
// Already-camel input passes through unchanged.
func SnakeToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.Grow(len(s))
	first := true
	for _, p := range parts {
		if p == "" {
			continue
		}
		if first {
			b.WriteString(p)
			first = false
			continue
		}
		r := []rune(p)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	return b.String()
}

// CamelToSnake converts one camelCase identifier to snake_case.
// Runs of capitals collapse into a single word (requestID -> request_id).
func CamelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || (nextLower && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CamelizeJSON rewrites every object key in raw from snake_case to
// camelCase, recursively. Numbers are preserved exactly via json.Number.
// Used for opaque payloads (realtime content, signal bodies, account
// snapshots) crossing from internal storage to the wire.
func CamelizeJSON(raw json.RawMessage) (json.RawMessage, error) {
	return rewriteKeys(raw, SnakeToCamel)
}

// SnakeizeJSON rewrites every object key in raw from camelCase to
// snake_case, recursively. Used for opaque inbound payloads (strategy
// params) crossing from the wire to internal storage.
func SnakeizeJSON(raw json.RawMessage) (json.RawMessage, error) {
	return rewriteKeys(raw, CamelToSnake)
}

func rewriteKeys(raw json.RawMessage, rename func(string) string) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("rewrite JSON keys: %w", err)
	}
	out, err := json.Marshal(rewriteValue(v, rename))
	if err != nil {
		return nil, fmt.Errorf("rewrite JSON keys: %w", err)
	}
	return out, nil
}

func rewriteValue(v any, rename func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[rename(k)] = rewriteValue(val, rename)
		}
		return out
	case []any:
		for i := range t {
			t[i] = rewriteValue(t[i], rename)
		}
		return t
	default:
		return v
	}
}

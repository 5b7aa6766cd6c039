package jsonutil

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON value out of raw LLM output. Models are asked for
// strict JSON but frequently wrap it in markdown fences or prose, so this
// tries, in order:
//  1. the whole text as JSON
//  2. the contents of the first ```json (or bare ```) fence
//  3. the widest {...} or [...] slice of the text
//
// It returns nil when no parseable JSON is found; callers treat nil as
// "no usable output" rather than an error.
func ExtractJSON(text string) json.RawMessage {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if raw := tryParse(text); raw != nil {
		return raw
	}
	if inner := fencedBlock(text); inner != "" {
		if raw := tryParse(inner); raw != nil {
			return raw
		}
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start {
			if raw := tryParse(text[start : end+1]); raw != nil {
				return raw
			}
		}
	}
	return nil
}

// ExtractJSONMap is ExtractJSON narrowed to object payloads.
func ExtractJSONMap(text string) map[string]any {
	raw := ExtractJSON(text)
	if raw == nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func tryParse(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if !json.Valid([]byte(s)) {
		return nil
	}
	// Bare scalars are valid JSON but never a usable model payload.
	switch s[0] {
	case '{', '[':
		return json.RawMessage(s)
	}
	return nil
}

// fencedBlock returns the body of the first markdown code fence, preferring a
// ```json fence when one exists.
func fencedBlock(text string) string {
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		body := text[start+len(marker):]
		end := strings.Index(body, "```")
		if end < 0 {
			continue
		}
		return strings.TrimSpace(body[:end])
	}
	return ""
}

// MarshalNoEscape encodes v into JSON without escaping <, >, & into <, etc.
func MarshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Remove trailing newline from json.Encoder.Encode
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// MarshalIndentNoEscape is MarshalNoEscape with two-space indentation.
func MarshalIndentNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Roundtrip deep-copies v through JSON into a generic value. Used to detach
// documents from caller-held references before in-place mutation.
func Roundtrip(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

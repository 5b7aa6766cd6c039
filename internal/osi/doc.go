// Package osi implements the OSI semantic-model document: the JSON artifact
// produced by the generation agent and consumed by the ontology builder.
//
// Documents are handled as generic maps rather than rigid structs because they
// are produced by an LLM and edited by users as semi-structured JSON; the
// validator repairs recoverable gaps instead of rejecting them.
package osi

import (
	"fmt"
	"strings"

	"github.com/marinoscar/Knecta-sub001/internal/util/jsonutil"
)

// Document is the root OSI shape: {"semantic_model": [model]}. The array
// wrapper is a format convention; a document carries exactly one model.
type Document = map[string]any

// NewDocument wraps a single model definition in the root envelope.
func NewDocument(model map[string]any) Document {
	return Document{"semantic_model": []any{model}}
}

// Model returns semantic_model[0] when present and well-formed.
func Model(doc Document) (map[string]any, bool) {
	if doc == nil {
		return nil, false
	}
	arr, ok := doc["semantic_model"].([]any)
	if !ok || len(arr) == 0 {
		return nil, false
	}
	m, ok := arr[0].(map[string]any)
	return m, ok
}

// CloneDocument deep-copies a document through JSON. ValidateAndFix and the
// injectors mutate in place, so callers holding shared references clone first.
func CloneDocument(doc Document) (Document, error) {
	if doc == nil {
		return nil, fmt.Errorf("osi: nil document")
	}
	v, err := jsonutil.Roundtrip(doc)
	if err != nil {
		return nil, fmt.Errorf("osi: clone document: %w", err)
	}
	out, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("osi: document is not a JSON object")
	}
	return out, nil
}

// EnsureAiContext normalizes owner's ai_context and returns it as a map:
// a bare string becomes {"instructions": s}, anything unusable becomes {}.
// The normalized value is written back into owner.
func EnsureAiContext(owner map[string]any) map[string]any {
	switch v := owner["ai_context"].(type) {
	case map[string]any:
		return v
	case string:
		norm := map[string]any{"instructions": v}
		owner["ai_context"] = norm
		return norm
	default:
		norm := map[string]any{}
		owner["ai_context"] = norm
		return norm
	}
}

// maps extracts the object elements of a []any value.
func maps(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func strs(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func nonEmpty(v any) bool {
	return strings.TrimSpace(str(v)) != ""
}

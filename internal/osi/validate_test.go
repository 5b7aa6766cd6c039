package osi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validModel() map[string]any {
	return map[string]any{
		"name":       "Model for shopdb",
		"ai_context": map[string]any{"synonyms": []any{}, "instructions": ""},
		"datasets": []any{
			map[string]any{
				"name":       "orders",
				"source":     "shopdb.sales.orders",
				"ai_context": map[string]any{},
				"fields": []any{
					map[string]any{
						"name":       "id",
						"ai_context": map[string]any{"data_type": "integer"},
						"expression": map[string]any{},
					},
				},
			},
		},
		"relationships": []any{},
		"metrics":       []any{},
	}
}

func TestValidateAndFixValidDocument(t *testing.T) {
	r := ValidateAndFix(NewDocument(validModel()))
	require.True(t, r.IsValid)
	require.Empty(t, r.FatalIssues)
	require.Empty(t, r.FixedIssues)
	require.Empty(t, r.Warnings)
}

func TestValidateAndFixEmptyDocument(t *testing.T) {
	for _, doc := range []Document{
		nil,
		{},
		{"semantic_model": []any{}},
		{"semantic_model": "nope"},
	} {
		r := ValidateAndFix(doc)
		require.False(t, r.IsValid)
		require.Contains(t, r.FatalIssues, "document has no semantic_model array (or it is empty)")
	}
}

func TestValidateAndFixFatalIssues(t *testing.T) {
	model := map[string]any{
		"datasets": []any{},
		"metrics": []any{
			map[string]any{"name": "revenue"},
		},
	}
	r := ValidateAndFix(NewDocument(model))
	require.False(t, r.IsValid)
	require.Contains(t, r.FatalIssues, "model has no name")
	require.Contains(t, r.FatalIssues, "model has no datasets")
	require.Contains(t, r.FatalIssues, `metric "revenue" has no expression`)
}

func TestValidateAndFixRelationshipColumnArity(t *testing.T) {
	model := validModel()
	model["relationships"] = []any{
		map[string]any{
			"name":         "orders_to_customers",
			"from":         "orders",
			"to":           "orders",
			"from_columns": []any{"customer_id", "extra_col"},
			"to_columns":   []any{"id"},
		},
	}
	r := ValidateAndFix(NewDocument(model))
	require.False(t, r.IsValid)
	require.Contains(t, r.FatalIssues,
		`relationship "orders_to_customers": from_columns and to_columns must be of equal length (2 vs 1)`)
}

func TestValidateAndFixStringAiContextWrapping(t *testing.T) {
	model := validModel()
	model["ai_context"] = "a retail model"
	ds := model["datasets"].([]any)[0].(map[string]any)
	ds["ai_context"] = "orders placed by customers"
	field := ds["fields"].([]any)[0].(map[string]any)
	field["ai_context"] = "surrogate key"

	doc := NewDocument(model)
	r := ValidateAndFix(doc)
	require.True(t, r.IsValid)
	require.Len(t, r.FixedIssues, 3)

	got, _ := Model(doc)
	require.Equal(t, map[string]any{"instructions": "a retail model"}, got["ai_context"])
	require.Equal(t, map[string]any{"instructions": "orders placed by customers"},
		got["datasets"].([]any)[0].(map[string]any)["ai_context"])
}

func TestValidateAndFixSynthesizesMissingAiContext(t *testing.T) {
	model := validModel()
	delete(model, "ai_context")
	ds := model["datasets"].([]any)[0].(map[string]any)
	delete(ds, "ai_context")
	field := ds["fields"].([]any)[0].(map[string]any)
	delete(field, "ai_context")

	doc := NewDocument(model)
	r := ValidateAndFix(doc)
	require.True(t, r.IsValid)
	require.Contains(t, r.FixedIssues, "model-level ai_context was missing; synthesized default")
	require.Contains(t, r.FixedIssues, `dataset "orders" had no ai_context; synthesized empty object`)
	require.Contains(t, r.FixedIssues, "field orders.id had no ai_context; synthesized empty object")
	// a synthesized field ai_context necessarily lacks data_type
	require.Contains(t, r.Warnings, "field orders.id ai_context has no data_type")
}

func TestValidateAndFixDefaultsFieldExpression(t *testing.T) {
	model := validModel()
	field := model["datasets"].([]any)[0].(map[string]any)["fields"].([]any)[0].(map[string]any)
	delete(field, "expression")

	doc := NewDocument(model)
	r := ValidateAndFix(doc)
	require.True(t, r.IsValid)
	require.Contains(t, r.FixedIssues, "field orders.id had no expression; defaulted to its own column name")

	got, _ := Model(doc)
	expr := got["datasets"].([]any)[0].(map[string]any)["fields"].([]any)[0].(map[string]any)["expression"]
	require.Equal(t, map[string]any{
		"dialects": []any{
			map[string]any{"dialect": "ANSI_SQL", "expression": "id"},
		},
	}, expr)
}

func TestValidateAndFixRelationshipDatasetWarnings(t *testing.T) {
	model := validModel()
	model["relationships"] = []any{
		map[string]any{
			"name":         "orders_to_ghosts",
			"from":         "orders",
			"to":           "ghosts",
			"from_columns": []any{"customer_id"},
			"to_columns":   []any{"id"},
		},
	}
	r := ValidateAndFix(NewDocument(model))
	require.True(t, r.IsValid)
	require.Contains(t, r.Warnings,
		`relationship "orders_to_ghosts" references non-existent dataset "ghosts" in to`)
}

// Running the validator twice must not find anything new the second time.
func TestValidateAndFixIdempotent(t *testing.T) {
	model := validModel()
	model["ai_context"] = "a retail model"
	ds := model["datasets"].([]any)[0].(map[string]any)
	delete(ds, "ai_context")
	field := ds["fields"].([]any)[0].(map[string]any)
	delete(field, "ai_context")
	delete(field, "expression")
	model["relationships"] = []any{
		map[string]any{
			"name": "r", "from": "orders", "to": "ghosts",
			"from_columns": []any{"a"}, "to_columns": []any{"b"},
		},
	}

	doc := NewDocument(model)
	first := ValidateAndFix(doc)
	require.True(t, first.IsValid)
	require.NotEmpty(t, first.FixedIssues)

	second := ValidateAndFix(doc)
	require.True(t, second.IsValid)
	require.Empty(t, second.FixedIssues)
	require.Equal(t, first.Warnings, second.Warnings)
}

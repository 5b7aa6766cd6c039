package osi

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
)

func intp(n int) *int { return &n }

func TestIsEligibleForSampleData(t *testing.T) {
	tests := []struct {
		dataType string
		maxLen   *int
		want     bool
	}{
		{"varchar", intp(20), true},
		{"character varying", intp(49), true},
		{"nvarchar", intp(10), true},
		{"char", intp(2), true},
		{"VARCHAR", intp(20), true}, // case-insensitive
		{"varchar", intp(50), false},
		{"varchar", intp(200), false},
		{"varchar", nil, false},
		{"text", intp(20), false},
		{"integer", nil, false},
		{"boolean", nil, false},
		{"json", nil, false},
		{"uuid", nil, false},
		{"date", nil, false},
		{"timestamp", nil, false},
		{"bytea", nil, false},
	}
	for _, tc := range tests {
		col := discovery.Column{Name: "c", DataType: tc.dataType, MaxLength: tc.maxLen}
		require.Equal(t, tc.want, IsEligibleForSampleData(col), "type %s", tc.dataType)
	}
}

func dsWithFields(names ...string) map[string]any {
	fields := make([]any, len(names))
	for i, n := range names {
		fields[i] = map[string]any{"name": n}
	}
	return map[string]any{"name": "orders", "fields": fields}
}

func TestInjectFieldDataTypes(t *testing.T) {
	ds := dsWithFields("ID", "status", "computed_margin")
	cols := []discovery.Column{
		{Name: "id", DataType: "integer", IsPrimaryKey: true},
		{Name: "status", DataType: "varchar", MaxLength: intp(20)},
	}
	samples := map[string][]string{
		"status": {"open", "closed", "pending", "shipped", "billed", "archived"},
	}

	InjectFieldDataTypes(ds, cols, samples)

	fields := ds["fields"].([]any)

	// case-insensitive match wins
	idCtx := fields[0].(map[string]any)["ai_context"].(map[string]any)
	require.Equal(t, "integer", idCtx["data_type"])
	require.Equal(t, true, idCtx["is_primary_key"])
	_, hasSamples := idCtx["sample_data"]
	require.False(t, hasSamples, "integer columns never get samples")

	// eligible varchar is capped at 5 samples
	statusCtx := fields[1].(map[string]any)["ai_context"].(map[string]any)
	require.Equal(t, "varchar", statusCtx["data_type"])
	require.Len(t, statusCtx["sample_data"].([]any), 5)

	// a field with no matching column stays untouched
	_, hasCtx := fields[2].(map[string]any)["ai_context"]
	require.False(t, hasCtx)
}

func TestInjectFieldDataTypesTruncatesLongValues(t *testing.T) {
	ds := dsWithFields("status")
	cols := []discovery.Column{{Name: "status", DataType: "varchar", MaxLength: intp(40)}}
	long := "abcdefghijklmnopqrstuvwxyz0123456789"

	InjectFieldDataTypes(ds, cols, map[string][]string{"status": {long}})

	ctx := ds["fields"].([]any)[0].(map[string]any)["ai_context"].(map[string]any)
	vals := ctx["sample_data"].([]any)
	require.Equal(t, long[:25], vals[0])
}

func TestInjectFieldDataTypesTruncatesMultibyteOnRunes(t *testing.T) {
	ds := dsWithFields("status")
	cols := []discovery.Column{{Name: "status", DataType: "varchar", MaxLength: intp(40)}}
	long := strings.Repeat("ü", 30)

	InjectFieldDataTypes(ds, cols, map[string][]string{"status": {long}})

	ctx := ds["fields"].([]any)[0].(map[string]any)["ai_context"].(map[string]any)
	got := ctx["sample_data"].([]any)[0].(string)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, 25, utf8.RuneCountInString(got))
	require.Equal(t, strings.Repeat("ü", 25), got)
}

func TestInjectFieldDataTypesEmptySamplesYieldEmptyArray(t *testing.T) {
	ds := dsWithFields("status")
	cols := []discovery.Column{{Name: "status", DataType: "varchar", MaxLength: intp(20)}}

	// samples map present but has nothing for the column
	InjectFieldDataTypes(ds, cols, map[string][]string{})

	ctx := ds["fields"].([]any)[0].(map[string]any)["ai_context"].(map[string]any)
	require.Equal(t, []any{}, ctx["sample_data"])
}

func TestInjectFieldDataTypesNilSamplesSkipsSampleData(t *testing.T) {
	ds := dsWithFields("status")
	cols := []discovery.Column{{Name: "status", DataType: "varchar", MaxLength: intp(20)}}

	InjectFieldDataTypes(ds, cols, nil)

	ctx := ds["fields"].([]any)[0].(map[string]any)["ai_context"].(map[string]any)
	require.Equal(t, "varchar", ctx["data_type"])
	_, has := ctx["sample_data"]
	require.False(t, has)
}

func relDatasets() []map[string]any {
	orders := dsWithFields("id", "customer_id")
	InjectFieldDataTypes(orders, []discovery.Column{
		{Name: "id", DataType: "integer", IsPrimaryKey: true},
		{Name: "customer_id", DataType: "integer"},
	}, nil)
	customers := map[string]any{"name": "customers", "fields": []any{
		map[string]any{"name": "id", "ai_context": map[string]any{"data_type": "integer"}},
	}}
	return []map[string]any{orders, customers}
}

func TestInjectRelationshipDataTypes(t *testing.T) {
	rels := []map[string]any{{
		"name":         "orders_to_customers",
		"from":         "orders",
		"to":           "customers",
		"from_columns": []any{"customer_id"},
		"to_columns":   []any{"id"},
		"ai_context":   map[string]any{"instructions": "join"},
	}}

	InjectRelationshipDataTypes(rels, relDatasets())

	ctx := rels[0]["ai_context"].(map[string]any)
	require.Equal(t, "join", ctx["instructions"], "existing ai_context keys survive")

	ct := ctx["column_types"].(map[string]any)
	require.Equal(t, map[string]any{
		"customer_id": map[string]any{"data_type": "integer"},
	}, ct["from_columns"])
	require.Equal(t, map[string]any{
		"id": map[string]any{"data_type": "integer"},
	}, ct["to_columns"])
}

func TestInjectRelationshipDataTypesUnknownDataset(t *testing.T) {
	rels := []map[string]any{{
		"name": "r", "from": "ghosts", "to": "phantoms",
		"from_columns": []any{"a"}, "to_columns": []any{"b"},
	}}

	InjectRelationshipDataTypes(rels, relDatasets())

	_, has := rels[0]["ai_context"]
	require.False(t, has, "no ai_context is synthesized when nothing resolves")
}

func TestComputeModelStats(t *testing.T) {
	model := map[string]any{
		"name": "m",
		"datasets": []any{
			dsWithFields("a", "b"),
			dsWithFields("c"),
		},
		"relationships": []any{map[string]any{"name": "r"}},
		"metrics":       []any{map[string]any{"name": "m1"}, map[string]any{"name": "m2"}},
	}
	stats := ComputeModelStats(NewDocument(model))
	require.Equal(t, ModelStats{TableCount: 2, FieldCount: 3, RelationshipCount: 1, MetricCount: 2}, stats)
}

func TestComputeModelStatsMalformed(t *testing.T) {
	require.Equal(t, ModelStats{}, ComputeModelStats(nil))
	require.Equal(t, ModelStats{}, ComputeModelStats(Document{"semantic_model": "x"}))
	require.Equal(t, ModelStats{}, ComputeModelStats(NewDocument(map[string]any{"datasets": "not a list"})))
}

package osi

import (
	"strings"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
)

const (
	maxSampleValues      = 5
	maxSampleValueLength = 25
)

// IsEligibleForSampleData reports whether a column's values may be injected
// into field ai_context: a bounded varchar-family column shorter than 50.
func IsEligibleForSampleData(col discovery.Column) bool {
	return col.SampleEligible()
}

// InjectFieldDataTypes cross-references a generated dataset's fields with live
// column metadata and writes data_type / is_primary_key (and, when samples is
// non-nil and the column is eligible, sample_data) into each field's
// ai_context. Field↔column matching is case-insensitive; fields with no
// matching column (computed expressions) are left untouched beyond ai_context
// normalization performed elsewhere.
func InjectFieldDataTypes(dataset map[string]any, columns []discovery.Column, samples map[string][]string) {
	if dataset == nil || len(columns) == 0 {
		return
	}
	byName := make(map[string]discovery.Column, len(columns))
	for _, col := range columns {
		byName[strings.ToLower(col.Name)] = col
	}

	for _, field := range maps(dataset["fields"]) {
		col, ok := byName[strings.ToLower(str(field["name"]))]
		if !ok {
			continue
		}
		ctx := EnsureAiContext(field)
		ctx["data_type"] = col.DataType
		ctx["is_primary_key"] = col.IsPrimaryKey

		if samples == nil || !IsEligibleForSampleData(col) {
			continue
		}
		ctx["sample_data"] = truncateSamples(samples[col.Name])
	}
}

func truncateSamples(values []string) []any {
	out := make([]any, 0, maxSampleValues)
	for _, v := range values {
		if len(out) == maxSampleValues {
			break
		}
		// truncate on runes so multibyte values stay valid UTF-8
		if runes := []rune(v); len(runes) > maxSampleValueLength {
			v = string(runes[:maxSampleValueLength])
		}
		out = append(out, v)
	}
	return out
}

// InjectRelationshipDataTypes resolves each relationship's endpoint datasets
// by name and records the data_type of every joined column under
// ai_context.column_types. A missing dataset skips that side silently;
// columns whose fields carry no resolved data_type are omitted. Existing
// ai_context keys are preserved.
func InjectRelationshipDataTypes(relationships []map[string]any, datasets []map[string]any) {
	byName := make(map[string]map[string]any, len(datasets))
	for _, ds := range datasets {
		byName[str(ds["name"])] = ds
	}

	for _, rel := range relationships {
		fromTypes := columnTypes(byName[str(rel["from"])], strs(rel["from_columns"]))
		toTypes := columnTypes(byName[str(rel["to"])], strs(rel["to_columns"]))
		if len(fromTypes) == 0 && len(toTypes) == 0 {
			continue
		}
		ctx := EnsureAiContext(rel)
		ctx["column_types"] = map[string]any{
			"from_columns": fromTypes,
			"to_columns":   toTypes,
		}
	}
}

// columnTypes looks up the resolved data_type of each column in the dataset's
// fields, keyed by column name.
func columnTypes(dataset map[string]any, columns []string) map[string]any {
	out := map[string]any{}
	if dataset == nil {
		return out
	}
	fields := maps(dataset["fields"])
	for _, col := range columns {
		for _, field := range fields {
			if !strings.EqualFold(str(field["name"]), col) {
				continue
			}
			ctx, ok := field["ai_context"].(map[string]any)
			if !ok {
				break
			}
			if dt, ok := ctx["data_type"].(string); ok && dt != "" {
				out[col] = map[string]any{"data_type": dt}
			}
			break
		}
	}
	return out
}

package osi

import "fmt"

// Report is the outcome of ValidateAndFix. IsValid is false iff FatalIssues
// is non-empty; FixedIssues records auto-repairs applied to the document.
type Report struct {
	IsValid     bool     `json:"isValid"`
	FatalIssues []string `json:"fatalIssues"`
	FixedIssues []string `json:"fixedIssues"`
	Warnings    []string `json:"warnings"`
}

// defaultModelAiContext is the object synthesized for a missing or empty
// model-level ai_context. It is deliberately non-empty so a second validation
// pass over the same document reports nothing new.
func defaultModelAiContext() map[string]any {
	return map[string]any{"synonyms": []any{}, "instructions": ""}
}

// ValidateAndFix walks an OSI document, reports fatal structural issues, and
// mutates the document in place to repair recoverable omissions.
//
// Mutation contract: the input document is modified. Callers holding shared
// references must CloneDocument first (the persistence layer does). The
// function is idempotent: re-running on an already-repaired document yields
// zero FixedIssues and the same Warnings.
func ValidateAndFix(doc Document) Report {
	r := Report{
		FatalIssues: []string{},
		FixedIssues: []string{},
		Warnings:    []string{},
	}

	model, ok := Model(doc)
	if !ok {
		r.FatalIssues = append(r.FatalIssues, "document has no semantic_model array (or it is empty)")
		return r
	}

	if !nonEmpty(model["name"]) {
		r.FatalIssues = append(r.FatalIssues, "model has no name")
	}

	if _, isStr := model["ai_context"].(string); isStr {
		EnsureAiContext(model)
		r.FixedIssues = append(r.FixedIssues, "model-level ai_context was a bare string; wrapped as instructions")
	} else if ctx, ok := model["ai_context"].(map[string]any); !ok || len(ctx) == 0 {
		model["ai_context"] = defaultModelAiContext()
		r.FixedIssues = append(r.FixedIssues, "model-level ai_context was missing; synthesized default")
	}

	datasets := maps(model["datasets"])
	if len(datasets) == 0 {
		r.FatalIssues = append(r.FatalIssues, "model has no datasets")
	}
	datasetNames := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		datasetNames[str(ds["name"])] = true
		validateDataset(ds, &r)
	}

	for _, rel := range maps(model["relationships"]) {
		validateRelationship(rel, datasetNames, &r)
	}

	for _, metric := range maps(model["metrics"]) {
		if metric["expression"] == nil {
			r.FatalIssues = append(r.FatalIssues,
				fmt.Sprintf("metric %q has no expression", str(metric["name"])))
		}
		if _, isStr := metric["ai_context"].(string); isStr {
			EnsureAiContext(metric)
			r.FixedIssues = append(r.FixedIssues,
				fmt.Sprintf("metric %q ai_context was a bare string; wrapped as instructions", str(metric["name"])))
		}
	}

	r.IsValid = len(r.FatalIssues) == 0
	return r
}

func validateDataset(ds map[string]any, r *Report) {
	name := str(ds["name"])

	if _, isStr := ds["ai_context"].(string); isStr {
		EnsureAiContext(ds)
		r.FixedIssues = append(r.FixedIssues,
			fmt.Sprintf("dataset %q ai_context was a bare string; wrapped as instructions", name))
	} else if _, ok := ds["ai_context"].(map[string]any); !ok {
		ds["ai_context"] = map[string]any{}
		r.FixedIssues = append(r.FixedIssues,
			fmt.Sprintf("dataset %q had no ai_context; synthesized empty object", name))
	}

	for _, field := range maps(ds["fields"]) {
		validateField(name, field, r)
	}
}

func validateField(dataset string, field map[string]any, r *Report) {
	name := str(field["name"])

	switch ctx := field["ai_context"].(type) {
	case string:
		EnsureAiContext(field)
		r.FixedIssues = append(r.FixedIssues,
			fmt.Sprintf("field %s.%s ai_context was a bare string; wrapped as instructions", dataset, name))
	case map[string]any:
		if _, has := ctx["data_type"]; !has {
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("field %s.%s ai_context has no data_type", dataset, name))
		}
	default:
		field["ai_context"] = map[string]any{}
		r.FixedIssues = append(r.FixedIssues,
			fmt.Sprintf("field %s.%s had no ai_context; synthesized empty object", dataset, name))
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("field %s.%s ai_context has no data_type", dataset, name))
	}

	if field["expression"] == nil {
		field["expression"] = map[string]any{
			"dialects": []any{
				map[string]any{"dialect": "ANSI_SQL", "expression": name},
			},
		}
		r.FixedIssues = append(r.FixedIssues,
			fmt.Sprintf("field %s.%s had no expression; defaulted to its own column name", dataset, name))
	}
}

func validateRelationship(rel map[string]any, datasetNames map[string]bool, r *Report) {
	name := str(rel["name"])
	from := str(rel["from"])
	to := str(rel["to"])

	if _, isStr := rel["ai_context"].(string); isStr {
		EnsureAiContext(rel)
		r.FixedIssues = append(r.FixedIssues,
			fmt.Sprintf("relationship %q ai_context was a bare string; wrapped as instructions", name))
	}

	fromCols := strs(rel["from_columns"])
	toCols := strs(rel["to_columns"])
	if len(fromCols) != len(toCols) {
		r.FatalIssues = append(r.FatalIssues,
			fmt.Sprintf("relationship %q: from_columns and to_columns must be of equal length (%d vs %d)",
				name, len(fromCols), len(toCols)))
	}

	if from != "" && !datasetNames[from] {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("relationship %q references non-existent dataset %q in from", name, from))
	}
	if to != "" && !datasetNames[to] {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("relationship %q references non-existent dataset %q in to", name, to))
	}
}

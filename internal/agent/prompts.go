package agent

import (
	"fmt"
	"strings"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
)

// DatasetPromptParams carries everything the per-table dataset prompt needs.
type DatasetPromptParams struct {
	DatabaseName string
	Table        discovery.TableRef
	Columns      []discovery.Column
	Samples      map[string][]string
	Instructions string
	OSISpecText  string
}

// DatasetSummary is the compact shape of an already-generated dataset shown
// to the relationship prompt.
type DatasetSummary struct {
	Name    string
	Source  string // "database.schema.table"
	Columns []string
}

// RelationshipsPromptParams carries the model-level prompt inputs.
type RelationshipsPromptParams struct {
	DatabaseName string
	ModelName    string
	Datasets     []DatasetSummary
	Candidates   []Candidate
	Instructions string
	OSISpecText  string
}

// BuildGenerateDatasetPrompt renders the prompt asking the model for one
// dataset definition plus its table-level metrics. The response contract is
// strict JSON with exactly two top-level keys: "dataset" and "metrics".
func BuildGenerateDatasetPrompt(p DatasetPromptParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a data modeling assistant. Define a semantic dataset for the table %s.%s in database %q.\n\n",
		p.Table.Schema, p.Table.Table, p.DatabaseName)

	writeBusinessContext(&b, p.Instructions)

	b.WriteString("## Table Columns\n\n")
	for _, col := range p.Columns {
		fmt.Fprintf(&b, "- %s (%s", col.Name, col.DataType)
		if col.IsPrimaryKey {
			b.WriteString(", primary key")
		}
		if !col.IsNullable {
			b.WriteString(", not null")
		}
		b.WriteString(")")
		if vals := p.Samples[col.Name]; len(vals) > 0 {
			fmt.Fprintf(&b, "; sample values: %s", strings.Join(vals, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	writeOSIReference(&b, p.OSISpecText)

	b.WriteString("## Instructions\n\n")
	fmt.Fprintf(&b, "1. Produce a dataset object with: name, description, source (fully qualified as %q), fields, and ai_context.\n",
		p.DatabaseName+"."+p.Table.Schema+"."+p.Table.Table)
	b.WriteString("2. Each field needs: name, description, and ai_context with business synonyms where obvious.\n")
	b.WriteString("3. Propose table-level metrics that a business analyst would ask about.\n")
	fmt.Fprintf(&b, "4. Every column reference inside a metric expression MUST be fully qualified as schema.table.column. Never write SUM(amount); write SUM(%s.%s.amount).\n",
		p.Table.Schema, p.Table.Table)
	b.WriteString("\n")

	b.WriteString("## Response Format\n\n")
	b.WriteString("Respond with JSON only — no prose, no markdown fences. The object must have exactly two top-level keys:\n")
	b.WriteString("- \"dataset\": the dataset object\n")
	b.WriteString("- \"metrics\": an array of table-level metric objects (empty array if none apply)\n")

	return b.String()
}

// BuildGenerateRelationshipsPrompt renders the model-level prompt asking for
// relationships, model metrics and model ai_context. Foreign-key candidates
// whose endpoints are not both present in the dataset list are filtered out
// before rendering.
func BuildGenerateRelationshipsPrompt(p RelationshipsPromptParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a data modeling assistant. Given the datasets of semantic model %q over database %q, identify the relationships between them and propose model-level metrics.\n\n",
		p.ModelName, p.DatabaseName)

	writeBusinessContext(&b, p.Instructions)

	b.WriteString("## Datasets\n\n")
	for _, ds := range p.Datasets {
		fmt.Fprintf(&b, "- %s (source: %s): columns %s\n", ds.Name, ds.Source, strings.Join(ds.Columns, ", "))
	}
	b.WriteString("\n")

	b.WriteString("## Known Foreign Keys\n\n")
	filtered := FilterCandidates(p.Candidates, p.Datasets)
	if len(filtered) == 0 {
		b.WriteString("None found between the selected tables.\n")
	} else {
		for _, c := range filtered {
			fmt.Fprintf(&b, "- %s(%s) -> %s(%s) [%s]\n",
				c.FromTable, strings.Join(c.FromColumns, ", "),
				c.ToTable, strings.Join(c.ToColumns, ", "),
				c.Source)
		}
	}
	b.WriteString("\n")

	writeOSIReference(&b, p.OSISpecText)

	b.WriteString("## Instructions\n\n")
	b.WriteString("1. Produce one relationship per pair of datasets that join, with: name, from, to, from_columns, to_columns, cardinality, and ai_context. from_columns and to_columns must have the same length.\n")
	b.WriteString("2. Prefer the known foreign keys above; add relationships implied by the column names only when confident.\n")
	b.WriteString("3. Propose model-level metrics that span multiple datasets.\n")
	b.WriteString("4. Every column reference inside a metric expression MUST be fully qualified as schema.table.column. Never write SUM(amount); write SUM(sales.orders.amount).\n")
	b.WriteString("5. Produce a model-level ai_context with synonyms and instructions summarizing the model's purpose.\n")
	b.WriteString("\n")

	b.WriteString("## Response Format\n\n")
	b.WriteString("Respond with JSON only — no prose, no markdown fences. The object must have exactly three top-level keys:\n")
	b.WriteString("- \"relationships\": an array of relationship objects (empty array if none)\n")
	b.WriteString("- \"model_metrics\": an array of model-level metric objects (empty array if none)\n")
	b.WriteString("- \"model_ai_context\": the model-level ai_context object\n")

	return b.String()
}

// FilterCandidates keeps only candidates whose from and to tables both map
// to a dataset in the list, matching on the schema.table suffix of the
// dataset source.
func FilterCandidates(cands []Candidate, datasets []DatasetSummary) []Candidate {
	present := make(map[string]bool, len(datasets))
	for _, ds := range datasets {
		if st := schemaTableOf(ds.Source); st != "" {
			present[st] = true
		}
	}
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if present[c.FromTable] && present[c.ToTable] {
			out = append(out, c)
		}
	}
	return out
}

// schemaTableOf strips the leading database segment off a fully-qualified
// source, returning "schema.table".
func schemaTableOf(source string) string {
	parts := strings.Split(source, ".")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func writeBusinessContext(b *strings.Builder, instructions string) {
	if strings.TrimSpace(instructions) == "" {
		return
	}
	b.WriteString("## Business Context\n\n")
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\n")
}

func writeOSIReference(b *strings.Builder, specText string) {
	if strings.TrimSpace(specText) == "" {
		return
	}
	b.WriteString("## OSI Specification Reference\n\n")
	b.WriteString(strings.TrimSpace(specText))
	b.WriteString("\n\n")
}

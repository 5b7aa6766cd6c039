// Package agent drives the semantic-model generation pipeline: a fixed
// sequence of nodes (discover → per-table datasets → relationships →
// assemble → persist) threading one run state.
//
// Nodes never mutate shared state: each returns a Delta and a pure reducer
// folds deltas into the next State.
package agent

import (
	"github.com/marinoscar/Knecta-sub001/internal/discovery"
	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/osi"
)

// Candidate is a heuristically-detected possible foreign-key relationship
// (explicit constraint or naming pattern) feeding relationship generation.
type Candidate struct {
	FromTable   string   `json:"from_table"` // "schema.table"
	FromColumns []string `json:"from_columns"`
	ToTable     string   `json:"to_table"`
	ToColumns   []string `json:"to_columns"`
	Source      string   `json:"source"` // "constraint" or "name_match"
	Confidence  float64  `json:"confidence"`
}

// State is the run state threaded through the pipeline. Accumulator slices
// are append-only until assembly; TableMetrics[i] always corresponds to
// Datasets[i], and a table in FailedTables has no entry in Datasets.
type State struct {
	RunID           string
	ConnectionID    string
	UserID          string
	DatabaseName    string
	SelectedSchemas []string
	SelectedTables  []string // each "schema.table"

	ModelName    string
	Instructions string
	OSISpecText  string

	Datasets       []map[string]any
	TableMetrics   [][]map[string]any
	FailedTables   []string
	ColumnsByTable map[string][]discovery.Column
	ForeignKeys    []discovery.ForeignKey
	Candidates     []Candidate

	Relationships  []map[string]any
	ModelMetrics   []map[string]any
	ModelAiContext map[string]any

	SemanticModel   osi.Document
	SemanticModelID string
	TokensUsed      llm.TokenUsage
	Error           string
}

// Delta is a node's partial update to the run state.
type Delta struct {
	Datasets     []map[string]any
	TableMetrics [][]map[string]any
	FailedTables []string

	ColumnsByTable map[string][]discovery.Column
	ForeignKeys    []discovery.ForeignKey
	Candidates     []Candidate

	Relationships  []map[string]any
	ModelMetrics   []map[string]any
	ModelAiContext map[string]any

	SemanticModel   osi.Document
	SemanticModelID string
	Tokens          llm.TokenUsage
	Error           string
}

// Reduce folds a delta into the state and returns the next state. Slices are
// appended, token usage accumulates, and document/ID/error fields are
// replaced only when the delta carries a value.
func Reduce(s State, d Delta) State {
	s.Datasets = append(s.Datasets, d.Datasets...)
	s.TableMetrics = append(s.TableMetrics, d.TableMetrics...)
	s.FailedTables = append(s.FailedTables, d.FailedTables...)
	s.ForeignKeys = append(s.ForeignKeys, d.ForeignKeys...)
	s.Candidates = append(s.Candidates, d.Candidates...)
	s.Relationships = append(s.Relationships, d.Relationships...)
	s.ModelMetrics = append(s.ModelMetrics, d.ModelMetrics...)

	if len(d.ColumnsByTable) > 0 {
		if s.ColumnsByTable == nil {
			s.ColumnsByTable = make(map[string][]discovery.Column, len(d.ColumnsByTable))
		}
		for k, v := range d.ColumnsByTable {
			s.ColumnsByTable[k] = v
		}
	}

	if d.ModelAiContext != nil {
		s.ModelAiContext = d.ModelAiContext
	}
	if d.SemanticModel != nil {
		s.SemanticModel = d.SemanticModel
	}
	if d.SemanticModelID != "" {
		s.SemanticModelID = d.SemanticModelID
	}
	if d.Error != "" {
		s.Error = d.Error
	}
	s.TokensUsed.Add(d.Tokens)
	return s
}

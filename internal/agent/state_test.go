package agent

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/osi"
)

func TestReduceAppendsAndAccumulates(t *testing.T) {
	st := State{RunID: "r1"}

	st = Reduce(st, Delta{
		Datasets:     []map[string]any{{"name": "orders"}},
		TableMetrics: [][]map[string]any{{{"name": "order_count"}}},
		Tokens:       llm.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	})
	st = Reduce(st, Delta{
		Datasets:     []map[string]any{{"name": "customers"}},
		TableMetrics: [][]map[string]any{nil},
		FailedTables: []string{"sales.refunds"},
		Tokens:       llm.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	})

	require.Len(t, st.Datasets, 2)
	require.Len(t, st.TableMetrics, 2)
	require.Equal(t, []string{"sales.refunds"}, st.FailedTables)
	require.Equal(t, llm.TokenUsage{Prompt: 20, Completion: 10, Total: 30}, st.TokensUsed)
}

func TestReduceReplacesDocumentFields(t *testing.T) {
	st := State{}
	doc := osi.NewDocument(map[string]any{"name": "m"})

	st = Reduce(st, Delta{SemanticModel: doc, SemanticModelID: "id-1"})
	require.Equal(t, "id-1", st.SemanticModelID)
	require.NotNil(t, st.SemanticModel)

	// an empty delta leaves them untouched
	st = Reduce(st, Delta{})
	require.Equal(t, "id-1", st.SemanticModelID)
	require.NotNil(t, st.SemanticModel)
}

func TestReduceMergesColumns(t *testing.T) {
	st := State{}
	st = Reduce(st, Delta{ColumnsByTable: map[string][]discovery.Column{
		"sales.orders": {{Name: "id"}},
	}})
	st = Reduce(st, Delta{ColumnsByTable: map[string][]discovery.Column{
		"sales.customers": {{Name: "id"}},
	}})
	require.Len(t, st.ColumnsByTable, 2)
}

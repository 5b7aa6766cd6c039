package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marinoscar/Knecta-sub001/internal/osi"
)

func newRun(id string) *Run {
	return &Run{
		ID:             id,
		ConnectionID:   "conn-1",
		DatabaseName:   "shopdb",
		SelectedTables: []string{"sales.orders"},
	}
}

func TestRunLifecycle(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRun("r1")))
	require.Error(t, s.Create(ctx, newRun("r1")), "duplicate id rejected")

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.False(t, got.CreatedAt.IsZero())

	ok, err := s.Claim(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.MarkCompleted(ctx, "r1", "m1"))
	got, _ = s.Get(ctx, "r1")
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, "m1", got.SemanticModelID)
	require.NotNil(t, got.CompletedAt)
}

func TestClaimExactlyOnce(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("r1")))

	const workers = 32
	var wins int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "r1")
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins)
}

func TestClaimMissingRun(t *testing.T) {
	s := NewMemoryRunStore()
	_, err := s.Claim(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCancelRules(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	// pending is cancellable
	require.NoError(t, s.Create(ctx, newRun("r1")))
	require.NoError(t, s.Cancel(ctx, "r1"))
	got, _ := s.Get(ctx, "r1")
	require.Equal(t, StatusCancelled, got.Status)

	// cancelling twice conflicts
	require.ErrorIs(t, s.Cancel(ctx, "r1"), ErrNotCancellable)

	// executing is cancellable
	require.NoError(t, s.Create(ctx, newRun("r2")))
	_, err := s.Claim(ctx, "r2")
	require.NoError(t, err)
	require.NoError(t, s.Cancel(ctx, "r2"))

	// completed is not
	require.NoError(t, s.Create(ctx, newRun("r3")))
	require.NoError(t, s.MarkCompleted(ctx, "r3", "m"))
	require.ErrorIs(t, s.Cancel(ctx, "r3"), ErrNotCancellable)
}

func TestDeleteOnlyTerminalRuns(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRun("r1")))
	require.ErrorIs(t, s.Delete(ctx, "r1"), ErrNotTerminal)

	require.NoError(t, s.MarkFailed(ctx, "r1", "boom"))
	require.NoError(t, s.Delete(ctx, "r1"))
	_, err := s.Get(ctx, "r1")
	require.ErrorIs(t, err, ErrNotFound)

	// completed runs are kept
	require.NoError(t, s.Create(ctx, newRun("r2")))
	require.NoError(t, s.MarkCompleted(ctx, "r2", "m"))
	require.ErrorIs(t, s.Delete(ctx, "r2"), ErrNotTerminal)

	// cancelled runs are deletable
	require.NoError(t, s.Create(ctx, newRun("r3")))
	require.NoError(t, s.Cancel(ctx, "r3"))
	require.NoError(t, s.Delete(ctx, "r3"))
}

func TestUpdateProgressIsolation(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("r1")))

	p := Progress{CurrentStep: "generate_datasets", PercentComplete: 40}
	require.NoError(t, s.UpdateProgress(ctx, "r1", p))

	// mutating the caller's copy must not leak into the store
	p.PercentComplete = 99
	got, _ := s.Get(ctx, "r1")
	require.Equal(t, 40, got.Progress.PercentComplete)
}

func validDoc() osi.Document {
	return osi.NewDocument(map[string]any{
		"name": "m",
		"datasets": []any{map[string]any{
			"name": "orders", "source": "db.sales.orders",
		}},
	})
}

func TestModelStoreUpdateDocument(t *testing.T) {
	s := NewMemoryModelStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &SemanticModel{ID: "m1", Document: validDoc()}))

	doc := validDoc()
	report, err := s.UpdateDocument(ctx, "m1", doc)
	require.NoError(t, err)
	require.True(t, report.IsValid)

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Stats.TableCount)
}

func TestModelStoreUpdateDocumentRejectsFatals(t *testing.T) {
	s := NewMemoryModelStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &SemanticModel{ID: "m1", Document: validDoc()}))

	bad := osi.NewDocument(map[string]any{"name": "broken"}) // no datasets
	report, err := s.UpdateDocument(ctx, "m1", bad)
	require.ErrorIs(t, err, ErrInvalidDocument)
	require.False(t, report.IsValid)
	require.NotEmpty(t, report.FatalIssues)

	// the stored document is untouched
	got, _ := s.Get(ctx, "m1")
	stats := osi.ComputeModelStats(got.Document)
	require.Equal(t, 1, stats.TableCount)
}

func TestModelStoreUpdateDoesNotMutateCaller(t *testing.T) {
	s := NewMemoryModelStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &SemanticModel{ID: "m1", Document: validDoc()}))

	doc := osi.NewDocument(map[string]any{
		"name": "m",
		"datasets": []any{map[string]any{
			"name": "orders", "source": "db.sales.orders",
			"ai_context": "a bare string", // repairable
		}},
	})
	_, err := s.UpdateDocument(ctx, "m1", doc)
	require.NoError(t, err)

	// the caller's document still holds the string form; repair happened on
	// the stored clone
	model, _ := osi.Model(doc)
	ds := model["datasets"].([]any)[0].(map[string]any)
	require.Equal(t, "a bare string", ds["ai_context"])
}

func TestModelStoreDelete(t *testing.T) {
	s := NewMemoryModelStore()
	ctx := context.Background()
	require.ErrorIs(t, s.Delete(ctx, "nope"), ErrNotFound)

	require.NoError(t, s.Create(ctx, &SemanticModel{ID: "m1", Document: validDoc()}))
	require.NoError(t, s.Delete(ctx, "m1"))
	_, err := s.Get(ctx, "m1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunStatusPredicates(t *testing.T) {
	require.True(t, StatusPending.Cancellable())
	require.True(t, StatusPlanning.Cancellable())
	require.True(t, StatusExecuting.Cancellable())
	require.False(t, StatusCompleted.Cancellable())
	require.False(t, StatusFailed.Cancellable())
	require.False(t, StatusCancelled.Cancellable())

	require.True(t, StatusFailed.Deletable())
	require.True(t, StatusCancelled.Deletable())
	require.False(t, StatusPending.Deletable())
	require.False(t, StatusExecuting.Deletable())
	require.False(t, StatusCompleted.Deletable())
}

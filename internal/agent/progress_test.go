package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marinoscar/Knecta-sub001/internal/store"
)

func TestNotifierDeliversUpdates(t *testing.T) {
	runs := store.NewMemoryRunStore()
	require.NoError(t, runs.Create(context.Background(), &store.Run{ID: "run-1"}))

	n := NewNotifier(runs, 4)
	n.Publish("run-1", store.Progress{CurrentStep: stepDiscoverSchema, PercentComplete: 5})
	n.Publish("run-1", store.Progress{CurrentStep: stepPersistModel, PercentComplete: 100})
	n.Close()

	got, err := runs.Get(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, got.Progress)
	require.Equal(t, stepPersistModel, got.Progress.CurrentStep)
	require.Equal(t, 100, got.Progress.PercentComplete)
}

// gatedStore blocks progress writes until released, so the queue can be
// filled deterministically.
type gatedStore struct {
	*store.MemoryRunStore
	gate chan struct{}
}

func (g *gatedStore) UpdateProgress(ctx context.Context, id string, p store.Progress) error {
	<-g.gate
	return g.MemoryRunStore.UpdateProgress(ctx, id, p)
}

func TestNotifierNeverBlocksPublisher(t *testing.T) {
	runs := &gatedStore{MemoryRunStore: store.NewMemoryRunStore(), gate: make(chan struct{})}
	require.NoError(t, runs.Create(context.Background(), &store.Run{ID: "run-1"}))

	n := NewNotifier(runs, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			n.Publish("run-1", store.Progress{PercentComplete: i * 10})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	close(runs.gate)
	n.Close()
}

func TestNotifierSurvivesMissingRun(t *testing.T) {
	runs := store.NewMemoryRunStore()
	n := NewNotifier(runs, 2)
	n.Publish("no-such-run", store.Progress{PercentComplete: 10})
	n.Close() // the failed write is logged, not raised
}

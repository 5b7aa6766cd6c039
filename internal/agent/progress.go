package agent

import (
	"context"
	"log"
	"time"

	"github.com/marinoscar/Knecta-sub001/internal/store"
)

// publishTimeout bounds a single progress write so a stuck store cannot
// wedge the notifier goroutine.
const publishTimeout = 5 * time.Second

type progressUpdate struct {
	runID    string
	progress store.Progress
}

// Notifier pushes run progress to the store from a dedicated goroutine.
// Publishing never blocks the pipeline: when the queue is full the update is
// dropped, and write failures are logged and otherwise ignored.
type Notifier struct {
	sink store.RunStore
	ch   chan progressUpdate
	done chan struct{}
}

// NewNotifier starts a notifier with the given queue depth (minimum 1).
func NewNotifier(sink store.RunStore, buffer int) *Notifier {
	if buffer < 1 {
		buffer = 1
	}
	n := &Notifier{
		sink: sink,
		ch:   make(chan progressUpdate, buffer),
		done: make(chan struct{}),
	}
	go n.loop()
	return n
}

// Publish enqueues a progress update, dropping it when the queue is full.
func (n *Notifier) Publish(runID string, p store.Progress) {
	select {
	case n.ch <- progressUpdate{runID: runID, progress: p}:
	default:
		log.Printf("progress: queue full, dropping update for run %s", runID)
	}
}

// Close stops accepting updates, flushes the queue, and waits for the
// notifier goroutine to exit.
func (n *Notifier) Close() {
	close(n.ch)
	<-n.done
}

func (n *Notifier) loop() {
	defer close(n.done)
	for u := range n.ch {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := n.sink.UpdateProgress(ctx, u.runID, u.progress); err != nil {
			log.Printf("progress: update failed for run %s: %v", u.runID, err)
		}
		cancel()
	}
}

// Package limit provides a small admission-control primitive: at most n tasks
// run at once, and queued tasks start strictly in submission order. It is the
// backpressure mechanism in front of per-table LLM calls.
package limit

import (
	"context"
	"fmt"
	"sync"
)

// Limiter bounds concurrent execution to a fixed width. Slot availability, not
// priority, governs scheduling: waiters are granted slots first-come first-served.
type Limiter struct {
	mu      sync.Mutex
	width   int
	active  int
	waiters []chan struct{}
}

// New returns a limiter of the given width (minimum 1).
func New(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{width: n}
}

// Acquire blocks until a slot is free or ctx is done. Callers must Release
// exactly once per successful Acquire.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.active < l.width {
		l.active++
		l.mu.Unlock()
		return nil
	}
	grant := make(chan struct{}, 1)
	l.waiters = append(l.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == grant {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// The grant raced with cancellation; pass the slot on.
		<-grant
		l.Release()
		return ctx.Err()
	}
}

// Release frees a slot, handing it directly to the oldest waiter if any.
func (l *Limiter) Release() {
	l.mu.Lock()
	if len(l.waiters) > 0 {
		grant := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.mu.Unlock()
		grant <- struct{}{}
		return
	}
	l.active--
	l.mu.Unlock()
}

// Do runs task under the limiter. The task's own error (or panic, rethrown
// after the slot is released) never poisons the queue: other queued tasks
// still run.
func (l *Limiter) Do(ctx context.Context, task func() error) error {
	if task == nil {
		return fmt.Errorf("limit: task is nil")
	}
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()
	return task()
}

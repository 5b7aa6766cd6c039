package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/marinoscar/Knecta-sub001/internal/osi"
)

// MemoryRunStore is an in-process RunStore used by tests and the CLI's
// offline mode. Status transitions follow the same conditional rules as the
// Postgres store.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: map[string]*Run{}}
}

func (s *MemoryRunStore) Create(ctx context.Context, run *Run) error {
	if run == nil || strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("store: run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("store: run %s already exists", run.ID)
	}
	now := time.Now()
	cp := *run
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryRunStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryRunStore) Claim(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return false, ErrNotFound
	}
	if run.Status != StatusPending {
		return false, nil
	}
	run.Status = StatusExecuting
	run.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryRunStore) UpdateProgress(ctx context.Context, id string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	cp := p
	run.Progress = &cp
	run.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryRunStore) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if !run.Status.Cancellable() {
		return ErrNotCancellable
	}
	run.Status = StatusCancelled
	run.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryRunStore) MarkFailed(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.Status = StatusFailed
	run.ErrorMessage = message
	run.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryRunStore) MarkCompleted(ctx context.Context, id, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	run.Status = StatusCompleted
	run.SemanticModelID = modelID
	run.CompletedAt = &now
	run.UpdatedAt = now
	return nil
}

func (s *MemoryRunStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if !run.Status.Deletable() {
		return ErrNotTerminal
	}
	delete(s.runs, id)
	return nil
}

// MemoryModelStore is an in-process ModelStore.
type MemoryModelStore struct {
	mu     sync.Mutex
	models map[string]*SemanticModel
}

func NewMemoryModelStore() *MemoryModelStore {
	return &MemoryModelStore{models: map[string]*SemanticModel{}}
}

func (s *MemoryModelStore) Create(ctx context.Context, m *SemanticModel) error {
	if m == nil || strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("store: model id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	cp := *m
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.models[m.ID] = &cp
	return nil
}

func (s *MemoryModelStore) Get(ctx context.Context, id string) (*SemanticModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryModelStore) UpdateDocument(ctx context.Context, id string, doc osi.Document) (osi.Report, error) {
	clone, report, err := revalidate(doc)
	if err != nil {
		return report, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[id]
	if !ok {
		return report, ErrNotFound
	}
	m.Document = clone
	m.Stats = osi.ComputeModelStats(clone)
	m.UpdatedAt = time.Now()
	return report, nil
}

func (s *MemoryModelStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return ErrNotFound
	}
	delete(s.models, id)
	return nil
}

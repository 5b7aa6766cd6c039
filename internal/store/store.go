// Package store persists semantic-model runs and the models they produce.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/osi"
)

var (
	// ErrNotFound is returned when a run or model does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotTerminal is returned when deleting a run that is not failed or
	// cancelled.
	ErrNotTerminal = errors.New("store: run is not in a terminal deletable state")
	// ErrNotCancellable is returned when cancelling a run that already
	// reached a terminal state.
	ErrNotCancellable = errors.New("store: run cannot be cancelled from its current status")
	// ErrInvalidDocument is returned when a model update fails structural
	// validation.
	ErrInvalidDocument = errors.New("store: semantic model document is invalid")
)

// RunStatus is the lifecycle state of a generation run.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusPlanning  RunStatus = "planning"
	StatusExecuting RunStatus = "executing"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Deletable reports whether a run in this status may be deleted.
func (s RunStatus) Deletable() bool {
	return s == StatusFailed || s == StatusCancelled
}

// Cancellable reports whether a run in this status may be cancelled.
func (s RunStatus) Cancellable() bool {
	return s == StatusPending || s == StatusPlanning || s == StatusExecuting
}

// Progress is the progress document written onto a run while it executes.
type Progress struct {
	CurrentStep      string         `json:"currentStep"`
	CurrentStepLabel string         `json:"currentStepLabel"`
	CompletedTables  int            `json:"completedTables"`
	TotalTables      int            `json:"totalTables"`
	FailedTables     []string       `json:"failedTables"`
	PercentComplete  int            `json:"percentComplete"`
	TokensUsed       llm.TokenUsage `json:"tokensUsed"`
	PartialModel     osi.Document   `json:"partialModel,omitempty"`
	Steps            []string       `json:"steps,omitempty"`
}

// Run is one execution of the generation pipeline.
type Run struct {
	ID              string     `json:"id"`
	ConnectionID    string     `json:"connectionId"`
	UserID          string     `json:"userId"`
	DatabaseName    string     `json:"databaseName"`
	SelectedSchemas []string   `json:"selectedSchemas"`
	SelectedTables  []string   `json:"selectedTables"`
	ModelName       string     `json:"modelName,omitempty"`
	Instructions    string     `json:"instructions,omitempty"`
	Status          RunStatus  `json:"status"`
	Progress        *Progress  `json:"progress,omitempty"`
	SemanticModelID string     `json:"semanticModelId,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// SemanticModel is a persisted OSI document plus summary metadata.
type SemanticModel struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connectionId"`
	UserID       string         `json:"userId"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Stats        osi.ModelStats `json:"stats"`
	Document     osi.Document   `json:"document"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// RunStore persists runs. Claim is the only compare-and-swap style operation:
// exactly one concurrent caller wins the pending→executing transition.
type RunStore interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	// Claim atomically moves a pending run to executing. It returns false
	// when the run exists but was not pending (already claimed, cancelled…).
	Claim(ctx context.Context, id string) (bool, error)
	// UpdateProgress overwrites the run's progress document. Callers treat
	// failures as best-effort; see agent's progress notifier.
	UpdateProgress(ctx context.Context, id string, p Progress) error
	// Cancel requests cooperative cancellation; allowed only from
	// pending/planning/executing.
	Cancel(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, message string) error
	// MarkCompleted links the run to the persisted model and stamps
	// completion time.
	MarkCompleted(ctx context.Context, id, modelID string) error
	// Delete removes a run; only failed or cancelled runs may be deleted.
	Delete(ctx context.Context, id string) error
}

// ModelStore persists semantic models.
type ModelStore interface {
	Create(ctx context.Context, m *SemanticModel) error
	Get(ctx context.Context, id string) (*SemanticModel, error)
	// UpdateDocument replaces a model's document after revalidating a clone
	// of it; fatally-invalid documents are rejected with ErrInvalidDocument
	// and the returned report lists the issues.
	UpdateDocument(ctx context.Context, id string, doc osi.Document) (osi.Report, error)
	Delete(ctx context.Context, id string) error
}

// revalidate clones and validates a document for the manual-edit update path.
// The caller's document is never mutated; the repaired clone is returned.
func revalidate(doc osi.Document) (osi.Document, osi.Report, error) {
	clone, err := osi.CloneDocument(doc)
	if err != nil {
		return nil, osi.Report{}, err
	}
	report := osi.ValidateAndFix(clone)
	if !report.IsValid {
		return nil, report, ErrInvalidDocument
	}
	return clone, report, nil
}

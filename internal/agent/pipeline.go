package agent

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
	"github.com/marinoscar/Knecta-sub001/internal/limit"
	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/store"
	"github.com/marinoscar/Knecta-sub001/internal/util/jsonutil"
)

var (
	// ErrNotClaimed means another worker already claimed the run, or it is
	// no longer pending.
	ErrNotClaimed = errors.New("agent: run is not claimable")
	// ErrCancelled means the run was cancelled by the user; the pipeline
	// stopped at a node boundary and the run keeps its cancelled status.
	ErrCancelled = errors.New("agent: run cancelled")
)

// Pipeline step identifiers, in execution order.
const (
	stepDiscoverSchema        = "discover_schema"
	stepGenerateDatasets      = "generate_datasets"
	stepGenerateRelationships = "generate_relationships"
	stepAssembleModel         = "assemble_model"
	stepPersistModel          = "persist_model"
)

var pipelineSteps = []string{
	stepDiscoverSchema,
	stepGenerateDatasets,
	stepGenerateRelationships,
	stepAssembleModel,
	stepPersistModel,
}

// Config tunes pipeline behavior. Zero values fall back to defaults.
type Config struct {
	// Concurrency bounds in-flight dataset generations per run.
	Concurrency int
	// RetryTemperature is used for the single empty-relationships retry.
	RetryTemperature float32
	// SampleLimit caps sampled values fetched per column.
	SampleLimit int
	// ProgressBuffer sizes the progress notifier queue.
	ProgressBuffer int
	// OSISpecText, when set, is embedded verbatim in generation prompts.
	OSISpecText string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.RetryTemperature <= 0 {
		c.RetryTemperature = 0.2
	}
	if c.SampleLimit <= 0 {
		c.SampleLimit = 5
	}
	if c.ProgressBuffer <= 0 {
		c.ProgressBuffer = 16
	}
	return c
}

// Snapshotter writes an artifact snapshot of a freshly persisted model; the
// export package implements it. Snapshot failures never fail the run.
type Snapshotter interface {
	Export(ctx context.Context, m *store.SemanticModel) error
}

// Pipeline executes semantic-model generation runs end to end.
type Pipeline struct {
	runs     store.RunStore
	models   store.ModelStore
	intro    discovery.Introspector
	model    llm.ChatModel
	lim      *limit.Limiter
	notifier *Notifier
	snapshot Snapshotter // optional
	cfg      Config
}

// WithSnapshotter enables best-effort artifact snapshots after persistence.
func (p *Pipeline) WithSnapshotter(s Snapshotter) *Pipeline {
	p.snapshot = s
	return p
}

// NewPipeline wires a pipeline over its stores, database introspector and
// chat model. Call Close when done to flush pending progress updates.
func NewPipeline(runs store.RunStore, models store.ModelStore, intro discovery.Introspector, model llm.ChatModel, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		runs:     runs,
		models:   models,
		intro:    intro,
		model:    model,
		lim:      limit.New(cfg.Concurrency),
		notifier: NewNotifier(runs, cfg.ProgressBuffer),
		cfg:      cfg,
	}
}

// Close flushes and stops the progress notifier.
func (p *Pipeline) Close() {
	p.notifier.Close()
}

// Execute claims and runs one generation run to a terminal state. It returns
// ErrNotClaimed when the run was not pending, ErrCancelled when the user
// cancelled mid-flight, and otherwise the error that failed the run (already
// recorded on it via MarkFailed).
func (p *Pipeline) Execute(ctx context.Context, runID string) error {
	claimed, err := p.runs.Claim(ctx, runID)
	if err != nil {
		return fmt.Errorf("claim run %s: %w", runID, err)
	}
	if !claimed {
		return ErrNotClaimed
	}

	run, err := p.runs.Get(ctx, runID)
	if err != nil {
		return p.fail(ctx, runID, fmt.Errorf("load run: %w", err))
	}
	st := stateFromRun(run, p.cfg.OSISpecText)

	// discover
	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}
	p.publish(st, stepDiscoverSchema, "Discovering schema", 5)
	fks, err := p.intro.ForeignKeys(ctx, st.SelectedSchemas)
	if err != nil {
		// relationships degrade to name matching when constraints are
		// unavailable
		log.Printf("run %s: foreign-key discovery failed: %v", runID, err)
		fks = nil
	}
	st = Reduce(st, Delta{ForeignKeys: fks})

	// per-table datasets
	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}
	st = Reduce(st, p.generateDatasets(ctx, st))
	st = Reduce(st, Delta{Candidates: dedupeCandidates(append(
		constraintCandidates(st.ForeignKeys, st.SelectedTables),
		nameMatchCandidates(st.ColumnsByTable)...,
	))})

	// relationships and model metrics
	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}
	p.publish(st, stepGenerateRelationships, "Generating relationships", 75)
	st = Reduce(st, p.generateRelationships(ctx, st))

	// assemble
	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}
	p.publish(st, stepAssembleModel, "Assembling model", 90)
	st = Reduce(st, assembleModel(st))

	// persist
	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}
	p.publish(st, stepPersistModel, "Saving model", 95)
	pd, err := p.persistModel(ctx, st)
	st = Reduce(st, pd)
	if err != nil {
		return p.fail(ctx, runID, err)
	}

	if err := p.runs.MarkCompleted(ctx, runID, st.SemanticModelID); err != nil {
		return fmt.Errorf("mark run %s completed: %w", runID, err)
	}
	p.publish(st, stepPersistModel, "Completed", 100)
	return nil
}

// checkCancelled is the cooperative cancellation point between nodes.
func (p *Pipeline) checkCancelled(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run, err := p.runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("check run %s: %w", runID, err)
	}
	if run.Status == store.StatusCancelled {
		return ErrCancelled
	}
	return nil
}

// fail marks the run failed with the error message and passes the error
// through.
func (p *Pipeline) fail(ctx context.Context, runID string, cause error) error {
	if err := p.runs.MarkFailed(ctx, runID, cause.Error()); err != nil {
		log.Printf("run %s: recording failure: %v", runID, err)
	}
	return cause
}

func (p *Pipeline) publish(st State, step, label string, percent int) {
	p.notifier.Publish(st.RunID, store.Progress{
		CurrentStep:      step,
		CurrentStepLabel: label,
		CompletedTables:  len(st.Datasets) + len(st.FailedTables),
		TotalTables:      len(st.SelectedTables),
		FailedTables:     st.FailedTables,
		PercentComplete:  percent,
		TokensUsed:       st.TokensUsed,
		PartialModel:     st.SemanticModel,
		Steps:            pipelineSteps,
	})
}

func stateFromRun(run *store.Run, osiSpecText string) State {
	return State{
		RunID:           run.ID,
		ConnectionID:    run.ConnectionID,
		UserID:          run.UserID,
		DatabaseName:    run.DatabaseName,
		SelectedSchemas: run.SelectedSchemas,
		SelectedTables:  run.SelectedTables,
		ModelName:       run.ModelName,
		Instructions:    run.Instructions,
		OSISpecText:     osiSpecText,
	}
}

// jsonMap extracts the first JSON object from model output.
func jsonMap(text string) map[string]any {
	return jsonutil.ExtractJSONMap(text)
}

// objectList narrows a decoded JSON array to its object elements.
func objectList(v any) []map[string]any {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// anyList widens a []map back to []any for JSON-shaped document storage.
func anyList(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

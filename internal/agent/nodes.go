package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marinoscar/Knecta-sub001/internal/discovery"
	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/osi"
	"github.com/marinoscar/Knecta-sub001/internal/store"
)

// ErrNoModel is returned by the persist node when nothing survived the
// earlier nodes: there is no document to save, so the run fails.
var ErrNoModel = errors.New("agent: no semantic model was produced")

// relationshipsSchema constrains structured relationship generation. Models
// that cannot honor a response schema fall back to free-text JSON.
var relationshipsSchema = llm.Schema{
	"type": "object",
	"properties": map[string]any{
		"relationships": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":         map[string]any{"type": "string"},
					"from":         map[string]any{"type": "string"},
					"to":           map[string]any{"type": "string"},
					"from_columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"to_columns":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"cardinality":  map[string]any{"type": "string"},
				},
				"required": []string{"name", "from", "to", "from_columns", "to_columns"},
			},
		},
		"model_metrics": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":       map[string]any{"type": "string"},
					"expression": map[string]any{"type": "string"},
				},
				"required": []string{"name", "expression"},
			},
		},
		"model_ai_context": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"synonyms":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"instructions": map[string]any{"type": "string"},
			},
		},
	},
	"required": []string{"relationships", "model_metrics", "model_ai_context"},
}

// tableResult is the per-table outcome slot for the dataset node. Slots keep
// results aligned with the selection order regardless of completion order.
type tableResult struct {
	dataset map[string]any
	metrics []map[string]any
	columns []discovery.Column
	tokens  llm.TokenUsage
	err     error
}

// generateDatasets runs one dataset generation per selected table, bounded
// by the limiter. A failed table is recorded and skipped; the run proceeds
// with whatever succeeded.
func (p *Pipeline) generateDatasets(ctx context.Context, st State) Delta {
	slots := make([]tableResult, len(st.SelectedTables))
	var completed atomic.Int64

	var wg sync.WaitGroup
	for i, name := range st.SelectedTables {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			err := p.lim.Do(ctx, func() error {
				slots[i] = p.generateOneDataset(ctx, st, name)
				return slots[i].err
			})
			if err != nil && slots[i].err == nil {
				slots[i].err = err
			}
			done := int(completed.Add(1))
			p.notifier.Publish(st.RunID, store.Progress{
				CurrentStep:      stepGenerateDatasets,
				CurrentStepLabel: fmt.Sprintf("Generating dataset for %s", name),
				CompletedTables:  done,
				TotalTables:      len(st.SelectedTables),
				PercentComplete:  10 + 60*done/len(st.SelectedTables),
				Steps:            pipelineSteps,
			})
		}(i, name)
	}
	wg.Wait()

	d := Delta{ColumnsByTable: make(map[string][]discovery.Column)}
	for i, res := range slots {
		if res.columns != nil {
			d.ColumnsByTable[st.SelectedTables[i]] = res.columns
		}
		d.Tokens.Add(res.tokens)
		if res.err != nil {
			log.Printf("run %s: table %s failed: %v", st.RunID, st.SelectedTables[i], res.err)
			d.FailedTables = append(d.FailedTables, st.SelectedTables[i])
			continue
		}
		d.Datasets = append(d.Datasets, res.dataset)
		d.TableMetrics = append(d.TableMetrics, res.metrics)
	}
	return d
}

func (p *Pipeline) generateOneDataset(ctx context.Context, st State, table string) tableResult {
	var res tableResult

	ref, err := discovery.ParseTableRef(table)
	if err != nil {
		res.err = err
		return res
	}
	res.columns, err = p.intro.Columns(ctx, ref)
	if err != nil {
		res.err = fmt.Errorf("introspect %s: %w", table, err)
		return res
	}
	samples, err := p.intro.SampleValues(ctx, ref, p.cfg.SampleLimit)
	if err != nil {
		// sample data is an enrichment, not a requirement
		log.Printf("run %s: sampling %s failed: %v", st.RunID, table, err)
		samples = nil
	}

	prompt := BuildGenerateDatasetPrompt(DatasetPromptParams{
		DatabaseName: st.DatabaseName,
		Table:        ref,
		Columns:      res.columns,
		Samples:      samples,
		Instructions: st.Instructions,
		OSISpecText:  st.OSISpecText,
	})
	resp, err := p.model.Invoke(ctx, llm.UserMessage(prompt))
	res.tokens = resp.Usage
	if err != nil {
		res.err = fmt.Errorf("generate dataset for %s: %w", table, err)
		return res
	}

	parsed := jsonMap(resp.Content)
	if parsed == nil {
		res.err = fmt.Errorf("generate dataset for %s: response is not a JSON object", table)
		return res
	}
	dataset, ok := parsed["dataset"].(map[string]any)
	if !ok {
		res.err = fmt.Errorf("generate dataset for %s: response has no dataset object", table)
		return res
	}
	osi.InjectFieldDataTypes(dataset, res.columns, samples)

	res.dataset = dataset
	res.metrics = objectList(parsed["metrics"])
	return res
}

// generateRelationships asks the model for relationships and model-level
// metrics in one shot. When foreign-key candidates existed but the model
// returned none, it retries once at the configured temperature. Invoke
// failures and unparseable answers count as empty output; the run proceeds
// with zero relationships rather than failing here. Progress goes out after
// every attempt.
func (p *Pipeline) generateRelationships(ctx context.Context, st State) Delta {
	if len(st.Datasets) == 0 {
		return Delta{}
	}

	summaries := datasetSummaries(st.Datasets)
	filtered := FilterCandidates(st.Candidates, summaries)
	prompt := BuildGenerateRelationshipsPrompt(RelationshipsPromptParams{
		DatabaseName: st.DatabaseName,
		ModelName:    modelName(st),
		Datasets:     summaries,
		Candidates:   st.Candidates,
		Instructions: st.Instructions,
		OSISpecText:  st.OSISpecText,
	})

	var d Delta
	rels, metrics, aiCtx, tokens, err := p.invokeRelationships(ctx, p.model, prompt)
	d.Tokens.Add(tokens)
	if err != nil {
		log.Printf("run %s: relationship generation yielded no usable output: %v", st.RunID, err)
		rels, metrics, aiCtx = nil, nil, nil
	}
	p.publish(Reduce(st, d), stepGenerateRelationships, "Generating relationships", 80)

	if len(rels) == 0 && len(filtered) > 0 {
		retryModel := p.model
		if binder, ok := p.model.(llm.TemperatureBinder); ok {
			retryModel = binder.WithTemperature(p.cfg.RetryTemperature)
		}
		rels, metrics, aiCtx, tokens, err = p.invokeRelationships(ctx, retryModel, prompt)
		d.Tokens.Add(tokens)
		if err != nil {
			log.Printf("run %s: relationship retry yielded no usable output: %v", st.RunID, err)
			rels, metrics, aiCtx = nil, nil, nil
		}
		p.publish(Reduce(st, d), stepGenerateRelationships, "Generating relationships", 85)
		if len(rels) == 0 {
			log.Printf("run %s: %d foreign-key candidates but no relationships generated", st.RunID, len(filtered))
		}
	}

	osi.InjectRelationshipDataTypes(rels, st.Datasets)
	d.Relationships = rels
	d.ModelMetrics = metrics
	d.ModelAiContext = aiCtx
	return d
}

func (p *Pipeline) invokeRelationships(ctx context.Context, model llm.ChatModel, prompt string) (rels, metrics []map[string]any, aiCtx map[string]any, tokens llm.TokenUsage, err error) {
	msgs := llm.UserMessage(prompt)

	var resp llm.Response
	if si, ok := model.(llm.StructuredInvoker); ok {
		resp, err = si.InvokeStructured(ctx, msgs, relationshipsSchema)
		if err != nil {
			log.Printf("structured relationship generation failed, retrying free-form: %v", err)
			resp, err = model.Invoke(ctx, msgs)
		}
	} else {
		resp, err = model.Invoke(ctx, msgs)
	}
	tokens = resp.Usage
	if err != nil {
		return nil, nil, nil, tokens, fmt.Errorf("generate relationships: %w", err)
	}

	parsed := jsonMap(resp.Content)
	if parsed == nil {
		return nil, nil, nil, tokens, errors.New("generate relationships: response is not a JSON object")
	}
	rels = objectList(parsed["relationships"])
	metrics = objectList(parsed["model_metrics"])
	aiCtx, _ = parsed["model_ai_context"].(map[string]any)
	return rels, metrics, aiCtx, tokens, nil
}

// assembleModel merges accumulated pieces into a single OSI document. Table
// metrics keep dataset order and precede model-level metrics. With no
// surviving datasets there is nothing to assemble and the delta stays empty.
func assembleModel(st State) Delta {
	if len(st.Datasets) == 0 {
		return Delta{}
	}

	metrics := make([]map[string]any, 0, len(st.ModelMetrics))
	for _, tm := range st.TableMetrics {
		metrics = append(metrics, tm...)
	}
	metrics = append(metrics, st.ModelMetrics...)

	aiCtx := st.ModelAiContext
	if aiCtx == nil {
		aiCtx = map[string]any{}
	}
	model := map[string]any{
		"name":          modelName(st),
		"description":   fmt.Sprintf("Semantic model generated from %d table(s) in %s", len(st.Datasets), st.DatabaseName),
		"datasets":      anyList(st.Datasets),
		"relationships": anyList(st.Relationships),
		"metrics":       anyList(metrics),
		"ai_context":    aiCtx,
	}
	return Delta{SemanticModel: osi.NewDocument(model)}
}

// persistModel validates and repairs the assembled document, saves it, and
// returns the new model's ID.
func (p *Pipeline) persistModel(ctx context.Context, st State) (Delta, error) {
	if st.SemanticModel == nil {
		return Delta{}, ErrNoModel
	}

	report := osi.ValidateAndFix(st.SemanticModel)
	if !report.IsValid {
		return Delta{}, fmt.Errorf("agent: assembled model is invalid: %s", strings.Join(report.FatalIssues, "; "))
	}
	for _, w := range report.Warnings {
		log.Printf("run %s: model warning: %s", st.RunID, w)
	}

	m := &store.SemanticModel{
		ID:           uuid.NewString(),
		ConnectionID: st.ConnectionID,
		UserID:       st.UserID,
		Name:         modelName(st),
		Description:  descriptionOf(st.SemanticModel),
		Stats:        osi.ComputeModelStats(st.SemanticModel),
		Document:     st.SemanticModel,
		Status:       "draft",
	}
	if err := p.models.Create(ctx, m); err != nil {
		return Delta{}, fmt.Errorf("persist model: %w", err)
	}
	if p.snapshot != nil {
		if err := p.snapshot.Export(ctx, m); err != nil {
			log.Printf("run %s: artifact snapshot for model %s failed: %v", st.RunID, m.ID, err)
		}
	}
	return Delta{SemanticModelID: m.ID}, nil
}

func modelName(st State) string {
	if strings.TrimSpace(st.ModelName) != "" {
		return st.ModelName
	}
	return "Model for " + st.DatabaseName
}

func descriptionOf(doc osi.Document) string {
	if model, ok := osi.Model(doc); ok {
		if s, ok := model["description"].(string); ok {
			return s
		}
	}
	return ""
}

// datasetSummaries projects generated datasets into the compact form shown
// to the relationship prompt.
func datasetSummaries(datasets []map[string]any) []DatasetSummary {
	out := make([]DatasetSummary, 0, len(datasets))
	for _, ds := range datasets {
		s := DatasetSummary{}
		s.Name, _ = ds["name"].(string)
		s.Source, _ = ds["source"].(string)
		for _, f := range objectList(ds["fields"]) {
			if name, ok := f["name"].(string); ok {
				s.Columns = append(s.Columns, name)
			}
		}
		out = append(out, s)
	}
	return out
}

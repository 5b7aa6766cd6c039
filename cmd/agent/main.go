// The agent binary runs one semantic-model generation end to end from the
// command line: it creates a run, executes the pipeline, and writes the
// resulting model as YAML.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/marinoscar/Knecta-sub001/internal/agent"
	"github.com/marinoscar/Knecta-sub001/internal/config"
	"github.com/marinoscar/Knecta-sub001/internal/discovery"
	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/osi"
	"github.com/marinoscar/Knecta-sub001/internal/store"
)

func main() {
	var (
		connection   = flag.String("connection", "local", "connection identifier recorded on the run")
		database     = flag.String("database", "", "source database name")
		schemas      = flag.String("schemas", "public", "comma-separated schemas to scan for foreign keys")
		tables       = flag.String("tables", "", "comma-separated schema.table selections")
		name         = flag.String("name", "", "model name (defaults to \"Model for <database>\")")
		instructions = flag.String("instructions", "", "business context embedded in prompts")
		out          = flag.String("out", "", "write the model YAML to this file instead of stdout")
	)
	// config.Load parses flags after overlaying .env
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *database == "" || *tables == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()

	if cfg.Database.SourceDSN == "" {
		log.Fatal("SOURCE_DATABASE_DSN is required")
	}
	pg, err := discovery.NewPostgres(ctx, cfg.Database.SourceDSN)
	if err != nil {
		log.Fatalf("Failed to connect to source database: %v", err)
	}
	defer pg.Close()
	intro, err := discovery.NewCached(pg, cfg.Agent.CacheSize)
	if err != nil {
		log.Fatalf("Failed to build schema cache: %v", err)
	}

	if cfg.Gemini.APIKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}
	model, err := llm.NewGeminiModel(ctx, llm.GeminiConfig{
		APIKey: cfg.Gemini.APIKey,
		Model:  cfg.Gemini.Model,
		RPS:    cfg.Gemini.RPS,
		Burst:  cfg.Gemini.Burst,
	})
	if err != nil {
		log.Fatalf("Failed to init Gemini client: %v", err)
	}
	defer model.Close()

	runs := store.NewMemoryRunStore()
	models := store.NewMemoryModelStore()

	run := &store.Run{
		ID:              uuid.NewString(),
		ConnectionID:    *connection,
		DatabaseName:    *database,
		SelectedSchemas: splitList(*schemas),
		SelectedTables:  splitList(*tables),
		ModelName:       *name,
		Instructions:    *instructions,
	}
	if err := runs.Create(ctx, run); err != nil {
		log.Fatalf("Failed to create run: %v", err)
	}

	pipeline := agent.NewPipeline(runs, models, intro, model, agent.Config{
		Concurrency:      cfg.Agent.Concurrency,
		RetryTemperature: float32(cfg.Agent.RetryTemperature),
		SampleLimit:      cfg.Agent.SampleLimit,
		OSISpecText:      readOptional(cfg.Agent.OSISpecPath),
	})

	err = pipeline.Execute(ctx, run.ID)
	pipeline.Close()
	if err != nil && !errors.Is(err, agent.ErrCancelled) {
		log.Fatalf("Run failed: %v", err)
	}

	final, err := runs.Get(ctx, run.ID)
	if err != nil {
		log.Fatalf("Failed to load run: %v", err)
	}
	if final.Progress != nil && len(final.Progress.FailedTables) > 0 {
		log.Printf("Tables skipped after generation failures: %s", strings.Join(final.Progress.FailedTables, ", "))
	}

	m, err := models.Get(ctx, final.SemanticModelID)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	y, err := osi.ToYAML(m.Document)
	if err != nil {
		log.Fatalf("Failed to render YAML: %v", err)
	}

	if *out == "" {
		fmt.Print(string(y))
		return
	}
	if err := os.WriteFile(*out, y, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}
	log.Printf("Model %s written to %s (%d datasets, %d relationships)",
		m.ID, *out, m.Stats.TableCount, m.Stats.RelationshipCount)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readOptional(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("Could not read OSI spec excerpt %s: %v", path, err)
		return ""
	}
	return string(data)
}

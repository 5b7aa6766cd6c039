// The api binary serves the semantic-model generation API: it accepts runs,
// executes them against the configured source database and Gemini model, and
// exposes the persisted models.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marinoscar/Knecta-sub001/internal/agent"
	"github.com/marinoscar/Knecta-sub001/internal/config"
	"github.com/marinoscar/Knecta-sub001/internal/discovery"
	"github.com/marinoscar/Knecta-sub001/internal/export"
	"github.com/marinoscar/Knecta-sub001/internal/llm"
	"github.com/marinoscar/Knecta-sub001/internal/server"
	"github.com/marinoscar/Knecta-sub001/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ctx := context.Background()

	runs, models := buildStores(cfg)
	intro := buildIntrospector(ctx, cfg)
	model := buildModel(ctx, cfg)

	pipeline := agent.NewPipeline(runs, models, intro, model, agent.Config{
		Concurrency:      cfg.Agent.Concurrency,
		RetryTemperature: float32(cfg.Agent.RetryTemperature),
		SampleLimit:      cfg.Agent.SampleLimit,
		OSISpecText:      loadOSISpec(cfg.Agent.OSISpecPath),
	})
	defer pipeline.Close()

	exporter := buildExporter(cfg)
	if exporter != nil {
		pipeline.WithSnapshotter(exporter)
	}

	srv := server.New(runs, models, pipeline, exporter)
	httpSrv := server.NewHTTPServer(cfg.Port, srv.Handler())

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting")
}

func buildStores(cfg *config.Config) (store.RunStore, store.ModelStore) {
	if cfg.Database.DSN == "" {
		log.Println("DATABASE_DSN not set; using in-memory stores (state is lost on restart)")
		return store.NewMemoryRunStore(), store.NewMemoryModelStore()
	}
	pg, err := store.NewPostgres(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to application database: %v", err)
	}
	return pg, store.NewPostgresModelStore(pg)
}

func buildIntrospector(ctx context.Context, cfg *config.Config) discovery.Introspector {
	if cfg.Database.SourceDSN == "" {
		log.Fatal("SOURCE_DATABASE_DSN is required")
	}
	pg, err := discovery.NewPostgres(ctx, cfg.Database.SourceDSN)
	if err != nil {
		log.Fatalf("Failed to connect to source database: %v", err)
	}
	cached, err := discovery.NewCached(pg, cfg.Agent.CacheSize)
	if err != nil {
		log.Fatalf("Failed to build schema cache: %v", err)
	}
	return cached
}

func buildModel(ctx context.Context, cfg *config.Config) llm.ChatModel {
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
	return model
}

func buildExporter(cfg *config.Config) *export.Exporter {
	if !cfg.Artifact.Enabled {
		return nil
	}
	s3, err := export.NewS3Store(export.S3Config{
		Endpoint:  cfg.Artifact.Endpoint,
		Region:    cfg.Artifact.Region,
		AccessKey: cfg.Artifact.AccessKey,
		SecretKey: cfg.Artifact.SecretKey,
		Bucket:    cfg.Artifact.Bucket,
		UseSSL:    cfg.Artifact.UseSSL,
	})
	if err != nil {
		log.Printf("Artifact storage disabled: %v", err)
		return nil
	}
	return export.NewExporter(s3)
}

func loadOSISpec(path string) string {
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

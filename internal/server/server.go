// Package server exposes the run and model APIs over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/marinoscar/Knecta-sub001/internal/agent"
	"github.com/marinoscar/Knecta-sub001/internal/export"
	"github.com/marinoscar/Knecta-sub001/internal/osi"
	"github.com/marinoscar/Knecta-sub001/internal/store"
)

// Runner executes a claimed generation run to a terminal state; the agent
// pipeline implements it.
type Runner interface {
	Execute(ctx context.Context, runID string) error
}

type Server struct {
	runs     store.RunStore
	models   store.ModelStore
	runner   Runner
	exporter *export.Exporter // nil when artifact storage is disabled
}

func New(runs store.RunStore, models store.ModelStore, runner Runner, exporter *export.Exporter) *Server {
	return &Server{runs: runs, models: models, runner: runner, exporter: exporter}
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", s.createRun)
		r.Get("/runs/{id}", s.getRun)
		r.Post("/runs/{id}/cancel", s.cancelRun)
		r.Delete("/runs/{id}", s.deleteRun)

		r.Get("/models/{id}", s.getModel)
		r.Put("/models/{id}", s.updateModel)
		r.Delete("/models/{id}", s.deleteModel)
		r.Get("/models/{id}/export", s.exportModel)
		r.Post("/models/{id}/artifacts", s.publishArtifacts)
		r.Get("/models/{id}/artifacts", s.listArtifacts)
		r.Get("/models/{id}/artifacts/{name}", s.getArtifact)
	})

	return r
}

type createRunRequest struct {
	ConnectionID    string   `json:"connectionId"`
	UserID          string   `json:"userId"`
	DatabaseName    string   `json:"databaseName"`
	SelectedSchemas []string `json:"selectedSchemas"`
	SelectedTables  []string `json:"selectedTables"`
	ModelName       string   `json:"modelName"`
	Instructions    string   `json:"instructions"`
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ConnectionID) == "" {
		writeError(w, http.StatusBadRequest, "connectionId is required")
		return
	}
	if strings.TrimSpace(req.DatabaseName) == "" {
		writeError(w, http.StatusBadRequest, "databaseName is required")
		return
	}
	if len(req.SelectedTables) == 0 {
		writeError(w, http.StatusBadRequest, "selectedTables must not be empty")
		return
	}

	run := &store.Run{
		ID:              uuid.NewString(),
		ConnectionID:    req.ConnectionID,
		UserID:          req.UserID,
		DatabaseName:    req.DatabaseName,
		SelectedSchemas: req.SelectedSchemas,
		SelectedTables:  req.SelectedTables,
		ModelName:       req.ModelName,
		Instructions:    req.Instructions,
	}
	if err := s.runs.Create(r.Context(), run); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// the run executes detached from the request
	go func(id string) {
		if err := s.runner.Execute(context.Background(), id); err != nil &&
			!errors.Is(err, agent.ErrCancelled) && !errors.Is(err, agent.ErrNotClaimed) {
			log.Printf("run %s failed: %v", id, err)
		}
	}(run.ID)

	created, err := s.runs.Get(r.Context(), run.ID)
	if err != nil {
		created = run
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runs.Cancel(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateModel(w http.ResponseWriter, r *http.Request) {
	var doc osi.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := s.models.UpdateDocument(r.Context(), chi.URLParam(r, "id"), doc)
	if err != nil {
		if errors.Is(err, store.ErrInvalidDocument) {
			writeJSON(w, http.StatusUnprocessableEntity, report)
			return
		}
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := s.models.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.models.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "yaml"
	}
	switch format {
	case "yaml":
		body, err := export.RenderYAML(m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(body)
	case "json":
		body, err := export.RenderJSON(m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	default:
		writeError(w, http.StatusBadRequest, "format must be yaml or json")
	}
}

func (s *Server) publishArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact storage is not configured")
		return
	}
	m, err := s.models.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.exporter.Export(r.Context(), m); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{
		"artifacts": {export.YAMLArtifact, export.JSONArtifact},
	})
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact storage is not configured")
		return
	}
	names, err := s.exporter.Artifacts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"artifacts": names})
}

// getArtifact serves the stored artifact bytes; ?presign=1 returns a
// time-limited download link instead.
func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "artifact storage is not configured")
		return
	}
	id, name := chi.URLParam(r, "id"), chi.URLParam(r, "name")

	if r.URL.Query().Get("presign") != "" {
		u, err := s.exporter.DownloadURL(r.Context(), id, name)
		if err != nil {
			writeArtifactError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": u})
		return
	}

	data, contentType, err := s.exporter.Artifact(r.Context(), id, name)
	if err != nil {
		writeArtifactError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func writeArtifactError(w http.ResponseWriter, err error) {
	if errors.Is(err, export.ErrNotFound) {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNotTerminal), errors.Is(err, store.ErrNotCancellable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

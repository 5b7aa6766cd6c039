package export

import (
	"context"
	"fmt"

	"github.com/marinoscar/Knecta-sub001/internal/osi"
	"github.com/marinoscar/Knecta-sub001/internal/store"
	"github.com/marinoscar/Knecta-sub001/internal/util/jsonutil"
)

// Artifact file names written per model.
const (
	YAMLArtifact = "model.yaml"
	JSONArtifact = "model.json"
)

// ObjectStore is the artifact storage surface the exporter needs; S3Store
// implements it.
type ObjectStore interface {
	Put(ctx context.Context, modelID, path, contentType string, content []byte) error
	Get(ctx context.Context, modelID, path string) ([]byte, error)
	List(ctx context.Context, modelID string) ([]string, error)
	GetURL(ctx context.Context, modelID, path string) (string, error)
}

// Exporter renders semantic models to their portable artifact formats.
type Exporter struct {
	objects ObjectStore
}

func NewExporter(objects ObjectStore) *Exporter {
	return &Exporter{objects: objects}
}

// RenderYAML serializes a model's document as YAML.
func RenderYAML(m *store.SemanticModel) ([]byte, error) {
	return osi.ToYAML(m.Document)
}

// RenderJSON serializes a model's document as indented JSON without HTML
// escaping, so SQL expressions like "a < b" survive verbatim.
func RenderJSON(m *store.SemanticModel) ([]byte, error) {
	return jsonutil.MarshalIndentNoEscape(m.Document)
}

// Export writes the YAML and JSON renderings of the model to object storage
// under the model's ID.
func (e *Exporter) Export(ctx context.Context, m *store.SemanticModel) error {
	y, err := RenderYAML(m)
	if err != nil {
		return fmt.Errorf("render yaml for model %s: %w", m.ID, err)
	}
	j, err := RenderJSON(m)
	if err != nil {
		return fmt.Errorf("render json for model %s: %w", m.ID, err)
	}
	if err := e.objects.Put(ctx, m.ID, YAMLArtifact, "application/yaml", y); err != nil {
		return fmt.Errorf("store yaml artifact for model %s: %w", m.ID, err)
	}
	if err := e.objects.Put(ctx, m.ID, JSONArtifact, "application/json", j); err != nil {
		return fmt.Errorf("store json artifact for model %s: %w", m.ID, err)
	}
	return nil
}

// Artifact fetches one stored artifact's bytes along with its content type.
func (e *Exporter) Artifact(ctx context.Context, modelID, artifact string) ([]byte, string, error) {
	contentType, err := artifactContentType(artifact)
	if err != nil {
		return nil, "", err
	}
	data, err := e.objects.Get(ctx, modelID, artifact)
	if err != nil {
		return nil, "", err
	}
	return data, contentType, nil
}

// Artifacts lists the artifact files stored for a model.
func (e *Exporter) Artifacts(ctx context.Context, modelID string) ([]string, error) {
	return e.objects.List(ctx, modelID)
}

// DownloadURL returns a presigned link for one of the model's artifacts.
func (e *Exporter) DownloadURL(ctx context.Context, modelID, artifact string) (string, error) {
	if _, err := artifactContentType(artifact); err != nil {
		return "", err
	}
	return e.objects.GetURL(ctx, modelID, artifact)
}

func artifactContentType(artifact string) (string, error) {
	switch artifact {
	case YAMLArtifact:
		return "application/yaml", nil
	case JSONArtifact:
		return "application/json", nil
	}
	return "", fmt.Errorf("export: unknown artifact %q", artifact)
}

package export

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/marinoscar/Knecta-sub001/internal/osi"
	"github.com/marinoscar/Knecta-sub001/internal/store"
)

type memObjects struct {
	data map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{data: map[string][]byte{}}
}

func (m *memObjects) Put(ctx context.Context, modelID, path, contentType string, content []byte) error {
	m.data[modelID+"/"+path] = content
	return nil
}

func (m *memObjects) Get(ctx context.Context, modelID, path string) ([]byte, error) {
	b, ok := m.data[modelID+"/"+path]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *memObjects) List(ctx context.Context, modelID string) ([]string, error) {
	var out []string
	for k := range m.data {
		if rest, ok := strings.CutPrefix(k, modelID+"/"); ok {
			out = append(out, rest)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memObjects) GetURL(ctx context.Context, modelID, path string) (string, error) {
	return "https://store.test/" + modelID + "/" + path, nil
}

func sampleModel() *store.SemanticModel {
	return &store.SemanticModel{
		ID: "m-1",
		Document: osi.NewDocument(map[string]any{
			"name": "Model for shopdb",
			"datasets": []any{map[string]any{
				"name":   "orders",
				"source": "shopdb.sales.orders",
			}},
			"metrics": []any{map[string]any{
				"name":       "open_orders",
				"expression": "COUNT(sales.orders.id) FILTER (WHERE sales.orders.status < 2)",
			}},
		}),
	}
}

func TestExportWritesBothArtifacts(t *testing.T) {
	objects := newMemObjects()
	e := NewExporter(objects)

	require.NoError(t, e.Export(context.Background(), sampleModel()))

	y, err := objects.Get(context.Background(), "m-1", YAMLArtifact)
	require.NoError(t, err)
	require.Contains(t, string(y), "name: Model for shopdb")

	j, err := objects.Get(context.Background(), "m-1", JSONArtifact)
	require.NoError(t, err)
	require.Contains(t, string(j), `"Model for shopdb"`)
}

func TestRenderJSONKeepsOperatorsUnescaped(t *testing.T) {
	j, err := RenderJSON(sampleModel())
	require.NoError(t, err)
	require.True(t, strings.Contains(string(j), "status < 2"), "JSON rendering must not HTML-escape comparison operators")
}

func TestArtifactServesStoredBytes(t *testing.T) {
	objects := newMemObjects()
	e := NewExporter(objects)
	require.NoError(t, e.Export(context.Background(), sampleModel()))

	data, contentType, err := e.Artifact(context.Background(), "m-1", YAMLArtifact)
	require.NoError(t, err)
	require.Equal(t, "application/yaml", contentType)
	require.Contains(t, string(data), "name: Model for shopdb")

	_, contentType, err = e.Artifact(context.Background(), "m-1", JSONArtifact)
	require.NoError(t, err)
	require.Equal(t, "application/json", contentType)

	_, _, err = e.Artifact(context.Background(), "m-1", "model.xml")
	require.Error(t, err)

	_, _, err = e.Artifact(context.Background(), "missing", YAMLArtifact)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestArtifactsListsExportedFiles(t *testing.T) {
	objects := newMemObjects()
	e := NewExporter(objects)

	names, err := e.Artifacts(context.Background(), "m-1")
	require.NoError(t, err)
	require.Empty(t, names)

	require.NoError(t, e.Export(context.Background(), sampleModel()))

	names, err = e.Artifacts(context.Background(), "m-1")
	require.NoError(t, err)
	require.Equal(t, []string{JSONArtifact, YAMLArtifact}, names)
}

func TestDownloadURLRejectsUnknownArtifact(t *testing.T) {
	e := NewExporter(newMemObjects())

	_, err := e.DownloadURL(context.Background(), "m-1", "model.xml")
	require.Error(t, err)

	u, err := e.DownloadURL(context.Background(), "m-1", YAMLArtifact)
	require.NoError(t, err)
	require.Equal(t, "https://store.test/m-1/model.yaml", u)
}

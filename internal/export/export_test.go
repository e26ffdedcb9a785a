package export

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sirc/internal/model"
	"sirc/internal/store"
)

func newTestExporter(t *testing.T) (*Exporter, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, nil, nil), s
}

func putExportNode(t *testing.T, s *store.Store, id, projectID string) {
	t.Helper()
	require.NoError(t, s.SaveNode(&model.Node{
		ID: id, ProjectID: projectID, Title: "Title " + id, Text: "text",
		Meta: model.NodeMeta{CreatedAt: time.Now().UTC()},
	}))
}

func TestExportFmind_IncludesStatsAndNodes(t *testing.T) {
	e, s := newTestExporter(t)
	putExportNode(t, s, "n1", "p1")
	putExportNode(t, s, "n2", "p1")

	bundle, err := e.ExportFmind([]string{"p1"}, ExportOptions{})
	require.NoError(t, err)
	require.Equal(t, bundleFormat, bundle.Format)
	require.Len(t, bundle.Projects, 1)
	require.Equal(t, 2, bundle.Projects[0].Stats.NodeCount)
}

func TestExportFmind_ThenImportReproducesLiveNodes(t *testing.T) {
	e, s := newTestExporter(t)
	putExportNode(t, s, "n1", "p1")

	bundle, err := e.ExportFmind([]string{"p1"}, ExportOptions{})
	require.NoError(t, err)

	target, _ := newTestExporter(t)
	require.NoError(t, target.ImportFmind(bundle))

	n, err := target.store.GetNode("n1")
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, "Title n1", n.Title)
}

func TestImportFmind_RejectsWrongFormat(t *testing.T) {
	e, _ := newTestExporter(t)
	err := e.ImportFmind(&Bundle{Format: "other"})
	require.Error(t, err)
}

func TestImportFmind_RejectsSelfLinksBeforeWritingAnything(t *testing.T) {
	e, s := newTestExporter(t)
	bundle := &Bundle{
		Format: bundleFormat,
		Projects: []ProjectBundle{{
			ProjectID: "p1",
			Nodes:     []*model.Node{{ID: "n1", ProjectID: "p1"}},
			Links:     []*model.Link{{LinkID: "l1", ProjectID: "p1", Source: "n1", Target: "n1"}},
		}},
	}
	err := e.ImportFmind(bundle)
	require.Error(t, err)

	n, _ := s.GetNode("n1")
	require.Nil(t, n, "a rejected import must leave the store unchanged")
}

func TestExportGraph_MapsFieldsIntoJSONLD(t *testing.T) {
	nodes := []*model.Node{{ID: "n1", Title: "A", Text: "body", Meta: model.NodeMeta{CreatedAt: time.Now().UTC()}}}
	links := []*model.Link{{LinkID: "l1", Source: "n1", Target: "n2", RelationType: model.RelationSupports, UpdatedAt: time.Now().UTC()}}

	g := ExportGraph(nodes, links, GraphOptions{})
	require.Equal(t, "CreativeWork", jsonLDContext["Node"])
	require.Len(t, g.Graph, 2)
}

func TestExportCSV_EscapesAndAppendsLinksSection(t *testing.T) {
	nodes := []*model.Node{
		{ID: "n1", Title: "Has, comma", Text: "plain"},
	}
	links := []*model.Link{
		{LinkID: "l1", Source: "n1", Target: "n2", RelationType: model.RelationSupports, Confidence: 0.9, Active: true},
	}

	out, err := ExportCSV(nodes, []string{"id", "title"}, links)
	require.NoError(t, err)
	require.Contains(t, out, `"Has, comma"`)
	require.Contains(t, out, "# Links")
	require.Contains(t, out, "l1,n1,n2,supports")
}

func TestExportCSV_NoLinksOmitsSection(t *testing.T) {
	nodes := []*model.Node{{ID: "n1", Title: "A"}}
	out, err := ExportCSV(nodes, []string{"id", "title"}, nil)
	require.NoError(t, err)
	require.False(t, strings.Contains(out, "# Links"))
}

func TestEncodeDecodeEmbeddingBase64_RoundTrips(t *testing.T) {
	emb := []float32{0.1, -0.25, 3.5}
	encoded := EncodeEmbeddingBase64(emb)
	require.NotEmpty(t, encoded)

	decoded, err := DecodeEmbeddingBase64(encoded)
	require.NoError(t, err)
	require.InDeltaSlice(t, emb, decoded, 1e-6)
}

func TestEncodeEmbeddingBase64_NilEncodesEmpty(t *testing.T) {
	require.Equal(t, "", EncodeEmbeddingBase64(nil))
	decoded, err := DecodeEmbeddingBase64("")
	require.NoError(t, err)
	require.Nil(t, decoded)
}

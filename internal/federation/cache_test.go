package federation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sirc/internal/model"
	"sirc/internal/store"
)

func newTestCache(t *testing.T, capacity int) (*Cache, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, capacity), s
}

func node(id, projectID string, emb []float32, mortonKey string) *model.Node {
	return &model.Node{ID: id, ProjectID: projectID, Embedding: emb, MortonKey: mortonKey}
}

func TestAddProject_SkipsNodesMissingEmbeddingOrKey(t *testing.T) {
	c, _ := newTestCache(t, 100)
	nodes := []*model.Node{
		node("n1", "p1", []float32{1, 0}, "00ff"),
		node("n2", "p1", nil, "00ff"),
		node("n3", "p1", []float32{1, 0}, ""),
	}
	c.AddProject("p1", nodes)

	emb, err := c.GetEmbedding("n1", "p1")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 0}, emb)
}

func TestAddProject_ClearsPriorCache(t *testing.T) {
	c, _ := newTestCache(t, 100)
	c.AddProject("p1", []*model.Node{node("n1", "p1", []float32{1, 0}, "00ff")})
	c.AddProject("p1", []*model.Node{node("n2", "p1", []float32{0, 1}, "00aa")})

	c.mu.RLock()
	_, stillThere := c.projects["p1"].nodes["n1"]
	c.mu.RUnlock()
	require.False(t, stillThere)
}

func TestLRUEviction_RemovesLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, 2)
	c.AddProject("p1", []*model.Node{
		node("n1", "p1", []float32{1, 0}, "0001"),
		node("n2", "p1", []float32{0, 1}, "0002"),
	})
	// n1 gets touched, making n2 the least recently used.
	_, _ = c.GetEmbedding("n1", "p1")

	c.AddProject("p2", []*model.Node{node("n3", "p2", []float32{1, 1}, "0003")})

	c.mu.RLock()
	_, n2Present := c.projects["p1"].nodes["n2"]
	c.mu.RUnlock()
	require.False(t, n2Present, "n2 should have been evicted as least recently used")
}

func TestSearchAcrossProjects_FusesAndRanksGlobally(t *testing.T) {
	c, _ := newTestCache(t, 100)
	c.AddProject("p1", []*model.Node{
		node("n1", "p1", []float32{1, 0, 0}, "0001"),
		node("n2", "p1", []float32{0, 1, 0}, "0002"),
	})
	c.AddProject("p2", []*model.Node{
		node("n3", "p2", []float32{1, 0, 0}, "0003"),
	})

	hits, err := c.SearchAcrossProjects(context.Background(), []float32{1, 0, 0}, CrossProjectOptions{
		Projects: []string{"p1", "p2"}, TopK: 5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	for i := 1; i < len(hits); i++ {
		require.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestSearchAcrossProjectsBase_EnumeratesGlobalPrefixWindow(t *testing.T) {
	c, _ := newTestCache(t, 100)
	c.AddProject("p1", []*model.Node{
		node("n1", "p1", []float32{1, 0, 0}, "0001"),
	})
	c.AddProject("p2", []*model.Node{
		node("n2", "p2", []float32{1, 0, 0}, "0011"), // one step (16) above "0001"
		node("n3", "p2", []float32{0, 0, 1}, "ffffffff"), // far outside the window
	})

	hits, err := c.SearchAcrossProjectsBase([]float32{1, 0, 0}, CrossProjectOptions{
		Projects: []string{"p1", "p2"}, TopK: 5, QueryMortonKey: "0001",
	})
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, h := range hits {
		ids[h.NodeID] = true
	}
	require.True(t, ids["n1"])
	require.True(t, ids["n2"])
	require.False(t, ids["n3"], "node far outside the center_prefix ± R window must not be a candidate")
}

func TestSearchAcrossProjectsBase_BulkLoadsUncachedProjectWhenNoMortonKey(t *testing.T) {
	c, s := newTestCache(t, 100)
	require.NoError(t, s.SaveNode(node("n1", "p1", []float32{1, 0, 0}, "0001")))

	hits, err := c.SearchAcrossProjectsBase([]float32{1, 0, 0}, CrossProjectOptions{
		Projects: []string{"p1"}, TopK: 5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "n1", hits[0].NodeID)
}

func TestSearchAcrossProjects_FallsBackToPersistenceOnCacheMiss(t *testing.T) {
	c, s := newTestCache(t, 100)
	require.NoError(t, s.SaveNode(node("n1", "p1", []float32{1, 0, 0}, "0001")))

	// p1 was never cached via AddProject; SearchAcrossProjects must still
	// find it rather than silently dropping the project from the merge.
	hits, err := c.SearchAcrossProjects(context.Background(), []float32{1, 0, 0}, CrossProjectOptions{
		Projects: []string{"p1"}, TopK: 5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "n1", hits[0].NodeID)
}

func TestClearCache_EmptiesEverything(t *testing.T) {
	c, _ := newTestCache(t, 100)
	c.AddProject("p1", []*model.Node{node("n1", "p1", []float32{1, 0}, "0001")})
	c.ClearCache()

	c.mu.RLock()
	count := len(c.projects)
	c.mu.RUnlock()
	require.Equal(t, 0, count)
}

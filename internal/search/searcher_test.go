package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/model"
	"sirc/internal/morton"
	"sirc/internal/store"
)

func newTestSearcher(t *testing.T) (*Searcher, *store.Store, embedding.EmbeddingEngine) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eng := embedding.NewMockEngine(16)
	cfg := config.DefaultConfig().Search
	return New(s, eng, cfg), s, eng
}

func putNode(t *testing.T, s *store.Store, eng embedding.EmbeddingEngine, id, projectID, text string, params *model.QuantParams) {
	t.Helper()
	emb, err := eng.Embed(context.Background(), text)
	require.NoError(t, err)

	n := &model.Node{
		ID: id, ProjectID: projectID, Title: "title-" + id, Text: text,
		Embedding: emb, MortonKey: morton.Key(emb, params),
		Meta: model.NodeMeta{CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.SaveNode(n))
}

func TestSearch_EmptyQueryReturnsEmpty(t *testing.T) {
	searcher, _, _ := newTestSearcher(t)
	hits, err := searcher.Search(context.Background(), "   ", Options{})
	require.NoError(t, err)
	require.Empty(t, hits)
}

func TestSearch_FindsExactMatchNode(t *testing.T) {
	searcher, s, eng := newTestSearcher(t)
	params, err := morton.ComputeQuantParams("p1", [][]float32{{0, 0, 0}}, 16, 16, morton.ReductionFirst)
	require.NoError(t, err)
	require.NoError(t, s.SaveQuantParams(params))

	putNode(t, s, eng, "n1", "p1", "the quick brown fox", params)
	putNode(t, s, eng, "n2", "p1", "completely unrelated content here", params)

	hits, err := searcher.Search(context.Background(), "the quick brown fox", Options{ProjectID: "p1", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "n1", hits[0].NodeID)
	require.InDelta(t, 1.0, hits[0].Score, 1e-4)
}

func TestSnippet_TruncatesAndEllipsizes(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	s := snippet(long)
	require.True(t, len(s) <= 143)
	require.Contains(t, s, "...")
}

func TestSnippet_ShortTextUnchanged(t *testing.T) {
	require.Equal(t, "short", snippet("short"))
}

func TestBatchSearch_IsolatesFailures(t *testing.T) {
	searcher, _, _ := newTestSearcher(t)
	results := searcher.BatchSearch(context.Background(), []string{"", "something"}, Options{})
	require.Len(t, results, 2)
}

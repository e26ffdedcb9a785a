package reasoner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/federation"
	"sirc/internal/linker"
	"sirc/internal/model"
	"sirc/internal/morton"
	"sirc/internal/store"
)

func newTestReasoner(t *testing.T) (*Reasoner, *store.Store, *federation.Cache, embedding.EmbeddingEngine) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eng := embedding.NewMockEngine(16)
	cfg := config.DefaultConfig()
	cache := federation.New(s, 1000)
	l := linker.New(s, cfg.Linker)
	return New(s, cache, l, cfg.Reasoner), s, cache, eng
}

func putReasonerNode(t *testing.T, s *store.Store, eng embedding.EmbeddingEngine, id, projectID, text string, params *model.QuantParams) *model.Node {
	t.Helper()
	emb, err := eng.Embed(context.Background(), text)
	require.NoError(t, err)
	n := &model.Node{
		ID: id, ProjectID: projectID, Title: "title-" + id, Text: text,
		Embedding: emb, MortonKey: morton.Key(emb, params),
		Meta: model.NodeMeta{CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.SaveNode(n))
	return n
}

func TestInferRelations_RequiresStartNodeID(t *testing.T) {
	r, _, _, _ := newTestReasoner(t)
	_, err := r.InferRelations(context.Background(), InferOptions{})
	require.Error(t, err)
}

func TestInferRelations_ReturnsRelationsAboveThreshold(t *testing.T) {
	r, s, cache, eng := newTestReasoner(t)
	params, err := morton.ComputeQuantParams("p1", [][]float32{{0, 0, 0}}, 16, 16, morton.ReductionFirst)
	require.NoError(t, err)
	require.NoError(t, s.SaveQuantParams(params))

	n1 := putReasonerNode(t, s, eng, "n1", "p1", "alpha beta gamma", params)
	n2 := putReasonerNode(t, s, eng, "n2", "p1", "alpha beta delta", params)
	cache.AddProject("p1", []*model.Node{n1, n2})

	relations, err := r.InferRelations(context.Background(), InferOptions{
		StartNodeID: "n1", Projects: []string{"p1"}, Depth: 2, TopK: 5, Threshold: 0,
	})
	require.NoError(t, err)
	for _, rel := range relations {
		require.NotEqual(t, rel.From, rel.To)
	}
}

func TestInferRelations_HighThresholdDropsEverything(t *testing.T) {
	r, s, cache, eng := newTestReasoner(t)
	params, err := morton.ComputeQuantParams("p1", [][]float32{{0, 0, 0}}, 16, 16, morton.ReductionFirst)
	require.NoError(t, err)
	require.NoError(t, s.SaveQuantParams(params))

	n1 := putReasonerNode(t, s, eng, "n1", "p1", "alpha beta gamma", params)
	n2 := putReasonerNode(t, s, eng, "n2", "p1", "completely unrelated text", params)
	cache.AddProject("p1", []*model.Node{n1, n2})

	relations, err := r.InferRelations(context.Background(), InferOptions{
		StartNodeID: "n1", Projects: []string{"p1"}, Depth: 2, TopK: 5, Threshold: 1.01,
	})
	require.NoError(t, err)
	require.Empty(t, relations)
}

func TestFindChains_FindsDirectAndTransitiveChains(t *testing.T) {
	r, s, _, _ := newTestReasoner(t)
	l := linker.New(s, config.DefaultConfig().Linker)

	_, err := l.CreateLink(linker.CreateFields{ProjectID: "p1", Source: "a", Target: "b", RelationType: model.RelationPrecedes, Semantic: 1})
	require.NoError(t, err)
	_, err = l.CreateLink(linker.CreateFields{ProjectID: "p1", Source: "b", Target: "c", RelationType: model.RelationPrecedes, Semantic: 1})
	require.NoError(t, err)

	chains, err := r.FindChains(context.Background(), "a", "c", 4, 5, "p1")
	require.NoError(t, err)
	require.NotEmpty(t, chains)
	require.Equal(t, "a", chains[0].Relations[0].From)
	require.Equal(t, "c", chains[0].Relations[len(chains[0].Relations)-1].To)
}

func TestFindChains_NoPathReturnsEmpty(t *testing.T) {
	r, s, _, _ := newTestReasoner(t)
	l := linker.New(s, config.DefaultConfig().Linker)
	_, err := l.CreateLink(linker.CreateFields{ProjectID: "p1", Source: "a", Target: "b", RelationType: model.RelationPrecedes, Semantic: 1})
	require.NoError(t, err)

	chains, err := r.FindChains(context.Background(), "a", "z", 4, 5, "p1")
	require.NoError(t, err)
	require.Empty(t, chains)
}

func TestRelationsTranscript_IncludesCount(t *testing.T) {
	out := RelationsTranscript([]InferredRelation{
		{Relation: Relation{From: "a", To: "b", RelationType: model.RelationSupports, Confidence: 0.9}},
	})
	require.Contains(t, out, "1 relation(s)")
	require.Contains(t, out, "a --[supports (0.90)]--> b")
}

func TestChainsTranscript_IncludesCombinedConfidence(t *testing.T) {
	out := ChainsTranscript([]Chain{
		{Relations: []Relation{{From: "a", To: "b", RelationType: model.RelationPrecedes, Confidence: 0.8}}, Confidence: 0.8},
	})
	require.Contains(t, out, "combined confidence 0.800")
}

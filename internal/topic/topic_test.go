package topic

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/model"
	"sirc/internal/store"
)

func newTestModeller(t *testing.T, cfg config.TopicConfig) (*Modeller, *store.Store, embedding.EmbeddingEngine) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	eng := embedding.NewMockEngine(16)
	return New(s, cfg, 168*time.Hour), s, eng
}

func putTopicNode(t *testing.T, s *store.Store, eng embedding.EmbeddingEngine, id, text string) {
	t.Helper()
	emb, err := eng.Embed(context.Background(), text)
	require.NoError(t, err)
	require.NoError(t, s.SaveNode(&model.Node{
		ID: id, ProjectID: "p1", Text: text, Embedding: emb,
		Meta: model.NodeMeta{CreatedAt: time.Now().UTC()},
	}))
}

func defaultCfg() config.TopicConfig {
	return config.TopicConfig{SimilarityThreshold: 0.75, MaxTopics: 64, MaxKeywords: 5, MinNodes: 1}
}

func TestUpdateWithNodes_CreatesNewTopicForFirstNode(t *testing.T) {
	m, s, eng := newTestModeller(t, defaultCfg())
	putTopicNode(t, s, eng, "n1", "alpha beta gamma delta")

	require.NoError(t, m.UpdateWithNodes([]string{"n1"}))

	topicID, ok := m.GetTopicForNode("n1")
	require.True(t, ok)
	require.NotEmpty(t, topicID)
}

func TestUpdateWithNodes_SimilarNodeJoinsExistingTopic(t *testing.T) {
	m, s, eng := newTestModeller(t, defaultCfg())
	putTopicNode(t, s, eng, "n1", "identical repeated content")
	require.NoError(t, m.UpdateWithNodes([]string{"n1"}))

	// Re-embedding the exact same text with the mock engine yields the
	// identical vector, so this should join n1's topic (cosine == 1.0).
	putTopicNode(t, s, eng, "n2", "identical repeated content")
	require.NoError(t, m.UpdateWithNodes([]string{"n2"}))

	t1, _ := m.GetTopicForNode("n1")
	t2, _ := m.GetTopicForNode("n2")
	require.Equal(t, t1, t2)

	members := m.GetNodesInTopic(t1)
	require.ElementsMatch(t, []string{"n1", "n2"}, members)
}

func TestUpdateWithNodes_ForceAssignsAtCapacity(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxTopics = 1
	m, s, eng := newTestModeller(t, cfg)

	putTopicNode(t, s, eng, "n1", "alpha beta gamma")
	require.NoError(t, m.UpdateWithNodes([]string{"n1"}))

	putTopicNode(t, s, eng, "n2", "completely unrelated words here now")
	require.NoError(t, m.UpdateWithNodes([]string{"n2"}))

	topics := m.GetTopics(QueryOptions{})
	require.Len(t, topics, 1, "at MaxTopics=1, the second node must force-assign rather than create a new topic")
}

func TestUpdateWithNodes_PrunesTopicsBelowMinNodes(t *testing.T) {
	cfg := defaultCfg()
	cfg.MinNodes = 2
	m, s, eng := newTestModeller(t, cfg)
	putTopicNode(t, s, eng, "n1", "alpha beta gamma")

	require.NoError(t, m.UpdateWithNodes([]string{"n1"}))

	_, ok := m.GetTopicForNode("n1")
	require.False(t, ok, "a lone-member topic should be pruned when MinNodes=2")
}

func TestGetTopics_FiltersByProjectAndSortsByWeight(t *testing.T) {
	m, s, eng := newTestModeller(t, defaultCfg())
	putTopicNode(t, s, eng, "n1", "alpha beta gamma")
	require.NoError(t, m.UpdateWithNodes([]string{"n1"}))

	topics := m.GetTopics(QueryOptions{ProjectIDs: []string{"p1"}})
	require.NotEmpty(t, topics)

	none := m.GetTopics(QueryOptions{ProjectIDs: []string{"nonexistent"}})
	require.Empty(t, none)
}

func TestTokenize_DropsShortTokensAndPunctuation(t *testing.T) {
	tokens := tokenize("The, quick-brown fox! a an")
	require.Contains(t, tokens, "quick")
	require.Contains(t, tokens, "brown")
	require.NotContains(t, tokens, "the")
	require.NotContains(t, tokens, "an")
}

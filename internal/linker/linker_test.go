package linker

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"sirc/internal/config"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

func newTestLinker(t *testing.T) (*Linker, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, config.DefaultConfig().Linker), s
}

func TestCreateLink_RejectsSelfLink(t *testing.T) {
	l, _ := newTestLinker(t)
	_, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n1", RelationType: model.RelationSupports,
		Semantic: 0.9,
	})
	require.Error(t, err)
	var serr *sircerr.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, sircerr.InvalidInput, serr.Kind)
}

func TestCreateLink_UnknownRelationIsWarnOnlyNotRejected(t *testing.T) {
	l, _ := newTestLinker(t)
	link, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationType("made_up"),
		Semantic: 0.8,
	})
	require.NoError(t, err)
	require.Equal(t, model.RelationType("made_up"), link.RelationType)
}

func TestCreateLink_AssignsNamespacedIDAndHistory(t *testing.T) {
	l, _ := newTestLinker(t)
	link, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationClarifies,
		Semantic: 1.0,
	})
	require.NoError(t, err)
	require.Contains(t, link.LinkID, "link_p1_n1_n2_")
	require.Len(t, link.History, 1)
	require.Equal(t, "created", link.History[0].Action)
}

func TestCreateLink_BlendsConfidenceFromWeightedSignals(t *testing.T) {
	l, _ := newTestLinker(t)
	link, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationSupports,
		Semantic: 1.0, AI: 1.0, Lexical: 1.0, Contextual: 1.0,
	})
	require.NoError(t, err)
	require.InDelta(t, 1.0, link.Confidence, 1e-9)
}

func TestUpsertLink_FindsByLinkID(t *testing.T) {
	l, _ := newTestLinker(t)
	created, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationSupports, Semantic: 0.5,
	})
	require.NoError(t, err)

	newConfidence := 0.9
	updated, err := l.UpsertLink(LinkKey{LinkID: created.LinkID}, Updates{Confidence: &newConfidence})
	require.NoError(t, err)
	require.InDelta(t, 0.9, updated.Confidence, 1e-9)
	require.Len(t, updated.History, 2)
	require.Equal(t, "updated", updated.History[1].Action)
}

func TestUpsertLink_FindsBySourceTargetRelation(t *testing.T) {
	l, _ := newTestLinker(t)
	_, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationFollows, Semantic: 0.5,
	})
	require.NoError(t, err)

	active := false
	updated, err := l.UpsertLink(LinkKey{Source: "n1", Target: "n2", RelationType: model.RelationFollows}, Updates{Active: &active})
	require.NoError(t, err)
	require.False(t, updated.Active)
}

func TestUpsertLink_MissingLinkReturnsNotFound(t *testing.T) {
	l, _ := newTestLinker(t)
	confidence := 0.5
	_, err := l.UpsertLink(LinkKey{LinkID: "link_does_not_exist"}, Updates{Confidence: &confidence})
	require.ErrorIs(t, err, sircerr.NotFound)
}

func TestWouldCreateCycle_DetectsCycleThroughChain(t *testing.T) {
	l, _ := newTestLinker(t)
	_, err := l.CreateLink(CreateFields{ProjectID: "p1", Source: "a", Target: "b", RelationType: model.RelationPrecedes, Semantic: 1})
	require.NoError(t, err)
	_, err = l.CreateLink(CreateFields{ProjectID: "p1", Source: "b", Target: "c", RelationType: model.RelationPrecedes, Semantic: 1})
	require.NoError(t, err)

	cyclic, err := l.WouldCreateCycle("c", "a", "p1")
	require.NoError(t, err)
	require.True(t, cyclic)

	notCyclic, err := l.WouldCreateCycle("c", "z", "p1")
	require.NoError(t, err)
	require.False(t, notCyclic)
}

func TestBatchUpdateConfidences_IsolatesPerItemFailures(t *testing.T) {
	l, _ := newTestLinker(t)
	created, err := l.CreateLink(CreateFields{
		ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationSupports, Semantic: 0.5,
	})
	require.NoError(t, err)

	results := l.BatchUpdateConfidences([]ConfidenceUpdate{
		{LinkID: created.LinkID, Confidence: 0.77},
		{LinkID: "link_nonexistent", Confidence: 0.5},
	})
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)

	reread, err := l.QueryLinks(store.LinkFilters{ProjectID: "p1"}, 0, store.SortByConfidence)
	require.NoError(t, err)
	require.Len(t, reread, 1)
	require.InDelta(t, 0.77, reread[0].Confidence, 1e-9)
}

func TestLinkStatistics_AveragesLiveLinks(t *testing.T) {
	l, _ := newTestLinker(t)
	_, err := l.CreateLink(CreateFields{ProjectID: "p1", Source: "n1", Target: "n2", RelationType: model.RelationSupports, Semantic: 1.0})
	require.NoError(t, err)
	_, err = l.CreateLink(CreateFields{ProjectID: "p1", Source: "n2", Target: "n3", RelationType: model.RelationSupports, Semantic: 0.0})
	require.NoError(t, err)

	stats, err := l.LinkStatistics("p1")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Count)
	require.InDelta(t, 0.25, stats.MeanConfidence, 1e-9)
}

func TestTrigramJaccard_IdenticalTextsScoreOne(t *testing.T) {
	require.InDelta(t, 1.0, TrigramJaccard("hello world", "hello world"), 1e-9)
}

func TestTrigramJaccard_UnrelatedTextsScoreLow(t *testing.T) {
	score := TrigramJaccard("the quick brown fox", "completely different sentence here")
	require.Less(t, score, 0.3)
}

func TestTrigramJaccard_PunctuationCollapsedToSpace(t *testing.T) {
	a := TrigramJaccard("hello, world!", "hello world")
	require.Greater(t, a, 0.5)
}

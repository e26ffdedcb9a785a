package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sirc/internal/config"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.MemoryConfig{Alpha: 0.7, Beta: 0.3, HalfLifeHours: 72, MaxInteractions: 1000}
	return New(s, cfg), s
}

func putMemoryNode(t *testing.T, s *store.Store, id string, emb []float32) {
	t.Helper()
	require.NoError(t, s.SaveNode(&model.Node{
		ID: id, ProjectID: "p1", Title: "Node " + id, Text: "text", Embedding: emb,
		Meta: model.NodeMeta{CreatedAt: time.Now().UTC()},
	}))
}

func TestRecordInteraction_RejectsUnknownActionType(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.RecordInteraction(RecordFields{NodeID: "n1", ActionType: model.ActionType("bogus")})
	require.Error(t, err)
	require.True(t, errors.Is(err, sircerr.InvalidInput))
}

func TestRecordInteraction_AssignsIDAndTimestamp(t *testing.T) {
	m, _ := newTestManager(t)
	in, err := m.RecordInteraction(RecordFields{NodeID: "n1", ActionType: model.ActionView})
	require.NoError(t, err)
	require.NotEmpty(t, in.ID)
	require.WithinDuration(t, time.Now().UTC(), in.At, 5*time.Second)
}

func TestGetRecentInteractions_FacadeFiltersThrough(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.RecordInteraction(RecordFields{NodeID: "n1", ActionType: model.ActionView})
	require.NoError(t, err)
	_, err = m.RecordInteraction(RecordFields{NodeID: "n2", ActionType: model.ActionSearch})
	require.NoError(t, err)

	rows, err := m.GetRecentInteractions(10, RecentFilters{ActionType: model.ActionSearch})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "n2", rows[0].NodeID)
}

func TestPurge_DeletesOlderThanCutoff(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.RecordInteraction(RecordFields{NodeID: "n1", ActionType: model.ActionView})
	require.NoError(t, err)

	future := time.Now().UTC().Add(time.Hour).UnixMilli()
	deleted, err := m.Purge(future)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestSuggest_RanksBySimilarityAndRecency(t *testing.T) {
	m, s := newTestManager(t)
	putMemoryNode(t, s, "close", []float32{1, 0, 0})
	putMemoryNode(t, s, "far", []float32{0, 1, 0})

	_, err := m.RecordInteraction(RecordFields{NodeID: "close", ActionType: model.ActionView, Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = m.RecordInteraction(RecordFields{NodeID: "far", ActionType: model.ActionView, Embedding: []float32{0, 1, 0}})
	require.NoError(t, err)

	out, err := m.Suggest(context.Background(), SuggestOptions{QueryEmbedding: []float32{1, 0, 0}, TopN: 5})
	require.NoError(t, err)
	require.NotEmpty(t, out)
	require.Equal(t, "close", out[0].NodeID)
	require.Equal(t, "Node close", out[0].Title)
}

func TestSuggest_AggregatesMaxScorePerNodeAndCountsInteractions(t *testing.T) {
	m, s := newTestManager(t)
	putMemoryNode(t, s, "n1", []float32{1, 0, 0})

	_, err := m.RecordInteraction(RecordFields{NodeID: "n1", ActionType: model.ActionView, Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = m.RecordInteraction(RecordFields{NodeID: "n1", ActionType: model.ActionEdit, Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)

	out, err := m.Suggest(context.Background(), SuggestOptions{QueryEmbedding: []float32{1, 0, 0}, TopN: 5})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 2, out[0].InteractionCount)
	require.Equal(t, model.ActionEdit, out[0].MostRecentAction)
}

func TestBuildReason_FormatsRecentAndOlderDifferently(t *testing.T) {
	recent := buildReason(model.ActionView, 30*time.Minute, 0, 1)
	require.Contains(t, recent, "Recent view")

	hours := buildReason(model.ActionSearch, 5*time.Hour, 0.8, 3)
	require.Contains(t, hours, "5h ago")
	require.Contains(t, hours, "sim 0.80")
	require.Contains(t, hours, "3 interactions")

	days := buildReason(model.ActionExpand, 72*time.Hour, 0, 1)
	require.Contains(t, days, "3d ago")
}

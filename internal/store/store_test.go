package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sirc/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleNode(id, projectID, mortonKey string) *model.Node {
	return &model.Node{
		ID:        id,
		ProjectID: projectID,
		Title:     "title-" + id,
		Text:      "some text body for " + id,
		Embedding: []float32{0.1, 0.2, 0.3},
		MortonKey: mortonKey,
		Children:  []string{},
		Meta: model.NodeMeta{
			CreatedAt: time.Now().UTC(),
			Author:    "tester",
		},
	}
}

func TestSaveAndGetNode(t *testing.T) {
	s := openTestStore(t)
	n := sampleNode("n1", "proj1", "00ff")
	require.NoError(t, s.SaveNode(n))

	got, err := s.GetNode("n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, n.Title, got.Title)
	require.Equal(t, n.Embedding, got.Embedding)
	require.Equal(t, n.MortonKey, got.MortonKey)
}

func TestGetNode_MissingIsNilNotError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetNode("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteNode_ScrubsMortonIndex(t *testing.T) {
	s := openTestStore(t)
	n := sampleNode("n1", "proj1", "00ff")
	require.NoError(t, s.SaveNode(n))

	ids, err := s.RangeScan("00ff", nil, 4, 0)
	require.NoError(t, err)
	require.Contains(t, ids, "n1")

	require.NoError(t, s.DeleteNode("n1"))

	got, err := s.GetNode("n1")
	require.NoError(t, err)
	require.Nil(t, got)

	ids, err = s.RangeScan("00ff", nil, 4, 0)
	require.NoError(t, err)
	require.NotContains(t, ids, "n1")
}

func TestSaveNode_ReindexesMortonKeyOnUpdate(t *testing.T) {
	s := openTestStore(t)
	n := sampleNode("n1", "proj1", "0001")
	require.NoError(t, s.SaveNode(n))

	n.MortonKey = "0002"
	require.NoError(t, s.SaveNode(n))

	oldIDs, err := s.RangeScan("0001", nil, 4, 0)
	require.NoError(t, err)
	require.NotContains(t, oldIDs, "n1")

	newIDs, err := s.RangeScan("0002", nil, 4, 0)
	require.NoError(t, err)
	require.Contains(t, newIDs, "n1")
}

func TestRangeScan_RadiusWindow(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveNode(sampleNode("a", "p", "0000")))
	require.NoError(t, s.SaveNode(sampleNode("b", "p", "0005")))
	require.NoError(t, s.SaveNode(sampleNode("c", "p", "00c8"))) // 200 decimal

	ids, err := s.RangeScan("0000", RadiusFromPower(3), 4, 0) // radius 8
	require.NoError(t, err)
	require.Contains(t, ids, "a")
	require.Contains(t, ids, "b")
	require.NotContains(t, ids, "c")
}

func TestQuantParams_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	p := &model.QuantParams{
		ProjectID: "proj1",
		D:         8,
		B:         16,
		Mins:      []float64{0, 0, 0, 0, 0, 0, 0, 0},
		Maxs:      []float64{1, 1, 1, 1, 1, 1, 1, 1},
		Reduction: "first",
	}
	require.NoError(t, s.SaveQuantParams(p))

	got, err := s.GetQuantParams("proj1")
	require.NoError(t, err)
	require.Equal(t, p.Mins, got.Mins)
	require.Equal(t, p.Maxs, got.Maxs)
}

func TestQuantParams_MissingReturnsNilNoError(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetQuantParams("no-such-project")
	require.NoError(t, err)
	require.Nil(t, got)
}

package main

import (
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"sirc/internal/store"
)

func newTestApp(t *testing.T) {
	t.Helper()
	ws := t.TempDir()
	a, err := buildApp(ws, "sirc.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })
	app = a
}

func TestNodeCreateThenGet(t *testing.T) {
	newTestApp(t)
	cmd := &cobra.Command{}

	nodeProjectID, nodeTitle, nodeText = "p1", "Hello", "some body text"
	require.NoError(t, runNodeCreate(cmd, []string{"n1"}))

	n, err := app.store.GetNode("n1")
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Equal(t, "Hello", n.Title)
	require.NotEmpty(t, n.MortonKey)
}

func TestLinkCreateThenList(t *testing.T) {
	newTestApp(t)
	cmd := &cobra.Command{}

	nodeProjectID, nodeTitle, nodeText = "p1", "A", "a"
	require.NoError(t, runNodeCreate(cmd, []string{"a"}))
	nodeProjectID, nodeTitle, nodeText = "p1", "B", "b"
	require.NoError(t, runNodeCreate(cmd, []string{"b"}))

	linkProjectID, linkSource, linkTarget, linkRelation = "p1", "a", "b", "supports"
	linkSemantic, linkLexical, linkContextual = 0.8, 0.2, 0.1
	require.NoError(t, runLinkCreate(cmd, nil))

	links, err := app.linker.QueryLinks(store.LinkFilters{ProjectID: "p1"}, 0, store.SortByConfidence)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, "a", links[0].Source)
}

func TestMemoryRecordThenSuggest(t *testing.T) {
	newTestApp(t)
	cmd := &cobra.Command{}

	nodeProjectID, nodeTitle, nodeText = "p1", "Note", "note body"
	require.NoError(t, runNodeCreate(cmd, []string{"n1"}))

	memNodeID, memActionType = "n1", "view"
	require.NoError(t, runMemoryRecord(cmd, nil))

	memQueryNodeID, memTopN = "n1", 5
	require.NoError(t, runMemorySuggest(cmd, nil))
}

func TestCRDTApplyThenSnapshot(t *testing.T) {
	newTestApp(t)
	cmd := &cobra.Command{}

	crdtDocID, crdtActorID, crdtOpType, crdtDataRaw = "p1", "u1", "createNode", `{"id":"n1","title":"A"}`
	require.NoError(t, runCRDTApply(cmd, nil))
	require.NoError(t, runCRDTSnapshot(cmd, nil))

	snap := app.bus.GetSnapshot("p1")
	require.Equal(t, "A", snap.Nodes["n1"].Fields["title"])
}

func TestFederationSearch_RunsAfterNodeCreate(t *testing.T) {
	newTestApp(t)
	cmd := &cobra.Command{}

	nodeProjectID, nodeTitle, nodeText = "p1", "Hello", "some body text"
	require.NoError(t, runNodeCreate(cmd, []string{"n1"}))

	fedSearchProjects, fedSearchTopK, fedSearchMorton = "p1", 5, ""
	require.NoError(t, runFederationSearch(cmd, []string{"some body text"}))
}

func TestExportBundleRoundTrip(t *testing.T) {
	newTestApp(t)
	cmd := &cobra.Command{}

	nodeProjectID, nodeTitle, nodeText = "p1", "X", "x"
	require.NoError(t, runNodeCreate(cmd, []string{"x1"}))

	exportProjects = []string{"p1"}
	exportOut = filepath.Join(t.TempDir(), "bundle.json")
	require.NoError(t, runExportBundle(cmd, nil))
	require.NoError(t, runImportBundle(cmd, []string{exportOut}))
}

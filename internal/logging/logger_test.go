package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitialize_DisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: false}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Index("hello %d", 1)
	if _, err := os.Stat(filepath.Join(dir, ".sirc", "logs")); !os.IsNotExist(err) {
		t.Fatalf("expected no logs directory when debug mode disabled")
	}
}

func TestInitialize_WritesCategoryFile(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	Index("indexing node %s", "n1")
	IndexDebug("debug detail")

	entries, err := os.ReadDir(filepath.Join(dir, ".sirc", "logs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".log" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected at least one .log file, got %v", entries)
	}
}

func TestCategoryDisabled(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{
		DebugMode:  true,
		Level:      "debug",
		Categories: map[string]bool{"search": false},
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	l := Get(CategorySearch)
	if l.logger != nil {
		t.Fatalf("expected no-op logger for disabled category")
	}
}

func TestTimerStop(t *testing.T) {
	dir := t.TempDir()
	if err := Initialize(dir, Settings{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer CloseAll()

	timer := StartTimer(CategoryIndex, "range_scan")
	elapsed := timer.Stop()
	if elapsed < 0 {
		t.Fatalf("expected non-negative elapsed duration")
	}
}

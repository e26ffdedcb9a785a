// Package store is the Index Store (C2): persistence over two logical
// arenas, nodes (by id) and morton_index (a multiset keyed by Morton key ->
// node id), plus a links arena for the knowledge graph. Each arena refers to
// the others only by id; the Store itself owns no in-memory graph of pointers
// (spec.md §9 "Graph ownership").
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"sirc/internal/logging"
)

// Store is the SQLite-backed Index Store. All exported methods are safe for
// concurrent use; mutation holds the write lock, reads hold the read lock.
type Store struct {
	db         *sql.DB
	mu         sync.RWMutex
	dbPath     string
	vectorExt  bool
	requireVec bool
}

// Open initializes the SQLite database at path, creating parent directories
// and the schema as needed.
func Open(path string, requireVec bool) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "Open")
	defer timer.Stop()

	logging.Index("opening index store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.IndexDebug("set busy_timeout failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.IndexDebug("set journal_mode=WAL failed: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.IndexDebug("set synchronous=NORMAL failed: %v", err)
	}

	s := &Store{db: db, dbPath: path, requireVec: requireVec}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	s.detectVecExtension()
	if s.requireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("store: vec0 acceleration required but unavailable")
	}
	if s.vectorExt {
		logging.Index("vec0 acceleration available")
	} else {
		logging.IndexDebug("vec0 acceleration unavailable; cosine re-rank will scan in Go")
	}

	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title TEXT NOT NULL,
			text TEXT NOT NULL,
			summary TEXT,
			embedding BLOB,
			morton_key TEXT,
			parent TEXT,
			children_json TEXT,
			created_at INTEGER,
			author TEXT,
			depth INTEGER,
			source_url TEXT,
			imported INTEGER DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_project ON nodes(project_id);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_morton ON nodes(morton_key);`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parent);`,

		`CREATE TABLE IF NOT EXISTS morton_index (
			morton_key TEXT NOT NULL,
			node_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			PRIMARY KEY (morton_key, node_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_morton_project ON morton_index(project_id, morton_key);`,

		`CREATE TABLE IF NOT EXISTS quant_params (
			project_id TEXT PRIMARY KEY,
			d INTEGER NOT NULL,
			b INTEGER NOT NULL,
			mins_json TEXT NOT NULL,
			maxs_json TEXT NOT NULL,
			reduction TEXT NOT NULL
		);`,

		`CREATE TABLE IF NOT EXISTS links (
			link_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			source TEXT NOT NULL,
			target TEXT NOT NULL,
			relation_type TEXT NOT NULL,
			confidence REAL NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			active INTEGER NOT NULL DEFAULT 1,
			provenance_json TEXT,
			history_json TEXT,
			created_at INTEGER,
			updated_at INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);`,
		`CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);`,
		`CREATE INDEX IF NOT EXISTS idx_links_project ON links(project_id);`,

		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			node_id TEXT,
			action_type TEXT NOT NULL,
			at INTEGER NOT NULL,
			embedding BLOB,
			meta_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_node ON interactions(node_id);`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_at ON interactions(at);`,

		`CREATE TABLE IF NOT EXISTS crdt_operations (
			op_id TEXT PRIMARY KEY,
			doc_id TEXT NOT NULL,
			type TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			data_json TEXT NOT NULL,
			dependencies_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_crdt_doc_actor_seq ON crdt_operations(doc_id, actor_id, sequence);`,
		`CREATE INDEX IF NOT EXISTS idx_crdt_timestamp ON crdt_operations(timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// detectVecExtension probes whether a vec0 virtual table can be created,
// either via real sqlite-vec (cgo build) or the pure-Go compat shim.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding BLOB, content TEXT, metadata TEXT)"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// HasVectorAcceleration reports whether ANN acceleration (sqlite-vec or its
// pure-Go compat) is available for this store's connection.
func (s *Store) HasVectorAcceleration() bool {
	return s.vectorExt
}

// DB returns the underlying connection, for components (TraceStore-style
// extensions, migrations) that need raw SQL access.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Index("closing index store")
	return s.db.Close()
}

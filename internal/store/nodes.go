package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
)

// SaveNode upserts a node and mirrors its Morton key into morton_index. The
// write is atomic: either both tables reflect the new node, or neither does.
func (s *Store) SaveNode(n *model.Node) error {
	timer := logging.StartTimer(logging.CategoryIndex, "SaveNode")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	childrenJSON, err := json.Marshal(n.Children)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal children")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO nodes (id, project_id, title, text, summary, embedding, morton_key, parent, children_json,
			created_at, author, depth, source_url, imported)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id=excluded.project_id, title=excluded.title, text=excluded.text, summary=excluded.summary,
			embedding=excluded.embedding, morton_key=excluded.morton_key, parent=excluded.parent,
			children_json=excluded.children_json, author=excluded.author, depth=excluded.depth,
			source_url=excluded.source_url, imported=excluded.imported`,
		n.ID, n.ProjectID, n.Title, n.Text, nullableString(n.Summary), encodeEmbedding(n.Embedding), n.MortonKey,
		nullableString(n.Parent), string(childrenJSON), n.Meta.CreatedAt.UnixMilli(), n.Meta.Author,
		n.Meta.Depth, n.Meta.SourceURL, boolToInt(n.Meta.Imported),
	)
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "upsert node")
	}

	// morton_index is a multiset: drop this node's prior entries, then
	// reinsert under the current key, so re-indexing never leaves stale rows.
	if _, err := tx.Exec(`DELETE FROM morton_index WHERE node_id = ?`, n.ID); err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "clear morton_index")
	}
	if n.MortonKey != "" {
		if _, err := tx.Exec(`INSERT INTO morton_index (morton_key, node_id, project_id) VALUES (?, ?, ?)`,
			n.MortonKey, n.ID, n.ProjectID); err != nil {
			return sircerr.Wrap(sircerr.Storage, err, "insert morton_index")
		}
	}

	if err := tx.Commit(); err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "commit")
	}
	logging.IndexDebug("SaveNode: id=%s project=%s morton_key=%s", n.ID, n.ProjectID, n.MortonKey)
	return nil
}

// GetNode reads a node by id. A missing record returns (nil, nil): absence is
// a successful read, never an error (spec.md §4.2 "Failure semantics").
func (s *Store) GetNode(id string) (*model.Node, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "GetNode")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getNodeLocked(id)
}

func (s *Store) getNodeLocked(id string) (*model.Node, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, text, summary, embedding, morton_key, parent, children_json,
			created_at, author, depth, source_url, imported
		FROM nodes WHERE id = ?`, id)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "scan node")
	}
	return n, nil
}

// DeleteNode removes a node and scrubs every morton_index row referencing it.
func (s *Store) DeleteNode(id string) error {
	timer := logging.StartTimer(logging.CategoryIndex, "DeleteNode")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM morton_index WHERE node_id = ?`, id); err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "scrub morton_index")
	}
	if _, err := tx.Exec(`DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "delete node")
	}
	if err := tx.Commit(); err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "commit")
	}
	logging.IndexDebug("DeleteNode: id=%s", id)
	return nil
}

// GetAllNodes returns up to limit nodes (limit<=0 means no limit), ordered by
// id for deterministic pagination.
func (s *Store) GetAllNodes(limit int) ([]*model.Node, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "GetAllNodes")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project_id, title, text, summary, embedding, morton_key, parent, children_json,
		created_at, author, depth, source_url, imported FROM nodes ORDER BY id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query nodes")
	}
	defer rows.Close()

	var out []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			logging.Get(logging.CategoryIndex).Warn("GetAllNodes: skipping malformed row: %v", err)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*model.Node, error) {
	var n model.Node
	var summary, parent, sourceURL, author sql.NullString
	var embeddingBlob []byte
	var childrenJSON string
	var createdAtMs int64
	var imported int

	err := row.Scan(&n.ID, &n.ProjectID, &n.Title, &n.Text, &summary, &embeddingBlob, &n.MortonKey,
		&parent, &childrenJSON, &createdAtMs, &author, &n.Meta.Depth, &sourceURL, &imported)
	if err != nil {
		return nil, err
	}

	n.Summary = summary.String
	n.Parent = parent.String
	n.Meta.Author = author.String
	n.Meta.SourceURL = sourceURL.String
	n.Meta.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	n.Meta.Imported = imported != 0

	embedding, err := decodeEmbedding(embeddingBlob)
	if err != nil {
		return nil, fmt.Errorf("decode embedding for node %s: %w", n.ID, err)
	}
	n.Embedding = embedding

	if childrenJSON != "" {
		if err := json.Unmarshal([]byte(childrenJSON), &n.Children); err != nil {
			return nil, fmt.Errorf("decode children for node %s: %w", n.ID, err)
		}
	}

	return &n, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"encoding/json"
	"time"

	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
)

// SaveInteraction appends one row to the interaction log (spec.md §4.9
// storage is append-only; callers never update a row in place).
func (s *Store) SaveInteraction(in *model.Interaction) error {
	timer := logging.StartTimer(logging.CategoryIndex, "SaveInteraction")
	defer timer.Stop()

	metaJSON, err := json.Marshal(in.Meta)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal interaction meta")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO interactions (id, node_id, action_type, at, embedding, meta_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		in.ID, nullableString(in.NodeID), string(in.ActionType), in.At.UnixMilli(),
		encodeEmbedding(in.Embedding), string(metaJSON),
	)
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "insert interaction")
	}
	return nil
}

// InteractionFilters narrows GetRecentInteractions; zero values are unconstrained.
type InteractionFilters struct {
	ActionType model.ActionType
	NodeID     string
}

// GetRecentInteractions returns up to limit rows sorted by at descending.
func (s *Store) GetRecentInteractions(limit int, f InteractionFilters) ([]*model.Interaction, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "GetRecentInteractions")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, node_id, action_type, at, embedding, meta_json FROM interactions WHERE 1=1`
	var args []interface{}
	if f.ActionType != "" {
		query += " AND action_type = ?"
		args = append(args, string(f.ActionType))
	}
	if f.NodeID != "" {
		query += " AND node_id = ?"
		args = append(args, f.NodeID)
	}
	query += " ORDER BY at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query interactions")
	}
	defer rows.Close()

	var out []*model.Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			logging.Get(logging.CategoryIndex).Warn("GetRecentInteractions: skipping malformed row: %v", err)
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

// PurgeInteractions deletes records older than cutoffMs and returns the
// count deleted.
func (s *Store) PurgeInteractions(cutoffMs int64) (int, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "PurgeInteractions")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM interactions WHERE at < ?`, cutoffMs)
	if err != nil {
		return 0, sircerr.Wrap(sircerr.Storage, err, "purge interactions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sircerr.Wrap(sircerr.Storage, err, "rows affected")
	}
	return int(n), nil
}

func scanInteraction(row rowScanner) (*model.Interaction, error) {
	var in model.Interaction
	var nodeID, metaJSON, actionType string
	var embeddingBlob []byte
	var atMs int64

	err := row.Scan(&in.ID, &nullableOut{&nodeID}, &actionType, &atMs, &embeddingBlob, &metaJSON)
	if err != nil {
		return nil, err
	}

	in.NodeID = nodeID
	in.ActionType = model.ActionType(actionType)
	in.At = time.UnixMilli(atMs).UTC()

	embedding, err := decodeEmbedding(embeddingBlob)
	if err != nil {
		return nil, err
	}
	in.Embedding = embedding

	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &in.Meta); err != nil {
			return nil, err
		}
	}
	return &in, nil
}

// nullableOut scans a nullable TEXT column into a plain string, treating
// SQL NULL as the empty string.
type nullableOut struct {
	dest *string
}

func (n *nullableOut) Scan(src interface{}) error {
	if src == nil {
		*n.dest = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*n.dest = v
	case []byte:
		*n.dest = string(v)
	}
	return nil
}

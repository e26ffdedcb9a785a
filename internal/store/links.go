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

// SaveLink upserts a link by link_id.
func (s *Store) SaveLink(l *model.Link) error {
	timer := logging.StartTimer(logging.CategoryIndex, "SaveLink")
	defer timer.Stop()

	provJSON, err := json.Marshal(l.Provenance)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal provenance")
	}
	histJSON, err := json.Marshal(l.History)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal history")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO links (link_id, project_id, source, target, relation_type, confidence, weight, active,
			provenance_json, history_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(link_id) DO UPDATE SET
			project_id=excluded.project_id, source=excluded.source, target=excluded.target,
			relation_type=excluded.relation_type, confidence=excluded.confidence, weight=excluded.weight,
			active=excluded.active, provenance_json=excluded.provenance_json, history_json=excluded.history_json,
			updated_at=excluded.updated_at`,
		l.LinkID, l.ProjectID, l.Source, l.Target, string(l.RelationType), l.Confidence, l.Weight,
		boolToInt(l.Active), string(provJSON), string(histJSON), l.CreatedAt.UnixMilli(), l.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "upsert link")
	}
	return nil
}

// GetLink reads a link by id. A missing link returns (nil, nil).
func (s *Store) GetLink(linkID string) (*model.Link, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "GetLink")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLinkLocked(linkID)
}

func (s *Store) getLinkLocked(linkID string) (*model.Link, error) {
	row := s.db.QueryRow(`
		SELECT link_id, project_id, source, target, relation_type, confidence, weight, active,
			provenance_json, history_json, created_at, updated_at
		FROM links WHERE link_id = ?`, linkID)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "scan link")
	}
	return l, nil
}

// FindLinkBySourceTargetRelation supports upsert_link's lookup-by-key path.
func (s *Store) FindLinkBySourceTargetRelation(source, target string, relation model.RelationType) (*model.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT link_id, project_id, source, target, relation_type, confidence, weight, active,
			provenance_json, history_json, created_at, updated_at
		FROM links WHERE source = ? AND target = ? AND relation_type = ?`, source, target, string(relation))
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "scan link")
	}
	return l, nil
}

// LinkFilters narrows QueryLinks; zero values are unconstrained.
type LinkFilters struct {
	ProjectID    string
	Source       string
	Target       string
	RelationType model.RelationType
	ActiveOnly   bool
}

// SortField is the field QueryLinks orders by.
type SortField string

const (
	SortByConfidence SortField = "confidence"
	SortByCreatedAt  SortField = "createdAt"
)

// QueryLinks is a thin filtered, sorted wrapper over the links table.
func (s *Store) QueryLinks(f LinkFilters, limit int, sortBy SortField) ([]*model.Link, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "QueryLinks")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT link_id, project_id, source, target, relation_type, confidence, weight, active,
		provenance_json, history_json, created_at, updated_at FROM links WHERE 1=1`
	var args []interface{}

	if f.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, f.ProjectID)
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Target != "" {
		query += " AND target = ?"
		args = append(args, f.Target)
	}
	if f.RelationType != "" {
		query += " AND relation_type = ?"
		args = append(args, string(f.RelationType))
	}
	if f.ActiveOnly {
		query += " AND active = 1"
	}

	switch sortBy {
	case SortByCreatedAt:
		query += " ORDER BY created_at DESC"
	default:
		query += " ORDER BY confidence DESC"
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query links")
	}
	defer rows.Close()

	var out []*model.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			logging.Get(logging.CategoryIndex).Warn("QueryLinks: skipping malformed row: %v", err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// queryLinksBySourceLocked is the BFS building block: outgoing live links
// from a node, called while the caller already holds at least RLock, to
// avoid the nested-RLock deadlock local_graph.go's TraversePath guards
// against.
func (s *Store) queryLinksBySourceLocked(source, projectID string, activeOnly bool) ([]*model.Link, error) {
	query := `SELECT link_id, project_id, source, target, relation_type, confidence, weight, active,
		provenance_json, history_json, created_at, updated_at FROM links WHERE source = ?`
	args := []interface{}{source}
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	if activeOnly {
		query += " AND active = 1"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query outgoing links")
	}
	defer rows.Close()

	var out []*model.Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// OutgoingLinks returns a node's live outgoing links, optionally scoped to a
// project. Used by the Linker's cycle check and the Reasoner's chain search.
func (s *Store) OutgoingLinks(source, projectID string) ([]*model.Link, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "OutgoingLinks")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryLinksBySourceLocked(source, projectID, true)
}

// DeleteLink removes a link by id.
func (s *Store) DeleteLink(linkID string) error {
	timer := logging.StartTimer(logging.CategoryIndex, "DeleteLink")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM links WHERE link_id = ?`, linkID); err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "delete link")
	}
	return nil
}

// LinkStats summarizes live links in a project (spec.md §4.5 link_statistics).
type LinkStats struct {
	Count          int
	MeanConfidence float64
	MeanWeight     float64
	ByRelation     map[model.RelationType]int
}

// LinkStatistics counts and averages over live links in a project.
func (s *Store) LinkStatistics(projectID string) (*LinkStats, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "LinkStatistics")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT relation_type, confidence, weight FROM links WHERE project_id = ? AND active = 1`, projectID)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query link stats")
	}
	defer rows.Close()

	stats := &LinkStats{ByRelation: make(map[model.RelationType]int)}
	var sumConf, sumWeight float64
	for rows.Next() {
		var relation string
		var conf, weight float64
		if err := rows.Scan(&relation, &conf, &weight); err != nil {
			continue
		}
		stats.Count++
		sumConf += conf
		sumWeight += weight
		stats.ByRelation[model.RelationType(relation)]++
	}
	if stats.Count > 0 {
		stats.MeanConfidence = sumConf / float64(stats.Count)
		stats.MeanWeight = sumWeight / float64(stats.Count)
	}
	return stats, nil
}

// WouldCreateCycle runs BFS from target over live outgoing links and reports
// whether source is reachable — i.e. whether adding source->target would
// close a cycle. Ported from the teacher's TraversePath cameFrom/queue shape,
// specialised to reachability instead of path reconstruction.
func (s *Store) WouldCreateCycle(source, target, projectID string) (bool, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "WouldCreateCycle")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if source == target {
		return true, nil
	}

	visited := map[string]bool{target: true}
	queue := []string{target}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		links, err := s.queryLinksBySourceLocked(current, projectID, true)
		if err != nil {
			return false, err
		}
		for _, l := range links {
			if l.Target == source {
				return true, nil
			}
			if !visited[l.Target] {
				visited[l.Target] = true
				queue = append(queue, l.Target)
			}
		}
	}
	return false, nil
}

func scanLink(row rowScanner) (*model.Link, error) {
	var l model.Link
	var relationType string
	var active int
	var provJSON, histJSON sql.NullString
	var createdAtMs, updatedAtMs int64

	err := row.Scan(&l.LinkID, &l.ProjectID, &l.Source, &l.Target, &relationType, &l.Confidence, &l.Weight,
		&active, &provJSON, &histJSON, &createdAtMs, &updatedAtMs)
	if err != nil {
		return nil, err
	}

	l.RelationType = model.RelationType(relationType)
	l.Active = active != 0
	l.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	l.UpdatedAt = time.UnixMilli(updatedAtMs).UTC()

	if provJSON.Valid && provJSON.String != "" {
		if err := json.Unmarshal([]byte(provJSON.String), &l.Provenance); err != nil {
			return nil, fmt.Errorf("decode provenance for link %s: %w", l.LinkID, err)
		}
	}
	if histJSON.Valid && histJSON.String != "" {
		if err := json.Unmarshal([]byte(histJSON.String), &l.History); err != nil {
			return nil, fmt.Errorf("decode history for link %s: %w", l.LinkID, err)
		}
	}
	return &l, nil
}

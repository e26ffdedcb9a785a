package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
)

// SaveOperation appends one CRDT operation. op_id is the primary key, so a
// duplicate insert is rejected rather than silently overwriting the log
// (callers must check GetOperation for idempotency before calling this).
func (s *Store) SaveOperation(op *model.Operation) error {
	timer := logging.StartTimer(logging.CategoryCRDT, "SaveOperation")
	defer timer.Stop()

	dataJSON, err := json.Marshal(op.Data)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal operation data")
	}
	depsJSON, err := json.Marshal(op.Dependencies)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal operation dependencies")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO crdt_operations (op_id, doc_id, type, actor_id, timestamp, sequence, data_json, dependencies_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		op.OpID, op.DocID, string(op.Type), op.ActorID, op.Timestamp, op.Sequence, string(dataJSON), string(depsJSON),
	)
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "insert crdt operation")
	}
	return nil
}

// GetOperation looks up an operation by id, returning nil if absent.
func (s *Store) GetOperation(opID string) (*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT op_id, doc_id, type, actor_id, timestamp, sequence, data_json, dependencies_json
		FROM crdt_operations WHERE op_id = ?`, opID)
	op, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, sircerr.Wrap(sircerr.Storage, err, "get crdt operation")
	}
	return op, nil
}

// GetOperationsSinceClock returns every op for docID whose sequence exceeds
// the value recorded for its actor in clock (missing actors are treated as
// 0), ordered by actor then sequence.
func (s *Store) GetOperationsSinceClock(docID string, clock map[string]uint64) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT op_id, doc_id, type, actor_id, timestamp, sequence, data_json, dependencies_json
		FROM crdt_operations WHERE doc_id = ? ORDER BY actor_id, sequence`, docID)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query crdt operations")
	}
	defer rows.Close()

	var out []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, sircerr.Wrap(sircerr.Storage, err, "scan crdt operation")
		}
		known := clock[op.ActorID]
		if op.Sequence > known {
			out = append(out, op)
		}
	}
	return out, nil
}

// OperationFilters narrows GetOperationHistory; zero values are unconstrained.
type OperationFilters struct {
	ActorID string
	Type    model.OperationType
}

// GetOperationHistory is a filter-and-truncate helper over a document's log, newest first.
func (s *Store) GetOperationHistory(docID string, f OperationFilters, limit int) ([]*model.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT op_id, doc_id, type, actor_id, timestamp, sequence, data_json, dependencies_json FROM crdt_operations WHERE doc_id = ?`
	args := []interface{}{docID}
	if f.ActorID != "" {
		query += " AND actor_id = ?"
		args = append(args, f.ActorID)
	}
	if f.Type != "" {
		query += " AND type = ?"
		args = append(args, string(f.Type))
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "query crdt operation history")
	}
	defer rows.Close()

	var out []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, sircerr.Wrap(sircerr.Storage, err, "scan crdt operation")
		}
		out = append(out, op)
	}
	return out, nil
}

func scanOperation(row rowScanner) (*model.Operation, error) {
	var op model.Operation
	var opType, dataJSON, depsJSON string

	if err := row.Scan(&op.OpID, &op.DocID, &opType, &op.ActorID, &op.Timestamp, &op.Sequence, &dataJSON, &depsJSON); err != nil {
		return nil, err
	}
	op.Type = model.OperationType(opType)

	if dataJSON != "" {
		if err := json.Unmarshal([]byte(dataJSON), &op.Data); err != nil {
			return nil, err
		}
	}
	if depsJSON != "" && depsJSON != "null" {
		if err := json.Unmarshal([]byte(depsJSON), &op.Dependencies); err != nil {
			return nil, err
		}
	}
	return &op, nil
}

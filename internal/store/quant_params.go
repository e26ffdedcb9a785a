package store

import (
	"database/sql"
	"encoding/json"
	"errors"

	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
)

// SaveQuantParams persists the per-project quantization bounds. Once set they
// should stay immutable short of a controlled re-index (spec.md §4.1).
func (s *Store) SaveQuantParams(p *model.QuantParams) error {
	timer := logging.StartTimer(logging.CategoryIndex, "SaveQuantParams")
	defer timer.Stop()

	minsJSON, err := json.Marshal(p.Mins)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal mins")
	}
	maxsJSON, err := json.Marshal(p.Maxs)
	if err != nil {
		return sircerr.Wrap(sircerr.InvalidInput, err, "marshal maxs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO quant_params (project_id, d, b, mins_json, maxs_json, reduction)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			d=excluded.d, b=excluded.b, mins_json=excluded.mins_json, maxs_json=excluded.maxs_json,
			reduction=excluded.reduction`,
		p.ProjectID, p.D, p.B, string(minsJSON), string(maxsJSON), p.Reduction,
	)
	if err != nil {
		return sircerr.Wrap(sircerr.Storage, err, "upsert quant_params")
	}
	return nil
}

// GetQuantParams returns the stored params for a project, or (nil, nil) if
// none have been computed yet.
func (s *Store) GetQuantParams(projectID string) (*model.QuantParams, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "GetQuantParams")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`SELECT project_id, d, b, mins_json, maxs_json, reduction FROM quant_params WHERE project_id = ?`, projectID)

	var p model.QuantParams
	var minsJSON, maxsJSON string
	err := row.Scan(&p.ProjectID, &p.D, &p.B, &minsJSON, &maxsJSON, &p.Reduction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "scan quant_params")
	}

	if err := json.Unmarshal([]byte(minsJSON), &p.Mins); err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "decode mins")
	}
	if err := json.Unmarshal([]byte(maxsJSON), &p.Maxs); err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "decode maxs")
	}
	return &p, nil
}

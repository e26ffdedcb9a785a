package store

import (
	"sirc/internal/logging"
	"sirc/internal/sircerr"
)

// CosineSimilarity re-ranks a candidate pair using the accelerated
// vector_distance_cos scalar function when vec0 acceleration is available
// (either real sqlite-vec under cgo, or the pure-Go compat shim), falling
// back to nothing — callers without acceleration should use
// embedding.CosineSimilarity directly instead of calling this.
func (s *Store) CosineSimilarity(a, b []float32) (float64, error) {
	if !s.vectorExt {
		return 0, sircerr.New(sircerr.Degraded, "vec0 acceleration unavailable")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var distance float64
	err := s.db.QueryRow(`SELECT vector_distance_cos(?, ?)`, encodeEmbedding(a), encodeEmbedding(b)).Scan(&distance)
	if err != nil {
		logging.Get(logging.CategoryIndex).Warn("CosineSimilarity: vec0 call failed, caller should fall back: %v", err)
		return 0, sircerr.Wrap(sircerr.Degraded, err, "vector_distance_cos")
	}
	return 1 - distance, nil
}

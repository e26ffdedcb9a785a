package store

import (
	"fmt"
	"math/big"
	"strings"

	"sirc/internal/logging"
	"sirc/internal/sircerr"
)

// RangeScan implements the Index Store's range-scan contract (spec.md §4.2).
// When radius is nil, it returns node ids whose morton key equals centerHex
// exactly. Otherwise it forms the inclusive window
// [center-radius, center+radius], saturating at 0, and scans morton_index's
// secondary index between the zero-padded hex endpoints. hexLen is the
// canonical zero-padded width (ceil(D*B/4)) for the project's quant params.
func (s *Store) RangeScan(centerHex string, radius *big.Int, hexLen int, limit int) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "RangeScan")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if radius == nil {
		return s.exactScanLocked(centerHex, limit)
	}

	center, ok := new(big.Int).SetString(centerHex, 16)
	if !ok {
		return nil, sircerr.Field(sircerr.InvalidInput, "center_hex", "not a valid hex integer")
	}

	lo := new(big.Int).Sub(center, radius)
	if lo.Sign() < 0 {
		lo.SetInt64(0)
	}
	hi := new(big.Int).Add(center, radius)

	loHex := zeroPadHex(lo, hexLen)
	hiHex := zeroPadHex(hi, hexLen)

	logging.IndexDebug("RangeScan: center=%s radius=%s window=[%s,%s]", centerHex, radius.String(), loHex, hiHex)

	query := `SELECT DISTINCT node_id FROM morton_index WHERE morton_key BETWEEN ? AND ? ORDER BY morton_key`
	args := []interface{}{loHex, hiHex}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return s.queryNodeIDsLocked(query, args...)
}

func (s *Store) exactScanLocked(centerHex string, limit int) ([]string, error) {
	query := `SELECT DISTINCT node_id FROM morton_index WHERE morton_key = ? ORDER BY node_id`
	args := []interface{}{centerHex}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryNodeIDsLocked(query, args...)
}

func (s *Store) queryNodeIDsLocked(query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.Storage, err, "range scan query")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			logging.Get(logging.CategoryIndex).Warn("RangeScan: skipping malformed row: %v", err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// zeroPadHex renders n as lowercase hex, left-padded with zeros to hexLen
// characters, matching morton.Key's canonical width so lexicographic
// comparison on the TEXT column agrees with numeric comparison.
func zeroPadHex(n *big.Int, hexLen int) string {
	hex := n.Text(16)
	if len(hex) < hexLen {
		hex = strings.Repeat("0", hexLen-len(hex)) + hex
	}
	if len(hex) > hexLen {
		// n overflowed the D*B-bit space; saturate to all-f's rather than
		// truncate, which would otherwise compare as a smaller key.
		hex = strings.Repeat("f", hexLen)
	}
	return hex
}

// RadiusFromPower returns 2^power as a big.Int, the widening step used by the
// Searcher's progressive radius loop.
func RadiusFromPower(power int) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(power))
}

// ParseRadiusHex parses a hex-encoded radius, accepted alongside a numeric
// offset per spec.md §4.2.
func ParseRadiusHex(hex string) (*big.Int, error) {
	r, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return nil, fmt.Errorf("store: invalid radius hex %q", hex)
	}
	return r, nil
}

// Package linker implements the Linker (C5): persisting, querying, and
// confidence-scoring links between nodes.
package linker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sirc/internal/config"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

// Linker persists and scores links over the Index Store.
type Linker struct {
	store *store.Store
	cfg   config.LinkerConfig
}

// New builds a Linker.
func New(s *store.Store, cfg config.LinkerConfig) *Linker {
	return &Linker{store: s, cfg: cfg}
}

// CreateFields are the caller-supplied fields for CreateLink.
type CreateFields struct {
	ProjectID    string
	Source       string
	Target       string
	RelationType model.RelationType
	Semantic     float64
	AI           float64
	Lexical      float64
	Contextual   float64
	Method       string
	AIConfidence *float64
	Note         string
}

// CreateLink validates taxonomy membership (warn-only on unknown type),
// rejects self-links and invalid confidence, assigns a namespaced id, stamps
// provenance and a single "created" history entry, and persists via the
// Index Store.
func (l *Linker) CreateLink(f CreateFields) (*model.Link, error) {
	timer := logging.StartTimer(logging.CategoryLinker, "CreateLink")
	defer timer.Stop()

	if f.Source == f.Target {
		return nil, sircerr.Field(sircerr.InvalidInput, "target", "self-links are not allowed")
	}
	if !model.IsKnownRelation(f.RelationType) {
		logging.Get(logging.CategoryLinker).Warn("CreateLink: relation_type %q is not in the known taxonomy", f.RelationType)
	}

	confidence := l.ComputeConfidence(f.Semantic, f.AI, f.Lexical, f.Contextual)
	if confidence < 0 || confidence > 1 {
		return nil, sircerr.Field(sircerr.InvalidInput, "confidence", "confidence must be within [0,1] after clamping")
	}

	now := time.Now().UTC()
	link := &model.Link{
		LinkID:       namespacedID(f.ProjectID, f.Source, f.Target),
		ProjectID:    f.ProjectID,
		Source:       f.Source,
		Target:       f.Target,
		RelationType: f.RelationType,
		Confidence:   confidence,
		Weight:       1.0,
		Active:       true,
		Provenance: model.LinkProvenance{
			Method:       f.Method,
			AIConfidence: f.AIConfidence,
			Timestamp:    now,
			Note:         f.Note,
		},
		History:   []model.LinkHistoryEntry{{Timestamp: now, Action: "created"}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.store.SaveLink(link); err != nil {
		return nil, err
	}
	logging.LinkerDebug("CreateLink: %s -[%s]-> %s confidence=%.3f", f.Source, f.RelationType, f.Target, confidence)
	return link, nil
}

// LinkKey locates an existing link either by id or by (source, target, relation).
type LinkKey struct {
	LinkID       string
	Source       string
	Target       string
	RelationType model.RelationType
}

// Updates carries the fields upsert_link may change.
type Updates struct {
	Confidence   *float64
	Weight       *float64
	Active       *bool
	RelationType *model.RelationType
}

// UpsertLink finds a link by id or by (source, target, relation_type),
// applies updates, stamps updated_at, and appends an "updated" history entry
// listing the changed keys.
func (l *Linker) UpsertLink(key LinkKey, updates Updates) (*model.Link, error) {
	timer := logging.StartTimer(logging.CategoryLinker, "UpsertLink")
	defer timer.Stop()

	var link *model.Link
	var err error
	if key.LinkID != "" {
		link, err = l.store.GetLink(key.LinkID)
	} else {
		link, err = l.store.FindLinkBySourceTargetRelation(key.Source, key.Target, key.RelationType)
	}
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, sircerr.New(sircerr.NotFound, "link not found")
	}

	var changed []string
	if updates.Confidence != nil {
		link.Confidence = clamp01(*updates.Confidence)
		changed = append(changed, "confidence")
	}
	if updates.Weight != nil {
		link.Weight = *updates.Weight
		changed = append(changed, "weight")
	}
	if updates.Active != nil {
		link.Active = *updates.Active
		changed = append(changed, "active")
	}
	if updates.RelationType != nil {
		link.RelationType = *updates.RelationType
		changed = append(changed, "relation_type")
	}

	link.UpdatedAt = time.Now().UTC()
	link.History = append(link.History, model.LinkHistoryEntry{
		Timestamp: link.UpdatedAt,
		Action:    "updated",
		Changes:   map[string]interface{}{"fields": changed},
	})

	if err := l.store.SaveLink(link); err != nil {
		return nil, err
	}
	return link, nil
}

// QueryLinks is a thin wrapper over the Index Store's filtered query.
func (l *Linker) QueryLinks(f store.LinkFilters, limit int, sortBy store.SortField) ([]*model.Link, error) {
	return l.store.QueryLinks(f, limit, sortBy)
}

// RemoveLink deletes a link by id.
func (l *Linker) RemoveLink(linkID string) error {
	return l.store.DeleteLink(linkID)
}

// WouldCreateCycle reports whether source->target would close a cycle,
// advisory only: the Linker does not forbid cycles itself.
func (l *Linker) WouldCreateCycle(source, target, projectID string) (bool, error) {
	return l.store.WouldCreateCycle(source, target, projectID)
}

// ConfidenceUpdate is one item in a batch confidence rewrite.
type ConfidenceUpdate struct {
	LinkID     string
	Confidence float64
}

// BatchResult reports the outcome for one batch item.
type BatchResult struct {
	LinkID string
	Err    error
}

// BatchUpdateConfidences is a best-effort bulk rewrite: each item's failure
// is isolated and logged, never aborting the rest of the batch.
func (l *Linker) BatchUpdateConfidences(updates []ConfidenceUpdate) []BatchResult {
	timer := logging.StartTimer(logging.CategoryLinker, "BatchUpdateConfidences")
	defer timer.Stop()

	results := make([]BatchResult, 0, len(updates))
	for _, u := range updates {
		confidence := clamp01(u.Confidence)
		_, err := l.UpsertLink(LinkKey{LinkID: u.LinkID}, Updates{Confidence: &confidence})
		if err != nil {
			logging.Get(logging.CategoryLinker).Warn("BatchUpdateConfidences: link %s failed: %v", u.LinkID, err)
		}
		results = append(results, BatchResult{LinkID: u.LinkID, Err: err})
	}
	return results
}

// LinkStatistics returns counts and means over live links in a project.
func (l *Linker) LinkStatistics(projectID string) (*store.LinkStats, error) {
	return l.store.LinkStatistics(projectID)
}

// ComputeConfidence blends the four signals per spec.md §4.5, clamped to [0,1].
func (l *Linker) ComputeConfidence(semantic, ai, lexical, contextual float64) float64 {
	w := l.cfg.Weights
	raw := w.Semantic*semantic + w.AI*ai + w.Lexical*lexical + w.Contextual*contextual
	return clamp01(raw)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// namespacedID assigns link_<project>_<src>_<tgt>_<ts>_<rand>.
func namespacedID(projectID, source, target string) string {
	ts := time.Now().UTC().UnixMilli()
	rand := uuid.New().String()[:8]
	return fmt.Sprintf("link_%s_%s_%s_%d_%s", projectID, source, target, ts, rand)
}

// TrigramJaccard computes trigram Jaccard similarity over lowercased texts
// with non-word runs collapsed to single spaces (spec.md §4.5 "lexical").
func TrigramJaccard(a, b string) float64 {
	ta := trigrams(normalizeForTrigrams(a))
	tb := trigrams(normalizeForTrigrams(b))
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tri := range ta {
		if tb[tri] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func normalizeForTrigrams(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	prevSpace := false
	for _, r := range s {
		isWord := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if isWord {
			b.WriteRune(r)
			prevSpace = false
		} else if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func trigrams(s string) map[string]bool {
	out := make(map[string]bool)
	if len(s) < 3 {
		if s != "" {
			out[s] = true
		}
		return out
	}
	for i := 0; i+3 <= len(s); i++ {
		out[s[i:i+3]] = true
	}
	return out
}

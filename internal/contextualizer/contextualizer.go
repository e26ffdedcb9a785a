// Package contextualizer implements the Contextualizer (C6): candidate
// link suggestion around a single node, blending semantic, lexical, and
// recent-activity signals into a labelled, confidence-scored shortlist.
package contextualizer

import (
	"context"
	"hash/fnv"
	"math"
	"sort"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/linker"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

// Suggestion is one proposed link (spec.md §4.6 contract).
type Suggestion struct {
	TargetID     string
	RelationType model.RelationType
	Confidence   float64
	Semantic     float64
	Lexical      float64
	Contextual   float64
}

// ContextEvent is one entry of a caller-supplied recent-activity history,
// ordered most-recent-first (Position 0 = most recent).
type ContextEvent struct {
	NodeID     string
	ActionType model.ActionType
	Position   int
}

// Options configures a single suggest_links call.
type Options struct {
	TopK               int
	IncludeContextBias bool
	ContextHistory     []ContextEvent
	ProjectID          string
	RadiusPower        int
}

func (o *Options) fillDefaults(cfg config.ContextConfig) {
	if o.TopK <= 0 {
		o.TopK = cfg.SuggestTopK
	}
	if o.RadiusPower <= 0 {
		o.RadiusPower = 12
	}
}

// Contextualizer is the stateless facade over the Index Store and Linker.
type Contextualizer struct {
	store  *store.Store
	linker *linker.Linker
	cfg    config.ContextConfig
}

// New builds a Contextualizer.
func New(s *store.Store, l *linker.Linker, cfg config.ContextConfig) *Contextualizer {
	return &Contextualizer{store: s, linker: l, cfg: cfg}
}

type scoredCandidate struct {
	node       *model.Node
	semantic   float64
	lexical    float64
	contextual float64
	prelim     float64
}

// SuggestLinks runs suggest_links per spec.md §4.6.
func (c *Contextualizer) SuggestLinks(ctx context.Context, nodeID string, opts Options) ([]Suggestion, error) {
	timer := logging.StartTimer(logging.CategoryContext, "SuggestLinks")
	defer timer.Stop()

	opts.fillDefaults(c.cfg)

	source, err := c.store.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, sircerr.New(sircerr.NotFound, "source node not found")
	}
	if source.MortonKey == "" {
		return nil, sircerr.Field(sircerr.InvalidInput, "morton_key", "source node has no morton key")
	}

	radius := store.RadiusFromPower(opts.RadiusPower)
	limit := 3 * opts.TopK
	candidateIDs, err := c.store.RangeScan(source.MortonKey, radius, len(source.MortonKey), limit)
	if err != nil {
		return nil, err
	}

	candidates := c.scoreCandidates(source, candidateIDs, opts)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].prelim > candidates[j].prelim })
	if len(candidates) > 2*opts.TopK {
		candidates = candidates[:2*opts.TopK]
	}

	suggestions := make([]Suggestion, 0, len(candidates))
	for _, cand := range candidates {
		relation, aiConfidence := LabelRelation(source.Text, cand.node.Text)
		confidence := c.linker.ComputeConfidence(cand.semantic, aiConfidence, cand.lexical, cand.contextual)
		suggestions = append(suggestions, Suggestion{
			TargetID: cand.node.ID, RelationType: relation, Confidence: confidence,
			Semantic: cand.semantic, Lexical: cand.lexical, Contextual: cand.contextual,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Confidence > suggestions[j].Confidence })
	if len(suggestions) > opts.TopK {
		suggestions = suggestions[:opts.TopK]
	}
	return suggestions, nil
}

func (c *Contextualizer) scoreCandidates(source *model.Node, candidateIDs []string, opts Options) []scoredCandidate {
	var candidates []scoredCandidate
	for _, id := range candidateIDs {
		if id == source.ID {
			continue
		}
		n, err := c.store.GetNode(id)
		if err != nil || n == nil {
			continue
		}
		if opts.ProjectID != "" && n.ProjectID != opts.ProjectID {
			continue
		}
		if len(n.Embedding) == 0 {
			continue
		}

		semantic, err := embedding.CosineSimilarity(source.Embedding, n.Embedding)
		if err != nil {
			continue
		}
		lexical := linker.TrigramJaccard(source.Text, n.Text)
		contextual := 0.0
		if opts.IncludeContextBias {
			contextual = ContextualBias(c.cfg.HalfLifeHours, id, opts.ContextHistory)
		}
		prelim := 0.6*semantic + 0.2*lexical + 0.2*contextual

		if semantic < c.cfg.LinkSimThreshold && prelim < c.cfg.LinkSimThreshold {
			continue
		}
		candidates = append(candidates, scoredCandidate{node: n, semantic: semantic, lexical: lexical, contextual: contextual, prelim: prelim})
	}
	return candidates
}

// ContextualBias blends recency (how recently the candidate appeared in the
// supplied history) with action-type overlap specific to that candidate
// (spec.md §4.6 "Contextual bias"). Shared with the Reasoner, which applies
// the same formula during cross-project inference.
func ContextualBias(halfLifeHours float64, candidateID string, history []ContextEvent) float64 {
	if len(history) == 0 {
		return 0
	}
	halfLife := halfLifeHours
	if halfLife <= 0 {
		halfLife = 72
	}

	var recencyBias float64
	actionTypes := make(map[model.ActionType]bool)
	for _, ev := range history {
		if ev.NodeID != candidateID {
			continue
		}
		rb := 0.5 * math.Pow(0.5, float64(ev.Position)/halfLife)
		if rb > recencyBias {
			recencyBias = rb
		}
		actionTypes[ev.ActionType] = true
	}

	overlap := len(actionTypes)
	if overlap > 3 {
		overlap = 3
	}
	actionBias := 0.3 * (float64(overlap) / 3.0)

	return clamp01(recencyBias + actionBias)
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

// LabelRelation is the deterministic mock relation labeller: an FNV-1a hash
// of the two texts indexes into the closed taxonomy, with a second slice of
// the hash standing in for the external AI collaborator's self-confidence.
// It is the only relation labeller in this repository; it never leaves the
// process.
func LabelRelation(sourceText, targetText string) (model.RelationType, float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceText))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(targetText))
	sum := h.Sum32()

	idx := int(sum % uint32(len(model.RelationTaxonomy)))
	confidence := 0.5 + 0.45*float64((sum>>16)%1000)/1000.0
	return model.RelationTaxonomy[idx], confidence
}

// Package reasoner implements the Reasoner (C7): bounded cross-project
// relation inference and chain-finding over existing links, both grounded
// on the Index Store's BFS idiom (store.WouldCreateCycle's visited/queue
// shape, itself ported from the teacher's local_graph.go TraversePath).
package reasoner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sirc/internal/config"
	"sirc/internal/contextualizer"
	"sirc/internal/embedding"
	"sirc/internal/federation"
	"sirc/internal/linker"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

// Relation is one edge in an inferred chain or relation record.
type Relation struct {
	From         string
	To           string
	RelationType model.RelationType
	Confidence   float64
}

// InferredRelation is one infer_relations result: the newly proposed edge
// plus the chain of edges that led to it.
type InferredRelation struct {
	Relation
	Chain []Relation
}

// Chain is one find_chains result: an ordered sequence of existing, live
// links connecting source to target.
type Chain struct {
	Relations  []Relation
	Confidence float64
}

// InferOptions configures infer_relations.
type InferOptions struct {
	StartNodeID    string
	Projects       []string
	Depth          int
	TopK           int
	Threshold      float64
	ContextHistory []contextualizer.ContextEvent
}

// Reasoner is the stateless facade combining the Federated Cache, the Index
// Store, and the Linker's confidence blend.
type Reasoner struct {
	store  *store.Store
	cache  *federation.Cache
	linker *linker.Linker
	cfg    config.ReasonerConfig
}

// New builds a Reasoner.
func New(s *store.Store, cache *federation.Cache, l *linker.Linker, cfg config.ReasonerConfig) *Reasoner {
	return &Reasoner{store: s, cache: cache, linker: l, cfg: cfg}
}

type queueItem struct {
	nodeID string
	depth  int
	chain  []Relation
}

// InferRelations runs infer_relations per spec.md §4.7: a bounded BFS across
// the Federated Cache's cross-project search, emitting candidate relations
// blended with the Phase-7 confidence weights.
func (r *Reasoner) InferRelations(ctx context.Context, opts InferOptions) ([]InferredRelation, error) {
	timer := logging.StartTimer(logging.CategoryReason, "InferRelations")
	defer timer.Stop()

	if opts.StartNodeID == "" {
		return nil, sircerr.Field(sircerr.InvalidInput, "start_node_id", "required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.Depth <= 0 {
		opts.Depth = 2
	}
	maxBatch := r.cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 2500
	}

	visited := map[string]bool{opts.StartNodeID: true}
	queue := []queueItem{{nodeID: opts.StartNodeID, depth: 0, chain: nil}}

	var emitted []InferredRelation
	iterations := 0

	for len(queue) > 0 && iterations < maxBatch {
		iterations++
		item := queue[0]
		queue = queue[1:]

		if item.depth >= opts.Depth {
			continue
		}

		current, err := r.store.GetNode(item.nodeID)
		if err != nil || current == nil || len(current.Embedding) == 0 {
			continue
		}

		hits, err := r.cache.SearchAcrossProjects(ctx, current.Embedding, federation.CrossProjectOptions{
			Projects:       opts.Projects,
			TopK:           2 * opts.TopK,
			QueryMortonKey: current.MortonKey,
		})
		if err != nil {
			logging.Get(logging.CategoryReason).Warn("InferRelations: cross-project search failed at %s: %v", item.nodeID, err)
			continue
		}

		for _, hit := range hits {
			if hit.NodeID == item.nodeID || visited[hit.NodeID] {
				continue
			}

			candidate, err := r.store.GetNode(hit.NodeID)
			if err != nil || candidate == nil || len(candidate.Embedding) == 0 {
				continue
			}

			semantic, err := embedding.CosineSimilarity(current.Embedding, candidate.Embedding)
			if err != nil {
				continue
			}
			lexical := linker.TrigramJaccard(current.Text, candidate.Text)
			contextual := contextualizer.ContextualBias(72, hit.NodeID, opts.ContextHistory)
			relationType, aiConfidence := contextualizer.LabelRelation(current.Text, candidate.Text)

			blended := blendPhase7(r.cfg.Weights, semantic, aiConfidence, lexical, contextual)
			if blended < opts.Threshold {
				continue
			}

			rel := Relation{From: item.nodeID, To: hit.NodeID, RelationType: relationType, Confidence: blended}
			chain := append(append([]Relation{}, item.chain...), rel)
			emitted = append(emitted, InferredRelation{Relation: rel, Chain: chain})

			visited[hit.NodeID] = true
			if item.depth+1 < opts.Depth {
				queue = append(queue, queueItem{nodeID: hit.NodeID, depth: item.depth + 1, chain: chain})
			}
		}
	}

	sort.Slice(emitted, func(i, j int) bool { return emitted[i].Confidence > emitted[j].Confidence })
	if len(emitted) > opts.TopK {
		emitted = emitted[:opts.TopK]
	}
	return emitted, nil
}

// blendPhase7 applies the Reasoner's (typically stricter) confidence
// weights — kept distinct from the Linker's default weights per spec.md
// §4.7's Phase-7 profile, even though the blend arithmetic is identical.
func blendPhase7(w config.ConfidenceWeights, semantic, ai, lexical, contextual float64) float64 {
	raw := w.Semantic*semantic + w.AI*ai + w.Lexical*lexical + w.Contextual*contextual
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}

type chainState struct {
	nodeID     string
	path       []string
	relations  []Relation
	confidence float64
}

// FindChains runs find_chains per spec.md §4.7: BFS over existing, live
// links only (no candidate generation), multiplicatively decaying
// confidence along the path.
func (r *Reasoner) FindChains(ctx context.Context, sourceID, targetID string, maxDepth, maxChains int, projectID string) ([]Chain, error) {
	timer := logging.StartTimer(logging.CategoryReason, "FindChains")
	defer timer.Stop()

	if maxDepth <= 0 {
		maxDepth = 4
	}
	if maxChains <= 0 {
		maxChains = 5
	}

	var chains []Chain
	queue := []chainState{{nodeID: sourceID, path: []string{sourceID}, confidence: 1.0}}

	for len(queue) > 0 && len(chains) < maxChains {
		state := queue[0]
		queue = queue[1:]

		if len(state.path)-1 >= maxDepth {
			continue
		}

		links, err := r.store.OutgoingLinks(state.nodeID, projectID)
		if err != nil {
			return nil, err
		}

		for _, l := range links {
			if containsString(state.path, l.Target) {
				continue // no revisiting a node already on this path
			}

			rel := Relation{From: l.Source, To: l.Target, RelationType: l.RelationType, Confidence: l.Confidence}
			nextConfidence := state.confidence * l.Confidence
			nextRelations := append(append([]Relation{}, state.relations...), rel)
			nextPath := append(append([]string{}, state.path...), l.Target)

			if l.Target == targetID {
				chains = append(chains, Chain{Relations: nextRelations, Confidence: nextConfidence})
				if len(chains) >= maxChains {
					break
				}
				continue
			}

			queue = append(queue, chainState{nodeID: l.Target, path: nextPath, relations: nextRelations, confidence: nextConfidence})
		}
	}

	sort.Slice(chains, func(i, j int) bool { return chains[i].Confidence > chains[j].Confidence })
	if len(chains) > maxChains {
		chains = chains[:maxChains]
	}
	return chains, nil
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// RelationsTranscript renders a human-readable breakdown of infer_relations
// output (spec.md §4.7 "Transcripts").
func RelationsTranscript(relations []InferredRelation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d relation(s) inferred\n", len(relations))
	for i, r := range relations {
		chain := r.Chain
		if len(chain) == 0 {
			chain = []Relation{r.Relation}
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, chainString(chain))
	}
	return b.String()
}

// ChainsTranscript renders a human-readable breakdown of find_chains output.
func ChainsTranscript(chains []Chain) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d chain(s) found\n", len(chains))
	for i, c := range chains {
		fmt.Fprintf(&b, "%d. %s (combined confidence %.3f)\n", i+1, chainString(c.Relations), c.Confidence)
	}
	return b.String()
}

func chainString(relations []Relation) string {
	var parts []string
	for _, rel := range relations {
		parts = append(parts, fmt.Sprintf("%s --[%s (%.2f)]--> %s", rel.From, rel.RelationType, rel.Confidence, rel.To))
	}
	return strings.Join(parts, " ")
}

// Package search implements the Searcher (C3): query embedding -> Morton
// prefilter -> cosine re-rank, with progressive radius widening and a
// substring fallback when the embedding collaborator is unavailable.
package search

import (
	"context"
	"math/big"
	"strings"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/morton"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

var bigFour = big.NewInt(4)

// Hit is one ranked search result (spec.md §4.3 contract).
type Hit struct {
	NodeID    string
	Score     float64
	Title     string
	Snippet   string
	MortonKey string
	Text      string
	Meta      model.NodeMeta
}

// Options configures a single semantic_search call.
type Options struct {
	ProjectID   string
	TopK        int
	RadiusPower int
	QuantParams *model.QuantParams
	MaxWideners int
	SubtreeRoot string
}

// Searcher is the stateless query-time facade over the Index Store.
type Searcher struct {
	store  *store.Store
	engine embedding.EmbeddingEngine
	cfg    config.SearchConfig
}

// New builds a Searcher over the given store and embedding collaborator.
func New(s *store.Store, engine embedding.EmbeddingEngine, cfg config.SearchConfig) *Searcher {
	return &Searcher{store: s, engine: engine, cfg: cfg}
}

func (o *Options) fillDefaults(cfg config.SearchConfig) {
	if o.TopK <= 0 {
		o.TopK = cfg.TopK
	}
	if o.RadiusPower <= 0 {
		o.RadiusPower = cfg.RadiusPower
	}
	if o.MaxWideners <= 0 {
		o.MaxWideners = cfg.MaxWideners
	}
}

// Search runs semantic_search per spec.md §4.3.
func (s *Searcher) Search(ctx context.Context, queryText string, opts Options) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Search")
	defer timer.Stop()

	if strings.TrimSpace(queryText) == "" {
		return nil, nil
	}
	opts.fillDefaults(s.cfg)

	queryEmbedding, err := s.engine.Embed(ctx, queryText)
	if err != nil {
		logging.Get(logging.CategorySearch).Warn("Search: embed failed, falling back to substring scan: %v", err)
		return s.substringFallback(queryText, opts)
	}

	params := opts.QuantParams
	if params == nil {
		params, err = s.store.GetQuantParams(opts.ProjectID)
		if err != nil {
			return nil, err
		}
	}
	if params == nil {
		logging.SearchDebug("Search: no quant params for project %s, falling back to linear scan", opts.ProjectID)
		return s.linearScan(queryEmbedding, opts)
	}

	queryKey := morton.Key(queryEmbedding, params)
	hexLen := morton.HexLen(params)

	candidateIDs, err := s.widenAndScan(queryKey, hexLen, opts)
	if err != nil {
		return nil, err
	}
	if len(candidateIDs) == 0 {
		return nil, nil
	}

	return s.rerank(candidateIDs, queryEmbedding, opts)
}

// widenAndScan runs the progressive radius-widening loop (spec.md §4.3 step 5).
func (s *Searcher) widenAndScan(queryKey string, hexLen int, opts Options) ([]string, error) {
	radius := store.RadiusFromPower(opts.RadiusPower)
	limit := 5 * opts.TopK

	for widen := 0; ; widen++ {
		ids, err := s.store.RangeScan(queryKey, radius, hexLen, limit)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return ids, nil
		}
		if widen >= opts.MaxWideners {
			return nil, nil
		}
		radius = radius.Mul(radius, bigFour)
	}
}

func (s *Searcher) rerank(candidateIDs []string, queryEmbedding []float32, opts Options) ([]Hit, error) {
	seen := make(map[string]bool, len(candidateIDs))
	var hits []Hit

	for _, id := range candidateIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		n, err := s.store.GetNode(id)
		if err != nil || n == nil {
			continue
		}
		if opts.ProjectID != "" && n.ProjectID != opts.ProjectID {
			continue
		}
		if opts.SubtreeRoot != "" && !s.inSubtree(n, opts.SubtreeRoot) {
			continue
		}
		if len(n.Embedding) == 0 {
			continue
		}

		score, err := embedding.CosineSimilarity(queryEmbedding, n.Embedding)
		if err != nil {
			continue
		}

		hits = append(hits, Hit{
			NodeID:    n.ID,
			Score:     score,
			Title:     n.Title,
			Snippet:   snippet(n.Text),
			MortonKey: n.MortonKey,
			Text:      n.Text,
			Meta:      n.Meta,
		})
	}

	sortHitsDescending(hits)
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

// inSubtree walks a node's ancestor chain looking for root. Bounded at 10000
// steps to tolerate a corrupted parent cycle.
func (s *Searcher) inSubtree(n *model.Node, root string) bool {
	current := n
	for depth := 0; depth < 10000; depth++ {
		if current.ID == root {
			return true
		}
		if current.Parent == "" {
			return false
		}
		parent, err := s.store.GetNode(current.Parent)
		if err != nil || parent == nil {
			return false
		}
		current = parent
	}
	return false
}

// linearScan is the no-quant-params fallback: cosine over every node in the
// project (or the whole store, if unscoped).
func (s *Searcher) linearScan(queryEmbedding []float32, opts Options) ([]Hit, error) {
	nodes, err := s.store.GetAllNodes(0)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	for _, n := range nodes {
		if opts.ProjectID != "" && n.ProjectID != opts.ProjectID {
			continue
		}
		if len(n.Embedding) == 0 {
			continue
		}
		score, err := embedding.CosineSimilarity(queryEmbedding, n.Embedding)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{
			NodeID: n.ID, Score: score, Title: n.Title, Snippet: snippet(n.Text),
			MortonKey: n.MortonKey, Text: n.Text, Meta: n.Meta,
		})
	}
	sortHitsDescending(hits)
	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return hits, nil
}

// substringFallback degrades to a case-insensitive substring match when the
// embedding collaborator is unreachable (spec.md §4.3 step 2).
func (s *Searcher) substringFallback(queryText string, opts Options) ([]Hit, error) {
	nodes, err := s.store.GetAllNodes(0)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(queryText)

	var hits []Hit
	for _, n := range nodes {
		if opts.ProjectID != "" && n.ProjectID != opts.ProjectID {
			continue
		}
		if !strings.Contains(strings.ToLower(n.Text), needle) && !strings.Contains(strings.ToLower(n.Title), needle) {
			continue
		}
		hits = append(hits, Hit{
			NodeID: n.ID, Score: 0, Title: n.Title, Snippet: snippet(n.Text),
			MortonKey: n.MortonKey, Text: n.Text, Meta: n.Meta,
		})
		if len(hits) >= opts.TopK {
			break
		}
	}
	return hits, nil
}

// BatchSearch runs Search over each query; a single query's failure yields an
// empty result for that query without aborting the batch.
func (s *Searcher) BatchSearch(ctx context.Context, queries []string, opts Options) [][]Hit {
	out := make([][]Hit, len(queries))
	for i, q := range queries {
		hits, err := s.Search(ctx, q, opts)
		if err != nil {
			logging.Get(logging.CategorySearch).Warn("BatchSearch: query %d failed: %v", i, err)
			out[i] = nil
			continue
		}
		out[i] = hits
	}
	return out
}

// GetOrCreateQuantParams returns stored params if any, else computes them
// from samples with the default D=8,B=16,reduction=first, else nil.
func (s *Searcher) GetOrCreateQuantParams(projectID string, samples [][]float32) (*model.QuantParams, error) {
	existing, err := s.store.GetQuantParams(projectID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	if len(samples) == 0 {
		return nil, nil
	}

	params, err := morton.ComputeQuantParams(projectID, samples, 8, 16, morton.ReductionFirst)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.InvalidInput, err, "compute quant params")
	}
	if err := s.store.SaveQuantParams(params); err != nil {
		return nil, err
	}
	return params, nil
}

// snippet truncates text to 140 characters, trims trailing whitespace, and
// appends an ellipsis if truncated (spec.md §4.3 step 7).
func snippet(text string) string {
	const limit = 140
	if len(text) <= limit {
		return text
	}
	truncated := strings.TrimRight(text[:limit], " \t\n\r")
	return truncated + "..."
}

func sortHitsDescending(hits []Hit) {
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].Score > hits[j-1].Score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

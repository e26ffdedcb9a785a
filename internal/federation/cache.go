// Package federation implements the Federated Cache (C4): a per-project
// in-memory mirror of the Index Store with a global Morton-prefix index and
// bounded LRU eviction, plus both search_across_projects variants from
// spec.md §4.4 — the base prefix-window enumeration and the higher-level
// cross-project ranking fusion with per-project score normalization and
// freshness boost.
package federation

import (
	"container/list"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sirc/internal/embedding"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/store"
)

// prefixLen is the number of leading hex characters of a Morton key used as
// the coarse prefix-bucket key for both the per-project and global indices.
const prefixLen = 8

type cachedNode struct {
	embedding []float32
	mortonKey string
	metadata  map[string]interface{}
	cachedAt  time.Time
	lruElem   *list.Element // element in the global LRU list
}

type lruEntry struct {
	projectID string
	nodeID    string
}

type projectCache struct {
	nodes        map[string]*cachedNode
	mortonPrefix map[string]map[string]bool // prefix -> node ids
	weight       float64                    // project_weight in [0.1, 2.0]
}

// Cache is the Federated Cache. Safe for concurrent use.
type Cache struct {
	mu                sync.RWMutex
	projects          map[string]*projectCache
	globalPrefixIndex map[string]map[string]bool // prefix -> "project:node"
	lru               *list.List                 // front = most recently used
	lruIndex          map[string]*list.Element    // "project:node" -> element
	capacity          int
	store             *store.Store
}

// New builds a Cache backed by store, holding at most capacity nodes total
// across all projects before LRU eviction kicks in.
func New(s *store.Store, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Cache{
		projects:          make(map[string]*projectCache),
		globalPrefixIndex: make(map[string]map[string]bool),
		lru:               list.New(),
		lruIndex:          make(map[string]*list.Element),
		capacity:          capacity,
		store:             s,
	}
}

func cacheKey(projectID, nodeID string) string { return projectID + ":" + nodeID }

// AddProject clears any existing cache for projectID, then bulk-ingests
// nodes. Nodes missing an embedding or Morton key are skipped with a
// warning (spec.md §4.4).
func (c *Cache) AddProject(projectID string, nodes []*model.Node) {
	timer := logging.StartTimer(logging.CategoryFederation, "AddProject")
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictProjectLocked(projectID)

	pc := &projectCache{
		nodes:        make(map[string]*cachedNode),
		mortonPrefix: make(map[string]map[string]bool),
		weight:       1.0,
	}
	c.projects[projectID] = pc

	skipped := 0
	for _, n := range nodes {
		if len(n.Embedding) == 0 || n.MortonKey == "" {
			skipped++
			continue
		}
		c.insertLocked(pc, projectID, n.ID, n.Embedding, n.MortonKey, nil)
	}
	if skipped > 0 {
		logging.Get(logging.CategoryFederation).Warn("AddProject(%s): skipped %d nodes missing embedding/morton_key", projectID, skipped)
	}
	logging.FederationDebug("AddProject(%s): cached %d nodes", projectID, len(nodes)-skipped)
}

func (c *Cache) evictProjectLocked(projectID string) {
	pc, ok := c.projects[projectID]
	if !ok {
		return
	}
	for nodeID, n := range pc.nodes {
		if n.lruElem != nil {
			c.lru.Remove(n.lruElem)
		}
		delete(c.lruIndex, cacheKey(projectID, nodeID))
	}
	c.pruneGlobalPrefixLocked(projectID)
	delete(c.projects, projectID)
}

func (c *Cache) pruneGlobalPrefixLocked(projectID string) {
	for prefix, members := range c.globalPrefixIndex {
		for member := range members {
			if len(member) > len(projectID) && member[:len(projectID)+1] == projectID+":" {
				delete(members, member)
			}
		}
		if len(members) == 0 {
			delete(c.globalPrefixIndex, prefix)
		}
	}
}

func (c *Cache) insertLocked(pc *projectCache, projectID, nodeID string, emb []float32, mortonKey string, metadata map[string]interface{}) {
	prefix := prefixOf(mortonKey)
	key := cacheKey(projectID, nodeID)

	n := &cachedNode{embedding: emb, mortonKey: mortonKey, metadata: metadata, cachedAt: time.Now().UTC()}
	pc.nodes[nodeID] = n

	if pc.mortonPrefix[prefix] == nil {
		pc.mortonPrefix[prefix] = make(map[string]bool)
	}
	pc.mortonPrefix[prefix][nodeID] = true

	if c.globalPrefixIndex[prefix] == nil {
		c.globalPrefixIndex[prefix] = make(map[string]bool)
	}
	c.globalPrefixIndex[prefix][key] = true

	elem := c.lru.PushFront(lruEntry{projectID: projectID, nodeID: nodeID})
	n.lruElem = elem
	c.lruIndex[key] = elem

	c.evictIfOverCapacityLocked()
}

func (c *Cache) evictIfOverCapacityLocked() {
	for len(c.lruIndex) > c.capacity {
		back := c.lru.Back()
		if back == nil {
			return
		}
		entry := back.Value.(lruEntry)
		c.lru.Remove(back)
		delete(c.lruIndex, cacheKey(entry.projectID, entry.nodeID))

		pc, ok := c.projects[entry.projectID]
		if !ok {
			continue
		}
		if n, ok := pc.nodes[entry.nodeID]; ok {
			prefix := prefixOf(n.mortonKey)
			delete(pc.mortonPrefix[prefix], entry.nodeID)
			if len(pc.mortonPrefix[prefix]) == 0 {
				delete(pc.mortonPrefix, prefix)
			}
			delete(pc.nodes, entry.nodeID)
			if members := c.globalPrefixIndex[prefix]; members != nil {
				delete(members, cacheKey(entry.projectID, entry.nodeID))
				if len(members) == 0 {
					delete(c.globalPrefixIndex, prefix)
				}
			}
		}
		if len(pc.nodes) == 0 {
			delete(c.projects, entry.projectID)
		}
	}
}

func prefixOf(mortonKey string) string {
	if len(mortonKey) <= prefixLen {
		return mortonKey
	}
	return mortonKey[:prefixLen]
}

// touchLocked moves an entry to the front of the LRU list, marking it
// recently accessed.
func (c *Cache) touchLocked(projectID, nodeID string) {
	key := cacheKey(projectID, nodeID)
	if elem, ok := c.lruIndex[key]; ok {
		c.lru.MoveToFront(elem)
	}
}

// GetEmbedding is cache-first with a persistence fallback that opportunistically
// caches the fetched record.
func (c *Cache) GetEmbedding(nodeID, projectID string) ([]float32, error) {
	timer := logging.StartTimer(logging.CategoryFederation, "GetEmbedding")
	defer timer.Stop()

	c.mu.Lock()
	if pc, ok := c.projects[projectID]; ok {
		if n, ok := pc.nodes[nodeID]; ok {
			c.touchLocked(projectID, nodeID)
			emb := n.embedding
			c.mu.Unlock()
			return emb, nil
		}
	}
	c.mu.Unlock()

	n, err := c.store.GetNode(nodeID)
	if err != nil || n == nil {
		return nil, err
	}

	c.mu.Lock()
	pc, ok := c.projects[projectID]
	if !ok {
		pc = &projectCache{nodes: make(map[string]*cachedNode), mortonPrefix: make(map[string]map[string]bool), weight: 1.0}
		c.projects[projectID] = pc
	}
	if len(n.Embedding) > 0 && n.MortonKey != "" {
		c.insertLocked(pc, projectID, nodeID, n.Embedding, n.MortonKey, nil)
	}
	c.mu.Unlock()

	return n.Embedding, nil
}

// WarmupCache bulk-loads every node for the given projects from persistence.
func (c *Cache) WarmupCache(projectIDs []string) error {
	timer := logging.StartTimer(logging.CategoryFederation, "WarmupCache")
	defer timer.Stop()

	for _, projectID := range projectIDs {
		nodes, err := c.store.GetAllNodes(0)
		if err != nil {
			return err
		}
		var projectNodes []*model.Node
		for _, n := range nodes {
			if n.ProjectID == projectID {
				projectNodes = append(projectNodes, n)
			}
		}
		c.AddProject(projectID, projectNodes)
	}
	return nil
}

// ClearCache empties the cache entirely.
func (c *Cache) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects = make(map[string]*projectCache)
	c.globalPrefixIndex = make(map[string]map[string]bool)
	c.lru = list.New()
	c.lruIndex = make(map[string]*list.Element)
}

// SetProjectWeight sets the [0.1, 2.0] fusion weight used by SearchAcrossProjects.
func (c *Cache) SetProjectWeight(projectID string, weight float64) {
	if weight < 0.1 {
		weight = 0.1
	}
	if weight > 2.0 {
		weight = 2.0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pc, ok := c.projects[projectID]; ok {
		pc.weight = weight
	}
}

// CrossProjectHit is one result of SearchAcrossProjects.
type CrossProjectHit struct {
	ProjectID string
	NodeID    string
	Score     float64
}

// CrossProjectOptions configures SearchAcrossProjects.
type CrossProjectOptions struct {
	Projects           []string
	TopK               int
	PrefilterMultiplier int
	QueryMortonKey      string
}

// SearchAcrossProjects fans out across projects (bounded by the number of
// active projects), normalizes each project's scores to [0,1], applies the
// project weight and freshness boost, merges, and returns the global top k
// (spec.md §4.4 "Cross-project ranking fusion").
func (c *Cache) SearchAcrossProjects(ctx context.Context, queryEmbedding []float32, opts CrossProjectOptions) ([]CrossProjectHit, error) {
	timer := logging.StartTimer(logging.CategoryFederation, "SearchAcrossProjects")
	defer timer.Stop()

	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.PrefilterMultiplier <= 0 {
		opts.PrefilterMultiplier = 3
	}

	results := make([][]CrossProjectHit, len(opts.Projects))
	g, gctx := errgroup.WithContext(ctx)

	for i, projectID := range opts.Projects {
		i, projectID := i, projectID
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			hits, err := c.searchProject(projectID, queryEmbedding, opts)
			if err != nil {
				logging.Get(logging.CategoryFederation).Warn("SearchAcrossProjects: project %s degraded: %v", projectID, err)
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []CrossProjectHit
	for _, hits := range results {
		merged = append(merged, hits...)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > opts.TopK {
		merged = merged[:opts.TopK]
	}
	return merged, nil
}

func (c *Cache) searchProject(projectID string, queryEmbedding []float32, opts CrossProjectOptions) ([]CrossProjectHit, error) {
	c.mu.RLock()
	pc, ok := c.projects[projectID]
	c.mu.RUnlock()
	if !ok {
		// Not cached: bulk load from persistence per spec.md §4.4 ("for each
		// project, if not cached, bulk load from persistence") rather than
		// silently dropping this project from the cross-project merge.
		if err := c.WarmupCache([]string{projectID}); err != nil {
			return nil, err
		}
		c.mu.RLock()
		pc, ok = c.projects[projectID]
		c.mu.RUnlock()
		if !ok {
			return nil, nil
		}
	}

	candidateIDs := c.prefilterCandidates(pc, opts.QueryMortonKey, opts.TopK*opts.PrefilterMultiplier)

	type scored struct {
		nodeID string
		score  float64
	}
	var raw []scored

	c.mu.RLock()
	for _, nodeID := range candidateIDs {
		n, ok := pc.nodes[nodeID]
		if !ok {
			continue
		}
		score, err := embedding.CosineSimilarity(queryEmbedding, n.embedding)
		if err != nil {
			continue
		}
		raw = append(raw, scored{nodeID: nodeID, score: score})
	}
	weight := pc.weight
	c.mu.RUnlock()

	if len(raw) == 0 {
		return nil, nil
	}

	minScore, maxScore := raw[0].score, raw[0].score
	for _, r := range raw {
		if r.score < minScore {
			minScore = r.score
		}
		if r.score > maxScore {
			maxScore = r.score
		}
	}
	scoreRange := maxScore - minScore

	out := make([]CrossProjectHit, 0, len(raw))
	for _, r := range raw {
		normalized := 1.0
		if scoreRange > 0 {
			normalized = (r.score - minScore) / scoreRange
		}

		c.mu.RLock()
		n := pc.nodes[r.nodeID]
		daysSinceAccess := time.Since(n.cachedAt).Hours() / 24
		c.mu.RUnlock()

		freshnessBoost := 1 + 0.2*math.Exp(-daysSinceAccess/30)
		fused := normalized * weight * freshnessBoost

		out = append(out, CrossProjectHit{ProjectID: projectID, NodeID: r.nodeID, Score: fused})
	}
	return out, nil
}

// prefixWindowStep and prefixWindowRadius implement spec.md §4.4's
// "enumerate nearby prefixes center_prefix ± R (step = 16, R chosen
// empirically, e.g. 256)".
const (
	prefixWindowStep   = 16
	prefixWindowRadius = 256
)

// prefixWindow returns the hex prefixes center-R*step .. center+R*step,
// stepping by step, clamped to non-negative values, each zero-padded to the
// width of center so that keys shorter than prefixLen still match.
func prefixWindow(center string) []string {
	val, err := strconv.ParseUint(center, 16, 64)
	if err != nil {
		return []string{center}
	}
	prefixes := make([]string, 0, 2*prefixWindowRadius+1)
	for i := -prefixWindowRadius; i <= prefixWindowRadius; i++ {
		offset := int64(i) * int64(prefixWindowStep)
		v := int64(val) + offset
		if v < 0 {
			continue
		}
		prefixes = append(prefixes, fmt.Sprintf("%0*x", len(center), uint64(v)))
	}
	return prefixes
}

// splitCacheKey reverses cacheKey's "project:node" encoding.
func splitCacheKey(key string) (projectID, nodeID string, ok bool) {
	idx := strings.Index(key, ":")
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+1:], true
}

// SearchAcrossProjectsBase implements the base C4 search_across_projects
// contract of spec.md §4.4, distinct from SearchAcrossProjects's higher-level
// ranking-fusion variant above: when a query Morton key is given it walks
// globalPrefixIndex over the center_prefix ± R window instead of per-project
// exact-prefix match or per-project normalization/weighting; otherwise it
// bulk-loads any requested, not-yet-cached project from persistence. Scores
// are plain cosine similarity, sorted once globally.
func (c *Cache) SearchAcrossProjectsBase(queryEmbedding []float32, opts CrossProjectOptions) ([]CrossProjectHit, error) {
	timer := logging.StartTimer(logging.CategoryFederation, "SearchAcrossProjectsBase")
	defer timer.Stop()

	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.PrefilterMultiplier <= 0 {
		opts.PrefilterMultiplier = 3
	}

	wanted := make(map[string]bool, len(opts.Projects))
	for _, p := range opts.Projects {
		wanted[p] = true
	}

	var candidates []lruEntry

	if opts.QueryMortonKey != "" {
		need := opts.TopK * opts.PrefilterMultiplier * len(opts.Projects)
		if need <= 0 {
			need = opts.TopK * opts.PrefilterMultiplier
		}
		c.mu.RLock()
		for _, prefix := range prefixWindow(prefixOf(opts.QueryMortonKey)) {
			for key := range c.globalPrefixIndex[prefix] {
				projectID, nodeID, ok := splitCacheKey(key)
				if !ok || !wanted[projectID] {
					continue
				}
				candidates = append(candidates, lruEntry{projectID: projectID, nodeID: nodeID})
			}
			if len(candidates) >= need {
				break
			}
		}
		c.mu.RUnlock()
	} else {
		for _, projectID := range opts.Projects {
			c.mu.RLock()
			_, ok := c.projects[projectID]
			c.mu.RUnlock()
			if !ok {
				if err := c.WarmupCache([]string{projectID}); err != nil {
					logging.Get(logging.CategoryFederation).Warn("SearchAcrossProjectsBase: warmup %s failed: %v", projectID, err)
					continue
				}
			}
			c.mu.RLock()
			if pc, ok := c.projects[projectID]; ok {
				for nodeID := range pc.nodes {
					candidates = append(candidates, lruEntry{projectID: projectID, nodeID: nodeID})
				}
			}
			c.mu.RUnlock()
		}
	}

	type scored struct {
		hit   CrossProjectHit
		score float64
	}
	var raw []scored
	for _, cand := range candidates {
		c.mu.RLock()
		var n *cachedNode
		if pc, ok := c.projects[cand.projectID]; ok {
			n = pc.nodes[cand.nodeID]
		}
		c.mu.RUnlock()
		if n == nil {
			continue
		}
		score, err := embedding.CosineSimilarity(queryEmbedding, n.embedding)
		if err != nil {
			continue
		}
		raw = append(raw, scored{hit: CrossProjectHit{ProjectID: cand.projectID, NodeID: cand.nodeID, Score: score}, score: score})
	}

	sort.Slice(raw, func(i, j int) bool { return raw[i].score > raw[j].score })
	if len(raw) > opts.TopK {
		raw = raw[:opts.TopK]
	}

	out := make([]CrossProjectHit, len(raw))
	for i, r := range raw {
		out[i] = r.hit
	}
	return out, nil
}

// prefilterCandidates returns node ids via Morton prefix match when a query
// key is given, else every cached node in the project (used by degraded
// linear-scan callers).
func (c *Cache) prefilterCandidates(pc *projectCache, queryMortonKey string, limit int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if queryMortonKey == "" {
		ids := make([]string, 0, len(pc.nodes))
		for id := range pc.nodes {
			ids = append(ids, id)
		}
		return ids
	}

	prefix := prefixOf(queryMortonKey)
	members := pc.mortonPrefix[prefix]
	if len(members) == 0 {
		ids := make([]string, 0, len(pc.nodes))
		for id := range pc.nodes {
			ids = append(ids, id)
		}
		return ids
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids
}

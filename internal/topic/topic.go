// Package topic implements the Topic Modeller (C8): online incremental
// clustering of nodes by centroid similarity, with TF-IDF keyword
// extraction and exponential weight decay.
package topic

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/store"
)

// Modeller holds the online clustering state (spec.md §4.8). Safe for
// concurrent use.
type Modeller struct {
	mu          sync.RWMutex
	store       *store.Store
	cfg         config.TopicConfig
	decayWindow time.Duration
	topics      map[string]*model.Topic
	nodeTopic   map[string]string
	nextID      int
}

// New builds a Modeller. decayWindow is the half-life duration for weight decay.
func New(s *store.Store, cfg config.TopicConfig, decayWindow time.Duration) *Modeller {
	return &Modeller{
		store: s, cfg: cfg, decayWindow: decayWindow,
		topics: make(map[string]*model.Topic), nodeTopic: make(map[string]string),
	}
}

// UpdateWithNodes runs update_with_nodes per spec.md §4.8: decay, then
// assign-or-create per node, then refresh keywords for affected topics,
// then prune.
func (m *Modeller) UpdateWithNodes(ids []string) error {
	timer := logging.StartTimer(logging.CategoryTopic, "UpdateWithNodes")
	defer timer.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.decayAllLocked()

	affected := make(map[string]bool)
	for _, id := range ids {
		n, err := m.store.GetNode(id)
		if err != nil {
			return err
		}
		if n == nil || len(n.Embedding) == 0 {
			continue
		}
		topicID := m.assignLocked(n)
		affected[topicID] = true
	}

	for topicID := range affected {
		m.refreshKeywordsLocked(topicID)
	}

	m.pruneLocked()
	return nil
}

func (m *Modeller) decayAllLocked() {
	now := time.Now().UTC()
	halfLifeHours := m.decayWindow.Hours()
	if halfLifeHours <= 0 {
		halfLifeHours = 168
	}
	for _, t := range m.topics {
		deltaHours := now.Sub(t.LastUpdated).Hours()
		if deltaHours <= 0 {
			continue
		}
		t.Weight = math.Max(0.01, t.Weight*math.Pow(0.5, deltaHours/halfLifeHours))
		t.LastUpdated = now
	}
}

func (m *Modeller) assignLocked(n *model.Node) string {
	bestID := ""
	bestScore := -2.0
	for id, t := range m.topics {
		score, err := embedding.CosineSimilarity(n.Embedding, t.Centroid)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}

	threshold := m.cfg.SimilarityThreshold
	if bestID != "" && bestScore >= threshold {
		m.addToTopicLocked(bestID, n)
		return bestID
	}

	maxTopics := m.cfg.MaxTopics
	if maxTopics <= 0 {
		maxTopics = 64
	}
	if len(m.topics) >= maxTopics && bestID != "" {
		logging.TopicDebug("assign: at capacity (%d topics), force-assigning node %s to closest topic %s (score %.3f)", maxTopics, n.ID, bestID, bestScore)
		m.addToTopicLocked(bestID, n)
		return bestID
	}

	return m.createTopicLocked(n)
}

func (m *Modeller) addToTopicLocked(topicID string, n *model.Node) {
	t := m.topics[topicID]
	count := len(t.NodeIDs)

	newCentroid := make([]float32, len(t.Centroid))
	for i := range t.Centroid {
		var nv float32
		if i < len(n.Embedding) {
			nv = n.Embedding[i]
		}
		newCentroid[i] = t.Centroid[i] + (nv-t.Centroid[i])/float32(count+1)
	}
	t.Centroid = newCentroid

	t.NodeIDs[n.ID] = struct{}{}
	t.Projects[n.ProjectID] = struct{}{}
	t.Weight = math.Min(1.0, t.Weight+0.1)
	t.LastUpdated = time.Now().UTC()
	m.nodeTopic[n.ID] = topicID
}

func (m *Modeller) createTopicLocked(n *model.Node) string {
	m.nextID++
	id := fmt.Sprintf("topic_%d", m.nextID)
	centroid := append([]float32{}, n.Embedding...)
	now := time.Now().UTC()

	t := &model.Topic{
		TopicID:     id,
		Centroid:    centroid,
		NodeIDs:     map[string]struct{}{n.ID: {}},
		Projects:    map[string]struct{}{n.ProjectID: {}},
		Weight:      1.0,
		CreatedAt:   now,
		LastUpdated: now,
	}
	m.topics[id] = t
	m.nodeTopic[n.ID] = id
	return id
}

func (m *Modeller) pruneLocked() {
	minNodes := m.cfg.MinNodes
	if minNodes <= 0 {
		minNodes = 2
	}
	for id, t := range m.topics {
		if t.Weight < 0.05 || len(t.NodeIDs) < minNodes {
			for nodeID := range t.NodeIDs {
				delete(m.nodeTopic, nodeID)
			}
			delete(m.topics, id)
			logging.TopicDebug("prune: removed topic %s (weight=%.3f members=%d)", id, t.Weight, len(t.NodeIDs))
		}
	}
}

// refreshKeywordsLocked recomputes TF-IDF keyword scores over a topic's
// member texts (spec.md §4.8 "asynchronously refresh keywords", applied
// synchronously here since the Modeller already holds the write lock for
// the whole batch).
func (m *Modeller) refreshKeywordsLocked(topicID string) {
	t, ok := m.topics[topicID]
	if !ok {
		return
	}

	var docs [][]string
	for nodeID := range t.NodeIDs {
		n, err := m.store.GetNode(nodeID)
		if err != nil || n == nil {
			continue
		}
		docs = append(docs, tokenize(n.Text))
	}
	if len(docs) == 0 {
		return
	}

	df := make(map[string]int)
	tfSum := make(map[string]float64)
	for _, doc := range docs {
		counts := make(map[string]int)
		for _, w := range doc {
			counts[w]++
		}
		for w, c := range counts {
			tfSum[w] += float64(c) / float64(len(doc))
			df[w]++
		}
	}

	n := float64(len(docs))
	type scoredWord struct {
		word  string
		score float64
	}
	scored := make([]scoredWord, 0, len(tfSum))
	for w, tf := range tfSum {
		scored = append(scored, scoredWord{word: w, score: tf * math.Log(n/float64(df[w]))})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	maxKeywords := m.cfg.MaxKeywords
	if maxKeywords <= 0 {
		maxKeywords = 10
	}
	if len(scored) > maxKeywords {
		scored = scored[:maxKeywords]
	}

	keywords := make([]model.KeywordScore, 0, len(scored))
	for _, sw := range scored {
		keywords = append(keywords, model.KeywordScore{Word: sw.word, Score: sw.score})
	}
	t.Keywords = keywords
}

// tokenize lowercases, strips non-word runs, and keeps tokens longer than 3
// characters (spec.md §4.8 keyword extraction).
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 3 {
			tokens = append(tokens, cur.String())
		}
		cur.Reset()
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// View is a read-only snapshot of a topic for query responses.
type View struct {
	TopicID     string
	Centroid    []float32
	Keywords    []model.KeywordScore
	NodeCount   int
	Projects    []string
	Weight      float64
	CreatedAt   time.Time
	LastUpdated time.Time
}

// QueryOptions filters GetTopics.
type QueryOptions struct {
	ProjectIDs []string
	Since      time.Time
}

// GetTopics returns live topics, optionally filtered by project overlap and
// a last-updated cutoff, sorted by weight descending.
func (m *Modeller) GetTopics(opts QueryOptions) []View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []View
	for _, t := range m.topics {
		if !opts.Since.IsZero() && t.LastUpdated.Before(opts.Since) {
			continue
		}
		if len(opts.ProjectIDs) > 0 && !projectsOverlap(t.Projects, opts.ProjectIDs) {
			continue
		}
		out = append(out, toView(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// GetTopicForNode resolves a node's current topic via the reverse map.
func (m *Modeller) GetTopicForNode(nodeID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.nodeTopic[nodeID]
	return id, ok
}

// GetNodesInTopic returns a topic's member node ids.
func (m *Modeller) GetNodesInTopic(topicID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[topicID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(t.NodeIDs))
	for id := range t.NodeIDs {
		out = append(out, id)
	}
	return out
}

func projectsOverlap(projects map[string]struct{}, ids []string) bool {
	for _, id := range ids {
		if _, ok := projects[id]; ok {
			return true
		}
	}
	return false
}

func toView(t *model.Topic) View {
	projects := make([]string, 0, len(t.Projects))
	for p := range t.Projects {
		projects = append(projects, p)
	}
	return View{
		TopicID: t.TopicID, Centroid: t.Centroid, Keywords: t.Keywords,
		NodeCount: len(t.NodeIDs), Projects: projects, Weight: t.Weight,
		CreatedAt: t.CreatedAt, LastUpdated: t.LastUpdated,
	}
}

// Package memory implements the Memory & Context Manager (C9): an
// append-only interaction log plus decay-weighted context suggestions.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"sirc/internal/config"
	"sirc/internal/embedding"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

// Manager is the stateless facade over the interaction log.
type Manager struct {
	store *store.Store
	cfg   config.MemoryConfig
}

// New builds a Manager.
func New(s *store.Store, cfg config.MemoryConfig) *Manager {
	return &Manager{store: s, cfg: cfg}
}

// RecordFields are the caller-supplied fields for record_interaction.
type RecordFields struct {
	NodeID     string
	ActionType model.ActionType
	Embedding  []float32
	Meta       map[string]interface{}
}

// RecordInteraction validates action_type against the closed taxonomy,
// assigns a new id and timestamp, and appends to the log (spec.md §4.9).
func (m *Manager) RecordInteraction(f RecordFields) (*model.Interaction, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "RecordInteraction")
	defer timer.Stop()

	if !model.ValidActionTypes[f.ActionType] {
		return nil, sircerr.Field(sircerr.InvalidInput, "action_type", fmt.Sprintf("%q is not a recognized action type", f.ActionType))
	}

	in := &model.Interaction{
		ID:         "int_" + uuid.New().String(),
		NodeID:     f.NodeID,
		ActionType: f.ActionType,
		At:         time.Now().UTC(),
		Embedding:  f.Embedding,
		Meta:       f.Meta,
	}
	if err := m.store.SaveInteraction(in); err != nil {
		return nil, err
	}
	return in, nil
}

// RecentFilters narrows GetRecentInteractions.
type RecentFilters struct {
	ActionType model.ActionType
	NodeID     string
}

// GetRecentInteractions returns up to limit interactions, most recent first.
func (m *Manager) GetRecentInteractions(limit int, f RecentFilters) ([]*model.Interaction, error) {
	return m.store.GetRecentInteractions(limit, store.InteractionFilters{ActionType: f.ActionType, NodeID: f.NodeID})
}

// Purge deletes interactions older than olderThanMs and returns the count deleted.
func (m *Manager) Purge(olderThanMs int64) (int, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Purge")
	defer timer.Stop()
	return m.store.PurgeInteractions(olderThanMs)
}

// Suggestion is one ranked result of suggest (spec.md §4.9).
type Suggestion struct {
	NodeID            string
	Score             float64
	Reason            string
	Title             string
	InteractionCount  int
	AvgSimilarity     float64
	MostRecentAction  model.ActionType
}

// SuggestOptions configures suggest.
type SuggestOptions struct {
	QueryEmbedding  []float32
	TopN            int
	HalfLifeHours   float64
	Alpha           float64
	Beta            float64
	MaxInteractions int
}

func (o *SuggestOptions) fillDefaults(cfg config.MemoryConfig) {
	if o.HalfLifeHours <= 0 {
		o.HalfLifeHours = cfg.HalfLifeHours
	}
	if o.Alpha == 0 && o.Beta == 0 {
		o.Alpha, o.Beta = cfg.Alpha, cfg.Beta
	}
	if o.MaxInteractions <= 0 {
		o.MaxInteractions = cfg.MaxInteractions
	}
	if o.TopN <= 0 {
		o.TopN = 10
	}
}

type aggregate struct {
	nodeID          string
	best            float64
	count           int
	sumSim          float64
	mostRecentAt    time.Time
	mostRecentAction model.ActionType
}

// Suggest runs suggest per spec.md §4.9: fetch recent interactions, score
// each by similarity-plus-recency, keep the maximum per node, and return the
// top n with a human-readable reason string.
func (m *Manager) Suggest(ctx context.Context, opts SuggestOptions) ([]Suggestion, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Suggest")
	defer timer.Stop()

	opts.fillDefaults(m.cfg)

	rows, err := m.store.GetRecentInteractions(opts.MaxInteractions, store.InteractionFilters{})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	aggregates := make(map[string]*aggregate)

	for _, row := range rows {
		if row.NodeID == "" {
			continue
		}

		sim := 0.0
		if len(row.Embedding) > 0 && len(opts.QueryEmbedding) > 0 {
			if s, err := embedding.CosineSimilarity(opts.QueryEmbedding, row.Embedding); err == nil {
				sim = s
			}
		}
		deltaHours := now.Sub(row.At).Hours()
		recency := math.Exp(-math.Ln2 * deltaHours / opts.HalfLifeHours)
		score := opts.Alpha*sim + opts.Beta*recency

		agg, ok := aggregates[row.NodeID]
		if !ok {
			agg = &aggregate{nodeID: row.NodeID}
			aggregates[row.NodeID] = agg
		}
		agg.count++
		agg.sumSim += sim
		if row.At.After(agg.mostRecentAt) {
			agg.mostRecentAt = row.At
			agg.mostRecentAction = row.ActionType
		}
		if score > agg.best {
			agg.best = score
		}
	}

	out := make([]Suggestion, 0, len(aggregates))
	for _, agg := range aggregates {
		node, _ := m.store.GetNode(agg.nodeID)
		title := agg.nodeID
		if node != nil {
			title = node.Title
		}
		avgSim := agg.sumSim / float64(agg.count)
		out = append(out, Suggestion{
			NodeID: agg.nodeID, Score: agg.best, Title: title,
			InteractionCount: agg.count, AvgSimilarity: avgSim, MostRecentAction: agg.mostRecentAction,
			Reason: buildReason(agg.mostRecentAction, now.Sub(agg.mostRecentAt), avgSim, agg.count),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > opts.TopN {
		out = out[:opts.TopN]
	}
	return out, nil
}

// buildReason renders "Recent <action> (<1h ago)" / "<action> Nh ago" /
// "<action> Nd ago", optionally appended with similarity and interaction
// count (spec.md §4.9 "reason construction").
func buildReason(action model.ActionType, elapsed time.Duration, avgSim float64, count int) string {
	var base string
	switch {
	case elapsed < time.Hour:
		base = fmt.Sprintf("Recent %s (<1h ago)", action)
	case elapsed < 24*time.Hour:
		base = fmt.Sprintf("%s %dh ago", action, int(elapsed.Hours()))
	default:
		base = fmt.Sprintf("%s %dd ago", action, int(elapsed.Hours()/24))
	}
	if avgSim > 0 {
		base += fmt.Sprintf(", sim %.2f", avgSim)
	}
	if count > 1 {
		base += fmt.Sprintf(", %d interactions", count)
	}
	return base
}

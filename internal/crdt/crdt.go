// Package crdt implements the CRDT Bus (C10): a per-document operation log,
// vector clock, and materialised state with last-write-wins conflict
// resolution and tombstoned deletes.
package crdt

import (
	"fmt"
	"sync"
	"time"

	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
)

// NodeState is the materialised view of one node within a document.
type NodeState struct {
	Fields    map[string]interface{}
	CreatedBy string
	CreatedAt int64
	UpdatedBy string
	UpdatedAt int64
	Deleted   bool
	DeletedBy string
	DeletedAt int64
}

// LinkState is the materialised view of one link within a document.
type LinkState struct {
	Fields    map[string]interface{}
	CreatedBy string
	CreatedAt int64
	UpdatedBy string
	UpdatedAt int64
	Deleted   bool
	DeletedBy string
	DeletedAt int64
}

// docState holds one project's replay state (spec.md §4.10 "State per document").
type docState struct {
	nodes          map[string]*NodeState
	links          map[string]*LinkState
	metadata       map[string]interface{}
	metaUpdatedAt  int64
	metaUpdatedBy  string
	vectorClock    map[string]uint64
	nextSeq        map[string]uint64
	operationCount int
	updatedAt      int64
}

func newDocState() *docState {
	return &docState{
		nodes: make(map[string]*NodeState), links: make(map[string]*LinkState),
		metadata: make(map[string]interface{}), vectorClock: make(map[string]uint64),
		nextSeq: make(map[string]uint64),
	}
}

// Bus coordinates CRDT documents, one per project. Safe for concurrent use.
type Bus struct {
	mu    sync.Mutex
	store *store.Store
	docs  map[string]*docState
}

// New builds a Bus backed by the given store for durable op persistence.
func New(s *store.Store) *Bus {
	return &Bus{store: s, docs: make(map[string]*docState)}
}

func (b *Bus) getOrCreateDoc(docID string) *docState {
	d, ok := b.docs[docID]
	if !ok {
		d = newDocState()
		b.docs[docID] = d
	}
	return d
}

// ChangeFields describes a local change for apply_local_change.
type ChangeFields struct {
	Type    model.OperationType
	ActorID string
	Data    map[string]interface{}
}

// ApplyLocalChange stamps a new op with the next per-actor sequence, appends
// it durably, applies it to materialised state, and advances the vector
// clock (spec.md §4.10 "apply_local_change").
func (b *Bus) ApplyLocalChange(docID string, f ChangeFields) (*model.Operation, error) {
	timer := logging.StartTimer(logging.CategoryCRDT, "ApplyLocalChange")
	defer timer.Stop()

	if f.ActorID == "" {
		return nil, sircerr.Field(sircerr.InvalidInput, "actor_id", "actor_id is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc := b.getOrCreateDoc(docID)
	seq := doc.nextSeq[f.ActorID] + 1
	doc.nextSeq[f.ActorID] = seq

	ts := time.Now().UTC().UnixMilli()
	op := &model.Operation{
		OpID:      fmt.Sprintf("%s@%d@%d", f.ActorID, seq, ts),
		DocID:     docID,
		Type:      f.Type,
		ActorID:   f.ActorID,
		Timestamp: ts,
		Sequence:  seq,
		Data:      f.Data,
	}

	if err := b.store.SaveOperation(op); err != nil {
		return nil, err
	}

	applyLocked(doc, op)
	doc.vectorClock[f.ActorID] = seq
	doc.operationCount++
	doc.updatedAt = ts

	return op, nil
}

// MergeRemoteChange applies an op received from another actor/replica.
// Idempotent on op_id; tolerates but warns on clock skew (spec.md §4.10
// "merge_remote_change"). Returns false if the op was already known.
func (b *Bus) MergeRemoteChange(docID string, op *model.Operation) (bool, error) {
	timer := logging.StartTimer(logging.CategoryCRDT, "MergeRemoteChange")
	defer timer.Stop()

	existing, err := b.store.GetOperation(op.OpID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	doc := b.getOrCreateDoc(docID)
	known := doc.vectorClock[op.ActorID]
	if op.Sequence <= known {
		logging.Get(logging.CategoryCRDT).Warn(
			"merge_remote_change: clock skew on doc %s actor %s: incoming sequence %d <= known %d, applying anyway",
			docID, op.ActorID, op.Sequence, known)
	}

	if err := b.store.SaveOperation(op); err != nil {
		return false, err
	}

	applyLocked(doc, op)
	if op.Sequence > known {
		doc.vectorClock[op.ActorID] = op.Sequence
	}
	doc.operationCount++
	if op.Timestamp > doc.updatedAt {
		doc.updatedAt = op.Timestamp
	}

	return true, nil
}

// applyLocked is the total switch over OperationType (spec.md §4.10 "State
// transitions by type"). New operation tags require a new case here by
// design, not a generic dispatch.
func applyLocked(doc *docState, op *model.Operation) {
	switch op.Type {
	case model.OpCreateNode:
		applyCreateNode(doc, op)
	case model.OpUpdateNode:
		applyUpdateNode(doc, op)
	case model.OpDeleteNode:
		applyDeleteNode(doc, op)
	case model.OpCreateLink:
		applyCreateLink(doc, op)
	case model.OpDeleteLink:
		applyDeleteLink(doc, op)
	case model.OpUpdateMetadata:
		applyUpdateMetadata(doc, op)
	}
}

func dataID(op *model.Operation) string {
	id, _ := op.Data["id"].(string)
	return id
}

func fieldsWithoutID(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	return out
}

func applyCreateNode(doc *docState, op *model.Operation) {
	id := dataID(op)
	if id == "" {
		return
	}
	if _, exists := doc.nodes[id]; exists {
		return
	}
	doc.nodes[id] = &NodeState{
		Fields: fieldsWithoutID(op.Data), CreatedBy: op.ActorID, CreatedAt: op.Timestamp, UpdatedAt: op.Timestamp,
	}
}

func applyUpdateNode(doc *docState, op *model.Operation) {
	id := dataID(op)
	n, ok := doc.nodes[id]
	if !ok || n.Deleted {
		return
	}
	if !wins(op.Timestamp, op.ActorID, n.UpdatedAt, n.UpdatedBy) {
		return
	}
	for k, v := range fieldsWithoutID(op.Data) {
		n.Fields[k] = v
	}
	n.UpdatedAt = op.Timestamp
	n.UpdatedBy = op.ActorID
}

func applyDeleteNode(doc *docState, op *model.Operation) {
	id := dataID(op)
	n, ok := doc.nodes[id]
	if !ok {
		return
	}
	n.Deleted = true
	n.DeletedAt = op.Timestamp
	n.DeletedBy = op.ActorID
}

func applyCreateLink(doc *docState, op *model.Operation) {
	id := dataID(op)
	if id == "" {
		return
	}
	if _, exists := doc.links[id]; exists {
		return
	}
	doc.links[id] = &LinkState{
		Fields: fieldsWithoutID(op.Data), CreatedBy: op.ActorID, CreatedAt: op.Timestamp, UpdatedAt: op.Timestamp,
	}
}

func applyDeleteLink(doc *docState, op *model.Operation) {
	id := dataID(op)
	l, ok := doc.links[id]
	if !ok {
		return
	}
	l.Deleted = true
	l.DeletedAt = op.Timestamp
	l.DeletedBy = op.ActorID
}

func applyUpdateMetadata(doc *docState, op *model.Operation) {
	for k, v := range op.Data {
		doc.metadata[k] = v
	}
	doc.metaUpdatedAt = op.Timestamp
	doc.metaUpdatedBy = op.ActorID
}

// wins implements the (timestamp, actor_id) lexicographic tiebreak for
// concurrent updates (spec.md §4.10 "Conflict resolution"): the greater pair
// wins, applied transitively so final state is independent of arrival order.
func wins(ts int64, actorID string, currentTs int64, currentActorID string) bool {
	if ts != currentTs {
		return ts > currentTs
	}
	return actorID > currentActorID
}

// Snapshot is a read-only export of live (non-deleted) document state
// (spec.md §4.10 "Snapshot export").
type Snapshot struct {
	Nodes          map[string]NodeState
	Links          map[string]LinkState
	Metadata       map[string]interface{}
	OperationCount int
	VectorClock    map[string]uint64
	UpdatedAt      int64
}

// GetSnapshot returns only live nodes/links plus metadata, operation count,
// a copy of the vector clock, and the document's updated_at.
func (b *Bus) GetSnapshot(docID string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, ok := b.docs[docID]
	if !ok {
		return Snapshot{Nodes: map[string]NodeState{}, Links: map[string]LinkState{}, Metadata: map[string]interface{}{}, VectorClock: map[string]uint64{}}
	}

	nodes := make(map[string]NodeState)
	for id, n := range doc.nodes {
		if !n.Deleted {
			nodes[id] = *n
		}
	}
	links := make(map[string]LinkState)
	for id, l := range doc.links {
		if !l.Deleted {
			links[id] = *l
		}
	}
	metadata := make(map[string]interface{}, len(doc.metadata))
	for k, v := range doc.metadata {
		metadata[k] = v
	}
	clock := make(map[string]uint64, len(doc.vectorClock))
	for k, v := range doc.vectorClock {
		clock[k] = v
	}

	return Snapshot{
		Nodes: nodes, Links: links, Metadata: metadata,
		OperationCount: doc.operationCount, VectorClock: clock, UpdatedAt: doc.updatedAt,
	}
}

// GetOperationsSince returns every durable op for docID whose sequence
// exceeds the value for its actor in clock (spec.md §4.10).
func (b *Bus) GetOperationsSince(docID string, clock map[string]uint64) ([]*model.Operation, error) {
	return b.store.GetOperationsSinceClock(docID, clock)
}

// HistoryFilters narrows GetOperationHistory.
type HistoryFilters struct {
	ActorID string
	Type    model.OperationType
}

// GetOperationHistory is a filter-and-truncate helper over the durable log.
func (b *Bus) GetOperationHistory(docID string, f HistoryFilters, limit int) ([]*model.Operation, error) {
	return b.store.GetOperationHistory(docID, store.OperationFilters{ActorID: f.ActorID, Type: f.Type}, limit)
}

// VectorClock returns a copy of the current in-memory vector clock for docID.
func (b *Bus) VectorClock(docID string) map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	doc, ok := b.docs[docID]
	if !ok {
		return map[string]uint64{}
	}
	out := make(map[string]uint64, len(doc.vectorClock))
	for k, v := range doc.vectorClock {
		out[k] = v
	}
	return out
}

package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// RaptorStore is an in-memory RaptorRepository for RegulatoryNode rows.
type RaptorStore struct {
	mu    sync.RWMutex
	nodes map[string]domain.RegulatoryNode
	byDoc map[string][]string
}

// NewRaptorStore constructs an empty in-memory RaptorRepository.
func NewRaptorStore() *RaptorStore {
	return &RaptorStore{nodes: map[string]domain.RegulatoryNode{}, byDoc: map[string][]string{}}
}

var _ repo.RaptorRepository = (*RaptorStore)(nil)

func (r *RaptorStore) UpsertNode(_ context.Context, n domain.RegulatoryNode) (domain.RegulatoryNode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	r.nodes[n.ID] = n
	if n.SourceDocumentID != "" {
		r.byDoc[n.SourceDocumentID] = append(r.byDoc[n.SourceDocumentID], n.ID)
	}
	return n, nil
}

func (r *RaptorStore) MatchSummaries(_ context.Context, tenantID string, queryVector []float32, k int, collectionID string) ([]domain.RegulatoryNode, []float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	type hit struct {
		n domain.RegulatoryNode
		s float64
	}
	var hits []hit
	for _, n := range r.nodes {
		if n.TenantID != tenantID {
			continue
		}
		if collectionID != "" && n.CollectionID != collectionID {
			continue
		}
		hits = append(hits, hit{n: n, s: cosine(queryVector, n.Embedding)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].s > hits[j].s })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	nodes := make([]domain.RegulatoryNode, len(hits))
	scores := make([]float64, len(hits))
	for i, h := range hits {
		nodes[i], scores[i] = h.n, h.s
	}
	return nodes, scores, nil
}

func (r *RaptorStore) ResolveSummariesToChunkIDs(_ context.Context, _ string, summaryIDs []string) (map[string][]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string][]string{}
	for _, id := range summaryIDs {
		n, ok := r.nodes[id]
		if !ok {
			continue
		}
		if n.Level == 1 {
			out[id] = append([]string{}, n.ChildrenIDs...)
		} else {
			var leaves []string
			var walk func(string)
			walk = func(nodeID string) {
				child, ok := r.nodes[nodeID]
				if !ok {
					leaves = append(leaves, nodeID)
					return
				}
				if child.Level <= 1 {
					leaves = append(leaves, child.ChildrenIDs...)
					return
				}
				for _, c := range child.ChildrenIDs {
					walk(c)
				}
			}
			walk(id)
			out[id] = leaves
		}
	}
	return out, nil
}

func (r *RaptorStore) DeleteForSource(_ context.Context, _, sourceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.byDoc[sourceID] {
		delete(r.nodes, id)
	}
	delete(r.byDoc, sourceID)
	return nil
}

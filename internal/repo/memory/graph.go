package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// GraphStore is an in-memory GraphRepository keyed by (tenant_id,
// lower(name)) per invariant 4 in §3.
type GraphStore struct {
	mu         sync.RWMutex
	entities   map[string]domain.KnowledgeEntity
	byName     map[string]string // tenant_id + "\x00" + lower(name) -> entity id
	relations  []domain.KnowledgeRelation
	provenance map[string][]string // entity id -> chunk ids
	bySource   map[string][]string // source id -> entity ids, for cascade delete
}

// NewGraphStore constructs an empty in-memory GraphRepository.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		entities:   map[string]domain.KnowledgeEntity{},
		byName:     map[string]string{},
		provenance: map[string][]string{},
		bySource:   map[string][]string{},
	}
}

var _ repo.GraphRepository = (*GraphStore)(nil)

func nameKey(tenantID, name string) string {
	return tenantID + "\x00" + strings.ToLower(name)
}

func (g *GraphStore) UpsertEntity(_ context.Context, e domain.KnowledgeEntity) (domain.KnowledgeEntity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := nameKey(e.TenantID, e.Name)
	if id, ok := g.byName[key]; ok {
		existing := g.entities[id]
		for k, v := range e.Props {
			if existing.Props == nil {
				existing.Props = map[string]any{}
			}
			existing.Props[k] = v
		}
		g.entities[id] = existing
		return existing, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	g.entities[e.ID] = e
	g.byName[key] = e.ID
	return e, nil
}

func (g *GraphStore) UpsertRelation(_ context.Context, r domain.KnowledgeRelation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, existing := range g.relations {
		if existing.SourceID == r.SourceID && existing.TargetID == r.TargetID && existing.Type == r.Type {
			return nil
		}
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	g.relations = append(g.relations, r)
	return nil
}

func (g *GraphStore) LinkProvenance(_ context.Context, p domain.KnowledgeNodeProvenance) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.provenance[p.EntityID] = append(g.provenance[p.EntityID], p.ChunkID)
	return nil
}

// SearchMultiHop performs a bounded BFS seeded from every entity of the
// tenant (narrowed by entityTypes when given), each seed at similarity 1.0
// decayed per hop (§4.7 step 4); queryVector is not used for scoring.
func (g *GraphStore) SearchMultiHop(_ context.Context, tenantID string, queryVector []float32, threshold float64, limit, maxHops int, decayFactor float64, entityTypes, relationTypes []string) ([]repo.GraphHit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	typeSet := map[string]bool{}
	for _, t := range entityTypes {
		typeSet[t] = true
	}
	relSet := map[string]bool{}
	for _, r := range relationTypes {
		relSet[r] = true
	}

	seeds := []repo.GraphHit{}
	for id, e := range g.entities {
		if e.TenantID != tenantID {
			continue
		}
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		seeds = append(seeds, repo.GraphHit{EntityID: id, Name: e.Name, Similarity: 1.0, Hops: 0})
	}

	visited := map[string]bool{}
	var hits []repo.GraphHit
	frontier := seeds
	for hop := 0; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []repo.GraphHit
		for _, h := range frontier {
			if visited[h.EntityID] {
				continue
			}
			visited[h.EntityID] = true
			sim := h.Similarity
			for i := 0; i < hop; i++ {
				sim *= decayFactor
			}
			if sim < threshold {
				continue
			}
			h.Similarity = sim
			h.Hops = hop
			if hop > 0 {
				h.Reasoning = "hop-" + strconv.Itoa(hop)
			}
			hits = append(hits, h)
			for _, r := range g.relations {
				if len(relSet) > 0 && !relSet[r.Type] {
					continue
				}
				if r.SourceID == h.EntityID && !visited[r.TargetID] {
					if e, ok := g.entities[r.TargetID]; ok {
						next = append(next, repo.GraphHit{EntityID: r.TargetID, Name: e.Name, Similarity: h.Similarity})
					}
				}
			}
		}
		frontier = next
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (g *GraphStore) ResolveNodeToChunkIDs(_ context.Context, _ string, entityIDs []string) (map[string][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := map[string][]string{}
	for _, id := range entityIDs {
		out[id] = append([]string{}, g.provenance[id]...)
	}
	return out, nil
}

func (g *GraphStore) DeleteForSource(_ context.Context, _, sourceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.bySource, sourceID)
	return nil
}

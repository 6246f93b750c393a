package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// ChunkStore is an in-memory ChunkRepository with a brute-force cosine scan
// and a substring/term-overlap lexical score standing in for full-text
// search, combined by the same per-source RRF contract the SQL primitive
// promises (§4.7 step 2, §9 open question).
type ChunkStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.ContentChunk
	bySrc  map[string][]string
}

// NewChunkStore constructs an empty in-memory ChunkRepository.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{byID: map[string]domain.ContentChunk{}, bySrc: map[string][]string{}}
}

var _ repo.ChunkRepository = (*ChunkStore)(nil)

func (c *ChunkStore) UpsertBatch(_ context.Context, chunks []domain.ContentChunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range chunks {
		if _, exists := c.byID[ch.ID]; !exists {
			c.bySrc[ch.SourceID] = append(c.bySrc[ch.SourceID], ch.ID)
		}
		c.byID[ch.ID] = ch
	}
	return nil
}

func (c *ChunkStore) DeleteBySource(_ context.Context, tenantID, sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.bySrc[sourceID] {
		if ch, ok := c.byID[id]; ok && ch.TenantID == tenantID {
			delete(c.byID, id)
		}
	}
	delete(c.bySrc, sourceID)
	return nil
}

func (c *ChunkStore) FetchByIDs(_ context.Context, tenantID string, ids []string) ([]domain.ContentChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ContentChunk, 0, len(ids))
	for _, id := range ids {
		if ch, ok := c.byID[id]; ok && (ch.TenantID == tenantID || ch.IsGlobal) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (c *ChunkStore) ListBySource(_ context.Context, tenantID, sourceID string) ([]domain.ContentChunk, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.ContentChunk
	for _, id := range c.bySrc[sourceID] {
		if ch, ok := c.byID[id]; ok && ch.TenantID == tenantID {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func lexicalScore(query, content string) float64 {
	q := strings.Fields(strings.ToLower(query))
	if len(q) == 0 {
		return 0
	}
	lc := strings.ToLower(content)
	hits := 0
	for _, term := range q {
		if strings.Contains(lc, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

func (c *ChunkStore) RetrieveHybrid(_ context.Context, p repo.HybridSearchParams) ([]domain.ContentChunk, []float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	standards := map[string]bool{}
	for _, s := range p.SourceStandards {
		standards[strings.ToLower(s)] = true
	}

	var candidates []domain.ContentChunk
	for _, ch := range c.byID {
		if !(ch.TenantID == p.TenantID || ch.IsGlobal) {
			continue
		}
		if p.CollectionID != "" && ch.CollectionID != p.CollectionID {
			continue
		}
		if !ch.Metadata.RetrievalEligible {
			continue
		}
		if len(standards) > 0 && ch.Metadata.SourceStandard != "" && !standards[strings.ToLower(ch.Metadata.SourceStandard)] {
			continue
		}
		candidates = append(candidates, ch)
	}

	vecOrder := append([]domain.ContentChunk{}, candidates...)
	sort.Slice(vecOrder, func(i, j int) bool {
		return cosine(p.QueryEmbedding, vecOrder[i].Embedding) > cosine(p.QueryEmbedding, vecOrder[j].Embedding)
	})
	ftsOrder := append([]domain.ContentChunk{}, candidates...)
	if p.QueryText != "" {
		sort.Slice(ftsOrder, func(i, j int) bool {
			return lexicalScore(p.QueryText, ftsOrder[i].Content) > lexicalScore(p.QueryText, ftsOrder[j].Content)
		})
	}

	rrfK := p.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	scores := map[string]float64{}
	byID := map[string]domain.ContentChunk{}
	for rank, ch := range vecOrder {
		if cosine(p.QueryEmbedding, ch.Embedding) < p.MatchThreshold {
			continue
		}
		scores[ch.ID] += p.VectorWeight / float64(rrfK+rank+1)
		byID[ch.ID] = ch
	}
	if p.QueryText != "" {
		for rank, ch := range ftsOrder {
			scores[ch.ID] += p.FTSWeight / float64(rrfK+rank+1)
			byID[ch.ID] = ch
		}
	}

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })

	limit := p.MatchCount
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	outChunks := make([]domain.ContentChunk, 0, limit)
	outScores := make([]float64, 0, limit)
	for _, id := range ids[:limit] {
		outChunks = append(outChunks, byID[id])
		outScores = append(outScores, scores[id])
	}
	return outChunks, outScores, nil
}

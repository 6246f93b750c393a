// Package engine implements the Atomic Retrieval Engine (§4.7): one
// question answered against a tenant-scoped hybrid primitive, optionally
// widened by a graph hop, with tenant stamping and structural-row dropping
// applied to every row before it leaves the engine. Grounded on
// internal/rag/retrieve/candidates.go's parallel-fan-out shape, generalized
// from the teacher's databases.FullTextSearch/VectorStore split to the
// single repo.ChunkRepository.RetrieveHybrid primitive the data model names.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
	"atomicrag/internal/retrieval/scope"
	"atomicrag/internal/tenant"
)

// Options configures one Atomic Retrieval Engine call, mirroring the
// ATOMIC_* environment table (§6).
type Options struct {
	EnableFTS      bool
	EnableGraphHop bool
	MatchThreshold float64
	RRFK           int
	VectorWeight   float64
	FTSWeight      float64
	HNSWEfSearch   int

	GraphMaxHops      int
	GraphDecayFactor  float64
	GraphHopThreshold float64

	StandardQuota int // max rows per standard when multiple are requested (§4.7 step 2)
}

// DefaultOptions mirrors the documented ATOMIC_* defaults.
func DefaultOptions() Options {
	return Options{
		EnableFTS:         true,
		EnableGraphHop:    true,
		MatchThreshold:    0.25,
		RRFK:              60,
		VectorWeight:      0.6,
		FTSWeight:         0.4,
		HNSWEfSearch:      100,
		GraphMaxHops:      2,
		GraphDecayFactor:  0.75,
		GraphHopThreshold: 0.5,
		StandardQuota:     20,
	}
}

// Engine is the Atomic Retrieval Engine (§4.7).
type Engine struct {
	chunks   repo.ChunkRepository
	graph    repo.GraphRepository
	embedder domain.Embedder
	opts     Options
}

// New constructs an Engine. embedder may be nil only for callers that
// already supply a query vector via RetrieveWithVector.
func New(chunks repo.ChunkRepository, graph repo.GraphRepository, embedder domain.Embedder, opts Options) *Engine {
	return &Engine{chunks: chunks, graph: graph, embedder: embedder, opts: opts}
}

// Diagnostics reports timings and the filters actually applied (§4.7 step 8).
type Diagnostics struct {
	TimingsMs      map[string]float64
	FiltersApplied map[string]any
	Warnings       []string
}

// Retrieve runs one atomic retrieval: embed, hybrid primary, clause-heavy
// boost, optional graph hop, tenant stamping, structural-row drop, top-k.
func (e *Engine) Retrieve(ctx context.Context, req domain.RetrieveRequest) ([]domain.RetrievedItem, Diagnostics, error) {
	diag := Diagnostics{TimingsMs: map[string]float64{}, FiltersApplied: map[string]any{}}

	t0 := time.Now()
	var queryVec []float32
	if req.Query != "" && len(req.Query) > 1 && e.embedder != nil {
		vecs, err := e.embedder.Embed(ctx, []string{req.Query})
		if err != nil {
			return nil, diag, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) > 0 {
			queryVec = vecs[0]
		}
	}
	diag.TimingsMs["embed_ms"] = msSince(t0)

	vectorWeight, ftsWeight := e.opts.VectorWeight, e.opts.FTSWeight
	strat := scope.For(req.Filter)
	_, clauseMatched := strat.ClauseHint(req.Query)
	vectorWeight, ftsWeight = strat.Weights(vectorWeight, ftsWeight, clauseMatched)

	t1 := time.Now()
	items, err := e.hybridPrimary(ctx, req, queryVec, vectorWeight, ftsWeight)
	if err != nil {
		return nil, diag, err
	}
	diag.TimingsMs["hybrid_ms"] = msSince(t1)
	diag.FiltersApplied["source_standards"] = req.Filter.SourceStandards
	diag.FiltersApplied["collection_id"] = req.Filter.CollectionID

	if e.opts.EnableGraphHop && e.graph != nil && req.TenantID != "" {
		t2 := time.Now()
		graphItems, warns := e.graphHop(ctx, req, queryVec)
		diag.TimingsMs["graph_ms"] = msSince(t2)
		diag.Warnings = append(diag.Warnings, warns...)
		items = append(items, graphItems...)
	}

	items = stampAndFilter(items, req.TenantID)
	items = dropStructural(items)

	k := req.K
	if k <= 0 {
		k = 20
	}
	if len(items) > k {
		items = items[:k]
	}
	return items, diag, nil
}

// hybridPrimary calls the hybrid primitive once per requested standard
// (parallel single-standard calls with a per-standard quota) when multiple
// standards are requested, so no single standard can dominate the result
// (§4.7 step 2), or once unscoped otherwise.
func (e *Engine) hybridPrimary(ctx context.Context, req domain.RetrieveRequest, queryVec []float32, vectorWeight, ftsWeight float64) ([]domain.RetrievedItem, error) {
	base := repo.HybridSearchParams{
		TenantID:       req.TenantID,
		QueryEmbedding: queryVec,
		MatchThreshold: e.opts.MatchThreshold,
		MatchCount:     req.K,
		RRFK:           e.opts.RRFK,
		VectorWeight:   vectorWeight,
		FTSWeight:      ftsWeight,
		CollectionID:   req.Filter.CollectionID,
		HNSWEfSearch:   e.opts.HNSWEfSearch,
	}
	if e.opts.EnableFTS {
		base.QueryText = req.Query
	}
	if req.K <= 0 {
		base.MatchCount = 20
	}

	if len(req.Filter.SourceStandards) <= 1 {
		base.SourceStandards = req.Filter.SourceStandards
		chunks, scores, err := e.chunks.RetrieveHybrid(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("retrieve_hybrid_optimized: %w", err)
		}
		return toItems(chunks, scores, domain.LayerHybrid), nil
	}

	type result struct {
		items []domain.RetrievedItem
		err   error
	}
	resCh := make(chan result, len(req.Filter.SourceStandards))
	for _, std := range req.Filter.SourceStandards {
		std := std
		go func() {
			p := base
			p.SourceStandards = []string{std}
			if p.MatchCount <= 0 || p.MatchCount > e.opts.StandardQuota {
				p.MatchCount = e.opts.StandardQuota
			}
			chunks, scores, err := e.chunks.RetrieveHybrid(ctx, p)
			if err != nil {
				resCh <- result{err: err}
				return
			}
			resCh <- result{items: toItems(chunks, scores, domain.LayerHybrid)}
		}()
	}
	var out []domain.RetrievedItem
	for range req.Filter.SourceStandards {
		r := <-resCh
		if r.err != nil {
			return nil, fmt.Errorf("retrieve_hybrid_optimized: %w", r.err)
		}
		out = append(out, r.items...)
	}
	return out, nil
}

func toItems(chunks []domain.ContentChunk, scores []float64, layer domain.SourceLayer) []domain.RetrievedItem {
	out := make([]domain.RetrievedItem, 0, len(chunks))
	for i, c := range chunks {
		score := 0.0
		if i < len(scores) {
			score = scores[i]
		}
		out = append(out, domain.RetrievedItem{
			ID:             c.ID,
			Content:        c.Content,
			Score:          score,
			ScoreSpace:     domain.ScoreSpaceGravity,
			Source:         domain.SourceChunks,
			SourceLayer:    layer,
			TenantID:       c.TenantID,
			SourceID:       c.SourceID,
			CollectionID:   c.CollectionID,
			HeadingPath:    c.Metadata.HeadingPath,
			AuthorityLevel: c.Metadata.AuthorityLevel,
			SourceStandard: c.Metadata.SourceStandard,
			ClauseID:       c.Metadata.ClauseID,
			Metadata: map[string]any{
				"retrieval_eligible": c.Metadata.RetrievalEligible,
				"chunk_role":         string(c.Metadata.ChunkRole),
				"is_global":          c.IsGlobal,
			},
		})
	}
	return out
}

// graphHop navigates the entity graph and late-grounds results to real
// content chunks (§4.7 step 4), tagging chunk-grounded rows graph_grounded
// and synthesizing an [anchor]/[hop-N] row for entities with no lineage.
func (e *Engine) graphHop(ctx context.Context, req domain.RetrieveRequest, queryVec []float32) ([]domain.RetrievedItem, []string) {
	var warnings []string
	hits, err := e.graph.SearchMultiHop(ctx, req.TenantID, queryVec, e.opts.GraphHopThreshold, req.K, e.opts.GraphMaxHops, e.opts.GraphDecayFactor, nil, nil)
	if err != nil {
		return nil, []string{fmt.Sprintf("graph hop failed: %v", err)}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	entityIDs := make([]string, len(hits))
	byEntity := make(map[string]repo.GraphHit, len(hits))
	for i, h := range hits {
		entityIDs[i] = h.EntityID
		byEntity[h.EntityID] = h
	}
	grounded, err := e.graph.ResolveNodeToChunkIDs(ctx, req.TenantID, entityIDs)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("resolve_node_to_chunk_ids failed: %v", err))
		grounded = nil
	}

	var chunkIDs []string
	for _, ids := range grounded {
		chunkIDs = append(chunkIDs, ids...)
	}
	var chunksByID map[string]domain.ContentChunk
	if len(chunkIDs) > 0 {
		chunks, err := e.chunks.FetchByIDs(ctx, req.TenantID, chunkIDs)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("fetch_chunks_by_ids failed: %v", err))
		}
		chunksByID = make(map[string]domain.ContentChunk, len(chunks))
		for _, c := range chunks {
			chunksByID[c.ID] = c
		}
	}

	var out []domain.RetrievedItem
	for _, h := range hits {
		ids := grounded[h.EntityID]
		if len(ids) == 0 {
			out = append(out, syntheticAnchorRow(h))
			continue
		}
		for _, cid := range ids {
			c, ok := chunksByID[cid]
			if !ok {
				continue
			}
			out = append(out, domain.RetrievedItem{
				ID:             "graph:" + c.ID,
				Content:        c.Content,
				Score:          h.Similarity,
				ScoreSpace:     domain.ScoreSpaceGravity,
				Source:         domain.SourceGraph,
				SourceLayer:    domain.LayerGraphGrounded,
				TenantID:       c.TenantID,
				SourceID:       c.SourceID,
				CollectionID:   c.CollectionID,
				HeadingPath:    c.Metadata.HeadingPath,
				AuthorityLevel: c.Metadata.AuthorityLevel,
				SourceStandard: c.Metadata.SourceStandard,
				ClauseID:       c.Metadata.ClauseID,
				GraphReasoning: h.Reasoning,
				Metadata: map[string]any{
					"retrieval_eligible": c.Metadata.RetrievalEligible,
					"chunk_role":         string(c.Metadata.ChunkRole),
					"retrieved_via":      "graph",
				},
			})
		}
	}
	return out, warnings
}

func syntheticAnchorRow(h repo.GraphHit) domain.RetrievedItem {
	label := "[anchor]"
	if h.Hops > 0 {
		label = fmt.Sprintf("[hop-%d]", h.Hops)
	}
	return domain.RetrievedItem{
		ID:             "graph:" + h.EntityID,
		Content:        fmt.Sprintf("%s %s", label, h.Name),
		Score:          h.Similarity,
		ScoreSpace:     domain.ScoreSpaceGravity,
		Source:         domain.SourceGraph,
		SourceLayer:    domain.LayerKnowledgeEntityUngrounded,
		GraphReasoning: h.Reasoning,
		Metadata: map[string]any{
			"retrieval_eligible": true,
			"retrieved_via":      "graph",
		},
	}
}

// stampAndFilter runs the LeakCanary check (§4.7 step 6): rows that cannot
// be proven in-tenant are dropped rather than surfaced.
func stampAndFilter(items []domain.RetrievedItem, tenantID string) []domain.RetrievedItem {
	out := items[:0]
	for _, it := range items {
		isGlobal, _ := it.Metadata["is_global"].(bool)
		if it.TenantID == "" && isGlobal {
			out = append(out, it)
			continue
		}
		if it.TenantID == "" && strings.HasPrefix(it.ID, "graph:") {
			// synthetic anchor rows carry no chunk tenant id of their own;
			// they were derived from a graph already scoped to tenantID.
			out = append(out, it)
			continue
		}
		if tenant.AssertRowTenant(it.TenantID, isGlobal, tenantID) {
			out = append(out, it)
		}
	}
	return out
}

// dropStructural removes TOC/frontmatter rows (§4.7 step 7); only
// normative_body chunks are retrieval_eligible.
func dropStructural(items []domain.RetrievedItem) []domain.RetrievedItem {
	out := items[:0]
	for _, it := range items {
		eligible, _ := it.Metadata["retrieval_eligible"].(bool)
		role, _ := it.Metadata["chunk_role"].(string)
		if role == string(domain.ChunkRoleTOC) || role == string(domain.ChunkRoleFrontmatter) {
			continue
		}
		if role != "" && !eligible {
			continue
		}
		out = append(out, it)
	}
	return out
}

func msSince(t0 time.Time) float64 { return float64(time.Since(t0).Microseconds()) / 1000.0 }

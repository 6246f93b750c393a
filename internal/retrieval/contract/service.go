// Package contract implements the Retrieval Contract Service (§4.10), the
// outermost orchestrator composing scope validation, the Atomic Retrieval
// Engine, the Plan Executor, and Fusion & Rerank into four public
// operations. Grounded on internal/rag/service/service.go's Retrieve
// method (plan -> parallel candidates -> fusion -> graph augment+rerank ->
// packaging -> debug diagnostics), rebuilt against domain/repo types.
package contract

import (
	"context"
	"regexp"
	"strings"
	"time"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
	"atomicrag/internal/retrieval/engine"
	"atomicrag/internal/retrieval/fusion"
	"atomicrag/internal/retrieval/plan"
	"atomicrag/internal/retrieval/scope"
	"atomicrag/internal/tenant"
)

// Options configures the contract service's rerank/penalty behavior,
// mirroring the RERANK_*/SCOPE_* environment table (§6).
type Options struct {
	RerankMode          string // local | jina | cohere | hybrid
	RerankMaxCandidates int
	ScopeStrictFiltering bool
	ScopePenaltyFactor   float64
	MultiQueryRRFK       int
	MultiQuerySubqueryTimeout time.Duration
	MultiQueryScopePenaltyDropThreshold float64
	PlanOptions plan.Options
	Gravity     fusion.GravityOptions
}

// DefaultOptions mirrors the documented environment defaults.
func DefaultOptions() Options {
	return Options{
		RerankMode:           "local",
		RerankMaxCandidates:  150,
		ScopePenaltyFactor:   0.75,
		MultiQueryRRFK:       60,
		MultiQuerySubqueryTimeout: 8 * time.Second,
		MultiQueryScopePenaltyDropThreshold: 0.95,
		PlanOptions: plan.DefaultOptions(),
	}
}

// Service is the Retrieval Contract Service.
type Service struct {
	engine   *engine.Engine
	raptor   repo.RaptorRepository
	chunks   repo.ChunkRepository
	embedder domain.Embedder
	reranker domain.Reranker
	opts     Options
}

// New constructs a Service. raptor and reranker may be nil to disable their
// respective streams/layers.
func New(eng *engine.Engine, chunks repo.ChunkRepository, raptor repo.RaptorRepository, embedder domain.Embedder, reranker domain.Reranker, opts Options) *Service {
	return &Service{engine: eng, raptor: raptor, chunks: chunks, embedder: embedder, reranker: reranker, opts: opts}
}

// ValidateScopeResult is validate_scope's return shape (§4.10).
type ValidateScopeResult struct {
	Valid          bool
	NormalizedScope domain.ScopeFilter
	Violations     []domain.ValidationViolation
	Warnings       []string
	QueryScope     string
}

// ambiguousRefRe flags queries leaning on deixis ("this", "that section")
// with no explicit scope, worth a clarification warning rather than a hard
// failure.
var ambiguousRefRe = regexp.MustCompile(`(?i)\b(this|that|the above|it)\b`)

// ValidateScope runs pure validation (§4.1) plus an advisory warning when
// the query contains ambiguous references with no scope filter to resolve them.
func (s *Service) ValidateScope(req domain.RetrieveRequest, raw tenant.RawScopeFilter) ValidateScopeResult {
	normalized, violations := tenant.NormalizeScope(raw)
	var warnings []string
	if len(normalized.SourceStandards) == 0 && ambiguousRefRe.MatchString(req.Query) {
		warnings = append(warnings, "query contains an ambiguous reference with no scope filter to resolve it")
	}
	return ValidateScopeResult{
		Valid:           len(violations) == 0,
		NormalizedScope: normalized,
		Violations:      violations,
		Warnings:        warnings,
		QueryScope:      strings.Join(normalized.SourceStandards, ","),
	}
}

// retrieverAdapter satisfies plan.Retriever by running one engine call
// followed by local Gravity rerank and scope penalty, the minimum fusion
// layers every branch (including sub-queries) must carry (§4.9 layers 1-2).
type retrieverAdapter struct {
	svc *Service
}

func (a *retrieverAdapter) Retrieve(ctx context.Context, req domain.RetrieveRequest) ([]domain.RetrievedItem, error) {
	items, _, err := a.svc.engine.Retrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	items = fusion.ApplyGravity(items, req, a.svc.opts.Gravity)
	items = fusion.ApplyScopePenalty(items, req.Filter.SourceStandards, a.svc.opts.ScopePenaltyFactor, a.svc.opts.ScopeStrictFiltering)
	return items, nil
}

// RunHybrid is the single-query retrieval operation (§4.10).
func (s *Service) RunHybrid(ctx context.Context, req domain.RetrieveRequest, skipPlanner, skipExternalRerank bool) ([]domain.RetrievedItem, domain.HybridTrace, error) {
	trace := domain.HybridTrace{
		FiltersApplied: map[string]any{},
		EngineMode:     "atomic",
		TimingsMs:      map[string]float64{},
		ScoreSpace:     domain.ScoreSpaceGravity,
		RPCContractStatus: "ok",
	}

	if len(req.Query) <= 1 {
		// §8 Boundary: a one-character query returns empty without an
		// embedder call; the engine itself already guards this, but the
		// contract service short-circuits to avoid running rerank on nothing.
		return nil, trace, nil
	}

	t0 := time.Now()
	adapter := &retrieverAdapter{svc: s}

	var items []domain.RetrievedItem
	if skipPlanner || req.SkipPlanner {
		var err error
		items, err = adapter.Retrieve(ctx, req)
		if err != nil {
			return nil, trace, domain.ErrRetrievalChunksFailed.WithCause(err)
		}
		trace.PlannerUsed = false
	} else {
		qp := BuildQueryPlan(req)
		trace.PlannerUsed = true
		trace.PlannerMultihop = qp.IsMultihop
		trace.FallbackUsed = qp.FallbackReason != ""
		results, earlyExit, err := plan.Execute(ctx, adapter, req, qp, s.opts.PlanOptions)
		if err != nil {
			return nil, trace, domain.ErrRetrievalChunksFailed.WithCause(err)
		}
		if earlyExit {
			trace.Warnings = append(trace.Warnings, "plan early-exit: scope penalty ratio exceeded threshold")
			trace.WarningCodes = append(trace.WarningCodes, "PLAN_EARLY_EXIT")
		}
		items = plan.Merge(results, req.K)
	}
	trace.TimingsMs["retrieve_ms"] = msSince(t0)

	items = fusion.Stratify(items, req.Filter.SourceStandards)

	if !(skipExternalRerank || req.SkipExternalRerank) && s.opts.RerankMode != "local" && s.reranker != nil {
		t1 := time.Now()
		var err error
		items, err = fusion.ApplyExternalRerank(ctx, s.reranker, req.Query, items, s.opts.RerankMaxCandidates)
		if err != nil {
			trace.Warnings = append(trace.Warnings, "external rerank failed, kept gravity ordering")
			trace.WarningCodes = append(trace.WarningCodes, "EXTERNAL_RERANK_FAILED")
		}
		trace.TimingsMs["rerank_ms"] = msSince(t1)
	}

	items = fusion.Stratify(items, req.Filter.SourceStandards)

	penalizedCount := 0
	for _, it := range items {
		if it.ScopePenalized {
			penalizedCount++
		}
	}
	trace.ScopePenalizedCount = penalizedCount
	trace.ScopePenalizedCandidate = len(items)
	trace.ScopePenalizedRatio = fusion.ScopePenalizedRatio(items)

	k := req.K
	if k > 0 && len(items) > k {
		items = items[:k]
	}
	return items, trace, nil
}

// RunMultiQuery is the multi-query RRF operation (§4.9, §4.10): every
// sub-query runs hybrid with the planner and external rerank both skipped,
// deduplicates by scope-clause key, and merges by RRF score.
func (s *Service) RunMultiQuery(ctx context.Context, req domain.RetrieveRequest) ([]domain.RetrievedItem, []domain.SubQueryStatus, domain.MultiQueryTrace, error) {
	trace := domain.MultiQueryTrace{RRFK: s.opts.MultiQueryRRFK}
	var statuses []domain.SubQueryStatus
	var hits []fusion.SubQueryHit

	timeout := s.opts.MultiQuerySubqueryTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	for i, q := range req.SubQueries {
		subReq := req
		subReq.Query = q
		subReq.SkipPlanner = true
		subReq.SkipExternalRerank = true

		subCtx, cancel := context.WithTimeout(ctx, timeout)
		items, _, err := s.RunHybrid(subCtx, subReq, true, true)
		cancel()

		id := subQueryID(i)
		if err != nil || subCtx.Err() != nil {
			statuses = append(statuses, domain.SubQueryStatus{ID: id, Status: "SUBQUERY_TIMEOUT"})
			trace.FailedCount++
			continue
		}
		if fusion.ScopePenalizedRatio(items) >= 0.95 {
			statuses = append(statuses, domain.SubQueryStatus{ID: id, Status: "SUBQUERY_OUT_OF_SCOPE"})
			trace.FailedCount++
			continue
		}
		for rank, it := range items {
			scopeKey := ""
			if it.ClauseID != "" {
				scopeKey = scope.ScopeClauseKey(it.SourceStandard, it.ClauseID)
			}
			hits = append(hits, fusion.SubQueryHit{
				SubQueryID: id,
				Rank:       rank + 1,
				Item:       it,
				ScopeKey:   scopeKey,
			})
		}
		statuses = append(statuses, domain.SubQueryStatus{ID: id, Status: "ok", Count: len(items)})
	}

	merged := fusion.MultiQueryRRF(hits, s.opts.MultiQueryRRFK, req.K)
	return merged, statuses, trace, nil
}

// RunExplain runs RunHybrid and decorates the top topN items (§4.10).
func (s *Service) RunExplain(ctx context.Context, req domain.RetrieveRequest, topN int) ([]domain.ExplainedItem, domain.HybridTrace, error) {
	items, trace, err := s.RunHybrid(ctx, req, false, false)
	if err != nil {
		return nil, trace, err
	}
	if topN <= 0 || topN > len(items) {
		topN = len(items)
	}
	out := make([]domain.ExplainedItem, 0, topN)
	for _, it := range items[:topN] {
		var penaltyRatio *float64
		if it.ScopePenalized {
			v := s.opts.ScopePenaltyFactor
			penaltyRatio = &v
		}
		out = append(out, domain.ExplainedItem{
			RetrievedItem: it,
			ScoreComponents: domain.ScoreComponents{
				FinalScore:        it.Score,
				ScopePenalized:    it.ScopePenalized,
				ScopePenaltyRatio: penaltyRatio,
			},
			RetrievalPath: domain.RetrievalPath{
				SourceLayer: it.SourceLayer,
				SourceType:  it.Source,
			},
			MatchedFilters: domain.MatchedFilters{
				CollectionIDMatch: req.Filter.CollectionID != "" && it.CollectionID == req.Filter.CollectionID,
			},
		})
	}
	return out, trace, nil
}

// searchHintExpansions is a deterministic term -> expansion terms map used
// by run_comprehensive's query expansion step (§4.10).
var searchHintExpansions = map[string][]string{
	"nonconformity": {"corrective action", "CAPA"},
	"audit":         {"internal audit", "management review"},
	"risk":          {"risk assessment", "opportunity"},
}

var noiseRe = []*regexp.Regexp{
	regexp.MustCompile(`\|[^\n]*\|`),          // table pipes
	regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`), // markdown links
}

// RunComprehensive applies search-hint expansion and a retrieval policy
// (min-score cutoff + noise reduction), then runs late fusion across
// chunks/graph/raptor streams (§4.9, §4.10).
func (s *Service) RunComprehensive(ctx context.Context, req domain.RetrieveRequest, minScore float64, coverageRequirements []string) ([]domain.RetrievedItem, domain.ComprehensiveTrace, error) {
	var expansions []string
	lowerQuery := strings.ToLower(req.Query)
	for term, exp := range searchHintExpansions {
		if strings.Contains(lowerQuery, term) {
			expansions = append(expansions, exp...)
		}
	}

	chunkItems, hybridTrace, err := s.RunHybrid(ctx, req, false, false)
	if err != nil {
		return nil, domain.ComprehensiveTrace{HybridTrace: hybridTrace}, err
	}

	var raptorItems []domain.RetrievedItem
	if s.raptor != nil && len(req.Query) > 1 {
		raptorItems = s.raptorStream(ctx, req)
	}

	var graphItems []domain.RetrievedItem
	var chunksOnly []domain.RetrievedItem
	for _, it := range chunkItems {
		if it.Source == domain.SourceGraph {
			graphItems = append(graphItems, it)
		} else {
			chunksOnly = append(chunksOnly, it)
		}
	}

	fused := fusion.FuseStreams(chunksOnly, graphItems, raptorItems, req.K)
	fused = applyMinScoreAndNoiseReduction(fused, minScore)

	missingScopes := missingAfter(req.Filter.SourceStandards, fused, func(it domain.RetrievedItem) string { return it.SourceStandard })
	missingClauses := missingAfter(coverageRequirements, fused, func(it domain.RetrievedItem) string { return it.ClauseID })

	trace := domain.ComprehensiveTrace{
		HybridTrace:            hybridTrace,
		ExpansionsApplied:      expansions,
		MissingScopesAfter:     missingScopes,
		MissingClauseRefsAfter: missingClauses,
	}
	return fused, trace, nil
}

// raptorStream runs match_summaries -> resolve_summaries_to_chunk_ids ->
// fetch_chunks_by_ids, tagging every resulting row raptor (§4.9 RAPTOR
// stream). It embeds the query itself since the engine's own embed call is
// private to its hybrid primitive.
func (s *Service) raptorStream(ctx context.Context, req domain.RetrieveRequest) []domain.RetrievedItem {
	if s.raptor == nil || s.embedder == nil {
		return nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{req.Query})
	if err != nil || len(vectors) == 0 {
		return nil
	}
	nodes, scores, err := s.raptor.MatchSummaries(ctx, req.TenantID, vectors[0], s.opts.PlanOptions.MaxBranchExpansions+3, req.Filter.CollectionID)
	if err != nil || len(nodes) == 0 {
		return nil
	}
	summaryIDs := make([]string, len(nodes))
	scoreByID := make(map[string]float64, len(nodes))
	for i, n := range nodes {
		summaryIDs[i] = n.ID
		if i < len(scores) {
			scoreByID[n.ID] = scores[i]
		}
	}
	resolved, err := s.raptor.ResolveSummariesToChunkIDs(ctx, req.TenantID, summaryIDs)
	if err != nil {
		return nil
	}
	var chunkIDs []string
	scoreByChunk := make(map[string]float64)
	for summaryID, chunkIDsForSummary := range resolved {
		for _, cid := range chunkIDsForSummary {
			chunkIDs = append(chunkIDs, cid)
			scoreByChunk[cid] = scoreByID[summaryID]
		}
	}
	if len(chunkIDs) == 0 {
		return nil
	}
	chunks, err := s.chunks.FetchByIDs(ctx, req.TenantID, chunkIDs)
	if err != nil {
		return nil
	}
	out := make([]domain.RetrievedItem, 0, len(chunks))
	for _, c := range chunks {
		if !tenant.AssertRowTenant(c.TenantID, false, req.TenantID) {
			continue
		}
		out = append(out, domain.RetrievedItem{
			ID:             c.ID,
			Content:        c.Content,
			Score:          scoreByChunk[c.ID],
			ScoreSpace:     domain.ScoreSpaceGravity,
			Source:         domain.SourceRaptor,
			SourceLayer:    domain.LayerRaptor,
			TenantID:       c.TenantID,
			SourceID:       c.SourceID,
			CollectionID:   c.CollectionID,
			HeadingPath:    c.Metadata.HeadingPath,
			AuthorityLevel: c.Metadata.AuthorityLevel,
			SourceStandard: c.Metadata.SourceStandard,
			ClauseID:       c.Metadata.ClauseID,
		})
	}
	return out
}

func applyMinScoreAndNoiseReduction(items []domain.RetrievedItem, minScore float64) []domain.RetrievedItem {
	out := items[:0]
	for _, it := range items {
		if it.Score < minScore {
			continue
		}
		for _, re := range noiseRe {
			it.Content = re.ReplaceAllString(it.Content, "")
		}
		out = append(out, it)
	}
	return out
}

func missingAfter(required []string, items []domain.RetrievedItem, extract func(domain.RetrievedItem) string) []string {
	if len(required) == 0 {
		return nil
	}
	present := map[string]bool{}
	for _, it := range items {
		v := extract(it)
		if v != "" {
			present[strings.ToLower(v)] = true
		}
	}
	var missing []string
	for _, r := range required {
		if !present[strings.ToLower(r)] {
			missing = append(missing, r)
		}
	}
	return missing
}

func msSince(t0 time.Time) float64 { return float64(time.Since(t0).Microseconds()) / 1000.0 }

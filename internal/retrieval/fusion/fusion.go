// Package fusion implements the late-fusion, Gravity rerank, scope penalty
// and multi-query RRF merge of §4.9, generalized from
// internal/rag/retrieve/fusion.go's reciprocal-rank-fusion idiom (identity
// by row id or fallback::{source}::{content[:120]}, same as that file's
// deriveDocID) to the three-stream chunks/graph/raptor model the data model
// names instead of the teacher's two-stream FTS/vector fusion.
package fusion

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"atomicrag/internal/domain"
)

// StreamQuotas are the fixed per-stream slot counts before slack-filling
// (§4.9): chunks=3, graph=2, raptor=1.
var StreamQuotas = map[domain.FusionSource]int{
	domain.SourceChunks: 3,
	domain.SourceGraph:  2,
	domain.SourceRaptor: 1,
}

// Identity returns a stable dedup key for a row: its id if present, else a
// content-prefixed fallback so two rows carrying no id never silently merge.
func Identity(it domain.RetrievedItem) string {
	if it.ID != "" {
		return it.ID
	}
	content := it.Content
	if len(content) > 120 {
		content = content[:120]
	}
	return fmt.Sprintf("fallback::%s::%s", it.Source, content)
}

// FuseStreams merges three independently-failing streams into a list of
// size k using fixed quotas, with remaining slack filled chunks-then-graph-
// then-raptor order (§4.9).
func FuseStreams(chunks, graphRows, raptorRows []domain.RetrievedItem, k int) []domain.RetrievedItem {
	seen := map[string]bool{}
	var out []domain.RetrievedItem
	take := func(items []domain.RetrievedItem, n int) []domain.RetrievedItem {
		var taken []domain.RetrievedItem
		for _, it := range items {
			if n <= 0 {
				break
			}
			id := Identity(it)
			if seen[id] {
				continue
			}
			seen[id] = true
			taken = append(taken, it)
			n--
		}
		return taken
	}

	out = append(out, take(chunks, StreamQuotas[domain.SourceChunks])...)
	out = append(out, take(graphRows, StreamQuotas[domain.SourceGraph])...)
	out = append(out, take(raptorRows, StreamQuotas[domain.SourceRaptor])...)

	if len(out) < k {
		slack := k - len(out)
		out = append(out, take(chunks, slack)...)
	}
	if len(out) < k {
		slack := k - len(out)
		out = append(out, take(graphRows, slack)...)
	}
	if len(out) < k {
		slack := k - len(out)
		out = append(out, take(raptorRows, slack)...)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// GravityOptions weights the local deterministic rerank (§4.9 layer 1).
type GravityOptions struct {
	AgentRoleWeights map[string]float64
	TaskTypeWeights  map[string]float64
}

// ApplyGravity runs the always-on local scorer: base similarity combined
// with a heading-path boost, the row's authority-level weight, and
// agent-role/task-type intent weights. It is deterministic given fixed
// inputs (§8 Determinism) and tags every row score_space=gravity.
func ApplyGravity(items []domain.RetrievedItem, req domain.RetrieveRequest, opt GravityOptions) []domain.RetrievedItem {
	for i := range items {
		it := &items[i]
		headingBoost := headingPathBoost(it.HeadingPath, req.Query)
		authorityWeight := it.AuthorityLevel.Weight()
		intentWeight := 1.0
		if w, ok := opt.AgentRoleWeights[req.AgentRole]; ok {
			intentWeight *= w
		}
		if w, ok := opt.TaskTypeWeights[req.TaskType]; ok {
			intentWeight *= w
		}
		it.Score = it.Score * authorityWeight * intentWeight * headingBoost
		it.ScoreSpace = domain.ScoreSpaceGravity
		if it.Metadata == nil {
			it.Metadata = map[string]any{}
		}
		it.Metadata["heading_boost"] = headingBoost
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	return items
}

// headingPathBoost rewards rows whose heading path mentions a query term,
// a cheap lexical-overlap proxy for section relevance.
func headingPathBoost(headingPath []string, query string) float64 {
	if len(headingPath) == 0 || query == "" {
		return 1.0
	}
	q := strings.ToLower(query)
	joined := strings.ToLower(strings.Join(headingPath, " "))
	for _, term := range strings.Fields(q) {
		if len(term) > 2 && strings.Contains(joined, term) {
			return 1.15
		}
	}
	return 1.0
}

// ApplyScopePenalty multiplies a row's score by (1-penaltyFactor) when its
// source_standard isn't among the requested standards (§4.9 layer 2),
// dropping the row outright when strict is set.
func ApplyScopePenalty(items []domain.RetrievedItem, requestedStandards []string, penaltyFactor float64, strict bool) []domain.RetrievedItem {
	if len(requestedStandards) == 0 {
		return items
	}
	allowed := make(map[string]bool, len(requestedStandards))
	for _, s := range requestedStandards {
		allowed[strings.ToLower(s)] = true
	}
	out := items[:0]
	for _, it := range items {
		if it.SourceStandard == "" || allowed[strings.ToLower(it.SourceStandard)] {
			out = append(out, it)
			continue
		}
		it.Score *= 1 - penaltyFactor
		it.ScopePenalized = true
		if strict {
			continue
		}
		out = append(out, it)
	}
	return out
}

// ScopePenalizedRatio reports the fraction of items marked scope_penalized.
func ScopePenalizedRatio(items []domain.RetrievedItem) float64 {
	if len(items) == 0 {
		return 0
	}
	n := 0
	for _, it := range items {
		if it.ScopePenalized {
			n++
		}
	}
	return float64(n) / float64(len(items))
}

// ExternalReranker is the external semantic rerank port (§4.9 layer 3).
type ExternalReranker = domain.Reranker

// ApplyExternalRerank sends the top maxCandidates gravity-ordered rows to
// reranker, multiplies its score by any heading_boost > 1 (floored at 0.3 so
// a structural boost can outrank a loose semantic win), and reorders by the
// combined score; rows outside maxCandidates keep their gravity order and
// follow the reranked set.
func ApplyExternalRerank(ctx context.Context, reranker ExternalReranker, query string, items []domain.RetrievedItem, maxCandidates int) ([]domain.RetrievedItem, error) {
	if reranker == nil || len(items) == 0 {
		return items, nil
	}
	n := maxCandidates
	if n <= 0 || n > len(items) {
		n = len(items)
	}
	head, tail := items[:n], items[n:]

	candidates := make([]domain.RerankCandidate, len(head))
	for i, it := range head {
		candidates[i] = domain.RerankCandidate{ID: Identity(it), Text: it.Content}
	}
	results, err := reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return items, err
	}
	scoreByID := make(map[string]float64, len(results))
	for _, r := range results {
		scoreByID[r.ID] = r.Score
	}
	for i := range head {
		id := Identity(head[i])
		rs, ok := scoreByID[id]
		if !ok {
			continue
		}
		boost := 1.0
		if hb, ok := head[i].Metadata["heading_boost"].(float64); ok && hb > 1 {
			boost = math.Max(hb, 0.3)
		}
		head[i].Score = rs * boost
		head[i].ScoreSpace = domain.ScoreSpaceSemantic
	}
	sort.SliceStable(head, func(i, j int) bool { return head[i].Score > head[j].Score })
	return append(head, tail...), nil
}

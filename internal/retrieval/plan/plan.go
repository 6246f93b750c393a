// Package plan implements the Plan Executor (§4.8): fans a QueryPlan's
// sub-queries out to the Atomic Retrieval Engine, either in parallel under a
// bounded semaphore or sequentially with an early-exit guard, and always
// runs the root query as a safety branch. Grounded on
// internal/rag/retrieve/graph_expand.go's additive-boost merge style and on
// golang.org/x/sync/semaphore for the bounded fan-out, consistent with the
// worker's own concurrency gating in internal/jobqueue.
package plan

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"atomicrag/internal/domain"
	"atomicrag/internal/retrieval/scope"
)

// Retriever is the minimal seam the plan executor needs: a single-query
// retrieval that has already had local Gravity rerank and scope penalty
// applied (§4.9 layers 1-2), so each row's ScopePenalized field reflects
// whether it matched the requested standards.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrieveRequest) ([]domain.RetrievedItem, error)
}

// Options bounds plan execution per §4.8/§6 defaults.
type Options struct {
	MaxBranchExpansions  int
	MaxParallel          int64
	EarlyExitScopePenalty float64
}

// DefaultOptions mirrors the documented defaults.
func DefaultOptions() Options {
	return Options{MaxBranchExpansions: 2, MaxParallel: 4, EarlyExitScopePenalty: 0.8}
}

// BranchResult is one sub-query's outcome, keyed so callers can merge
// deterministically by sub-query id and rank regardless of completion order.
type BranchResult struct {
	SubQueryID     string
	Items          []domain.RetrievedItem
	ScopePenalized int
	Err            error
}

// Execute runs plan against root (the original request), returning one
// BranchResult per executed sub-query plus the safety-branch result, and
// whether an early exit was triggered (sequential mode only).
func Execute(ctx context.Context, retriever Retriever, root domain.RetrieveRequest, qp domain.QueryPlan, opts Options) (results []BranchResult, earlyExit bool, err error) {
	subQueries := qp.SubQueries
	if len(subQueries) > opts.MaxBranchExpansions {
		subQueries = subQueries[:opts.MaxBranchExpansions]
	}

	branches := make([]domain.RetrieveRequest, 0, len(subQueries)+1)
	ids := make([]string, 0, len(subQueries)+1)
	for _, sq := range subQueries {
		req := root
		req.Query = sq.Query
		req.Filter = scope.CanonicalizeSubQuery(root.Filter, sq.Query)
		branches = append(branches, req)
		ids = append(ids, sq.ID)
	}
	// The root query always runs as the safety branch (§4.8).
	safetyReq := root
	branches = append(branches, safetyReq)
	ids = append(ids, "__root_safety__")

	if qp.ExecutionMode == domain.ExecSequential {
		return executeSequential(ctx, retriever, branches, ids, opts)
	}
	return executeParallel(ctx, retriever, branches, ids, opts)
}

func executeParallel(ctx context.Context, retriever Retriever, branches []domain.RetrieveRequest, ids []string, opts Options) ([]BranchResult, bool, error) {
	max := opts.MaxParallel
	if max <= 0 {
		max = 4
	}
	sem := semaphore.NewWeighted(max)
	results := make([]BranchResult, len(branches))
	done := make(chan int, len(branches))
	for i := range branches {
		i := i
		go func() {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = BranchResult{SubQueryID: ids[i], Err: err}
				done <- i
				return
			}
			defer sem.Release(1)
			items, err := retriever.Retrieve(ctx, branches[i])
			results[i] = BranchResult{SubQueryID: ids[i], Items: items, ScopePenalized: countPenalized(items), Err: err}
			done <- i
		}()
	}
	for range branches {
		<-done
	}
	return results, false, nil
}

func executeSequential(ctx context.Context, retriever Retriever, branches []domain.RetrieveRequest, ids []string, opts Options) ([]BranchResult, bool, error) {
	var results []BranchResult
	threshold := opts.EarlyExitScopePenalty
	if threshold <= 0 {
		threshold = 0.8
	}
	// The safety branch is always the last entry; run the preceding
	// sub-queries in order, stopping early if one is overwhelmingly
	// out-of-scope, then always fall through to the safety branch.
	last := len(branches) - 1
	for i := 0; i < last; i++ {
		items, err := retriever.Retrieve(ctx, branches[i])
		if err != nil {
			results = append(results, BranchResult{SubQueryID: ids[i], Err: err})
			continue
		}
		ratio := penaltyRatio(items)
		results = append(results, BranchResult{SubQueryID: ids[i], Items: items, ScopePenalized: countPenalized(items)})
		if ratio >= threshold {
			safetyItems, err := retriever.Retrieve(ctx, branches[last])
			results = append(results, BranchResult{SubQueryID: ids[last], Items: safetyItems, ScopePenalized: countPenalized(safetyItems), Err: err})
			return results, true, nil
		}
	}
	items, err := retriever.Retrieve(ctx, branches[last])
	results = append(results, BranchResult{SubQueryID: ids[last], Items: items, ScopePenalized: countPenalized(items), Err: err})
	return results, false, nil
}

func countPenalized(items []domain.RetrievedItem) int {
	n := 0
	for _, it := range items {
		if it.ScopePenalized {
			n++
		}
	}
	return n
}

func penaltyRatio(items []domain.RetrievedItem) float64 {
	if len(items) == 0 {
		return 0
	}
	return float64(countPenalized(items)) / float64(len(items))
}

// Merge deduplicates across branch results by row identity, keeping the
// first occurrence (branches are already ordered by priority: sub-queries
// before the safety branch), and returns the top-k rows.
func Merge(results []BranchResult, k int) []domain.RetrievedItem {
	seen := map[string]bool{}
	var out []domain.RetrievedItem
	for _, r := range results {
		for _, it := range r.Items {
			id := identity(it)
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, it)
		}
	}
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func identity(it domain.RetrievedItem) string {
	if it.ID != "" {
		return it.ID
	}
	content := it.Content
	if len(content) > 120 {
		content = content[:120]
	}
	return fmt.Sprintf("fallback::%s::%s", it.Source, content)
}

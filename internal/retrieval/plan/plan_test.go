package plan

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
)

type stubRetriever struct {
	byQuery map[string][]domain.RetrievedItem
	calls   []string
}

func (s *stubRetriever) Retrieve(ctx context.Context, req domain.RetrieveRequest) ([]domain.RetrievedItem, error) {
	s.calls = append(s.calls, req.Query)
	return s.byQuery[req.Query], nil
}

func TestExecuteParallelRunsAllBranchesIncludingSafety(t *testing.T) {
	retriever := &stubRetriever{byQuery: map[string][]domain.RetrievedItem{
		"root":  {{ID: "root-hit"}},
		"sub-a": {{ID: "sub-a-hit"}},
	}}
	qp := domain.QueryPlan{
		IsMultihop:    true,
		ExecutionMode: domain.ExecParallel,
		SubQueries:    []domain.PlannedSubQuery{{ID: "sq0", Query: "sub-a"}},
	}
	results, earlyExit, err := Execute(context.Background(), retriever, domain.RetrieveRequest{Query: "root"}, qp, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if earlyExit {
		t.Fatal("parallel mode never early-exits")
	}
	if len(results) != 2 {
		t.Fatalf("expected sub-query branch plus safety branch, got %d", len(results))
	}
	merged := Merge(results, 10)
	ids := map[string]bool{}
	for _, it := range merged {
		ids[it.ID] = true
	}
	if !ids["root-hit"] || !ids["sub-a-hit"] {
		t.Fatalf("expected both branches' rows merged, got %+v", merged)
	}
}

func TestExecuteSequentialEarlyExitsOnHighScopePenalty(t *testing.T) {
	retriever := &stubRetriever{byQuery: map[string][]domain.RetrievedItem{
		"root": {{ID: "root-hit"}},
		"sq0":  {{ID: "penalized-1", ScopePenalized: true}, {ID: "penalized-2", ScopePenalized: true}},
	}}
	qp := domain.QueryPlan{
		IsMultihop:    true,
		ExecutionMode: domain.ExecSequential,
		SubQueries:    []domain.PlannedSubQuery{{ID: "sq0", Query: "sq0"}},
	}
	opts := DefaultOptions()
	opts.EarlyExitScopePenalty = 0.5
	results, earlyExit, err := Execute(context.Background(), retriever, domain.RetrieveRequest{Query: "root"}, qp, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !earlyExit {
		t.Fatal("expected early exit when scope penalty ratio reaches threshold")
	}
	if len(results) != 2 {
		t.Fatalf("expected the penalized branch plus the safety branch, got %d", len(results))
	}
	if results[len(results)-1].SubQueryID != "__root_safety__" {
		t.Fatalf("expected the safety branch to run last, got %+v", results)
	}
}

func TestExecuteTrimsToMaxBranchExpansions(t *testing.T) {
	retriever := &stubRetriever{}
	qp := domain.QueryPlan{
		IsMultihop:    true,
		ExecutionMode: domain.ExecParallel,
		SubQueries: []domain.PlannedSubQuery{
			{ID: "sq0", Query: "q0"}, {ID: "sq1", Query: "q1"}, {ID: "sq2", Query: "q2"},
		},
	}
	opts := DefaultOptions()
	opts.MaxBranchExpansions = 1
	results, _, err := Execute(context.Background(), retriever, domain.RetrieveRequest{Query: "root"}, qp, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// one sub-query (trimmed from three) plus the safety branch
	if len(results) != 2 {
		t.Fatalf("expected branches trimmed to MaxBranchExpansions+safety, got %d", len(results))
	}
}

func TestMergeDeduplicatesByIdentityPreservingPriority(t *testing.T) {
	results := []BranchResult{
		{SubQueryID: "sq0", Items: []domain.RetrievedItem{{ID: "a"}, {ID: "b"}}},
		{SubQueryID: "__root_safety__", Items: []domain.RetrievedItem{{ID: "b"}, {ID: "c"}}},
	}
	out := Merge(results, 10)
	if len(out) != 3 {
		t.Fatalf("expected 3 deduplicated rows, got %d: %+v", len(out), out)
	}
	if out[0].ID != "a" || out[1].ID != "b" || out[2].ID != "c" {
		t.Fatalf("expected sub-query branch priority preserved, got %+v", out)
	}
}

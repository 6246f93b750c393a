package contract

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
	"atomicrag/internal/retrieval/engine"
	"atomicrag/internal/tenant"
)

type stubChunks struct {
	chunks []domain.ContentChunk
	scores []float64
}

func (s *stubChunks) UpsertBatch(ctx context.Context, chunks []domain.ContentChunk) error { return nil }
func (s *stubChunks) DeleteBySource(ctx context.Context, tenantID, sourceID string) error  { return nil }
func (s *stubChunks) ListBySource(ctx context.Context, tenantID, sourceID string) ([]domain.ContentChunk, error) {
	return nil, nil
}
func (s *stubChunks) FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.ContentChunk, error) {
	return nil, nil
}
func (s *stubChunks) RetrieveHybrid(ctx context.Context, p repo.HybridSearchParams) ([]domain.ContentChunk, []float64, error) {
	return s.chunks, s.scores, nil
}

var _ repo.ChunkRepository = (*stubChunks)(nil)

func newTestService(chunks []domain.ContentChunk, scores []float64) *Service {
	opts := engine.DefaultOptions()
	opts.EnableGraphHop = false
	eng := engine.New(&stubChunks{chunks: chunks, scores: scores}, nil, nil, opts)
	return New(eng, nil, nil, nil, nil, DefaultOptions())
}

func TestRunHybridReturnsFusedAndRankedItems(t *testing.T) {
	svc := newTestService([]domain.ContentChunk{
		{ID: "1", TenantID: "t1", Content: "normative content about audits", Metadata: domain.ChunkMetadata{AuthorityLevel: domain.AuthorityConstitution}},
		{ID: "2", TenantID: "t1", Content: "soft knowledge note", Metadata: domain.ChunkMetadata{AuthorityLevel: domain.AuthoritySoftKnowledge}},
	}, []float64{0.5, 0.5})

	items, trace, err := svc.RunHybrid(context.Background(), domain.RetrieveRequest{TenantID: "t1", Query: "audit requirements", K: 5}, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected both rows back, got %+v", items)
	}
	if items[0].ID != "1" {
		t.Fatalf("expected the higher-authority row ranked first by gravity, got %+v", items)
	}
	if !trace.PlannerUsed {
		t.Fatal("expected the planner to run by default")
	}
}

func TestRunHybridSkipPlannerBypassesQueryPlan(t *testing.T) {
	svc := newTestService([]domain.ContentChunk{{ID: "1", TenantID: "t1", Content: "x"}}, []float64{0.5})
	_, trace, err := svc.RunHybrid(context.Background(), domain.RetrieveRequest{TenantID: "t1", Query: "x", K: 5}, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trace.PlannerUsed {
		t.Fatal("expected skip_planner to bypass the query plan")
	}
}

func TestRunHybridShortQueryReturnsEmpty(t *testing.T) {
	svc := newTestService(nil, nil)
	items, _, err := svc.RunHybrid(context.Background(), domain.RetrieveRequest{TenantID: "t1", Query: "a", K: 5}, false, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if items != nil {
		t.Fatalf("expected no items for a one-character query, got %+v", items)
	}
}

func TestRunExplainDecoratesTopN(t *testing.T) {
	svc := newTestService([]domain.ContentChunk{
		{ID: "1", TenantID: "t1", Content: "one"},
		{ID: "2", TenantID: "t1", Content: "two"},
	}, []float64{0.9, 0.1})

	explained, _, err := svc.RunExplain(context.Background(), domain.RetrieveRequest{TenantID: "t1", Query: "content", K: 5}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(explained) != 1 {
		t.Fatalf("expected explain to respect topN=1, got %d", len(explained))
	}
	if explained[0].ScoreComponents.FinalScore != explained[0].Score {
		t.Fatalf("expected final score to mirror the item's score, got %+v", explained[0])
	}
}

func TestRunMultiQueryMergesSubQueries(t *testing.T) {
	svc := newTestService([]domain.ContentChunk{{ID: "1", TenantID: "t1", Content: "shared row"}}, []float64{0.5})

	items, statuses, _, err := svc.RunMultiQuery(context.Background(), domain.RetrieveRequest{
		TenantID:   "t1",
		Query:      "root",
		SubQueries: []string{"sub one", "sub two"},
		K:          5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) == 0 {
		t.Fatal("expected merged rows from sub-queries")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected one status per sub-query, got %d", len(statuses))
	}
	for _, s := range statuses {
		if s.Status != "ok" {
			t.Fatalf("expected both sub-queries to succeed, got %+v", s)
		}
	}
}

func TestValidateScopeFlagsAmbiguousReferenceWithoutScope(t *testing.T) {
	svc := newTestService(nil, nil)
	result := svc.ValidateScope(domain.RetrieveRequest{Query: "what does this section require?"}, tenant.RawScopeFilter{})
	if len(result.Warnings) == 0 {
		t.Fatal("expected a warning for an ambiguous reference with no scope filter")
	}
}

package engine

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

type stubChunks struct {
	chunks []domain.ContentChunk
	scores []float64
	err    error
}

func (s *stubChunks) UpsertBatch(ctx context.Context, chunks []domain.ContentChunk) error { return nil }
func (s *stubChunks) DeleteBySource(ctx context.Context, tenantID, sourceID string) error  { return nil }
func (s *stubChunks) ListBySource(ctx context.Context, tenantID, sourceID string) ([]domain.ContentChunk, error) {
	return nil, nil
}
func (s *stubChunks) FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.ContentChunk, error) {
	var out []domain.ContentChunk
	for _, c := range s.chunks {
		for _, id := range ids {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}
func (s *stubChunks) RetrieveHybrid(ctx context.Context, p repo.HybridSearchParams) ([]domain.ContentChunk, []float64, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.chunks, s.scores, nil
}

var _ repo.ChunkRepository = (*stubChunks)(nil)

func TestEngineRetrieveDropsOtherTenantsAndStructuralRows(t *testing.T) {
	chunks := &stubChunks{
		chunks: []domain.ContentChunk{
			{ID: "1", TenantID: "tenant-a", Content: "real content about risk management"},
			{ID: "2", TenantID: "tenant-b", Content: "leaked content from another tenant"},
			{ID: "3", TenantID: "tenant-a", Content: "toc", Metadata: domain.ChunkMetadata{ChunkRole: domain.ChunkRoleTOC}},
		},
		scores: []float64{0.9, 0.9, 0.9},
	}
	opts := DefaultOptions()
	opts.EnableGraphHop = false
	eng := New(chunks, nil, nil, opts)

	items, _, err := eng.Retrieve(context.Background(), domain.RetrieveRequest{TenantID: "tenant-a", Query: "risk", K: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("expected only the in-tenant, non-structural row to survive, got %+v", items)
	}
}

func TestEngineRetrieveShortQueryStillRunsHybrid(t *testing.T) {
	chunks := &stubChunks{chunks: []domain.ContentChunk{{ID: "1", TenantID: "t", Content: "x"}}, scores: []float64{0.1}}
	opts := DefaultOptions()
	opts.EnableGraphHop = false
	eng := New(chunks, nil, nil, opts)

	items, _, err := eng.Retrieve(context.Background(), domain.RetrieveRequest{TenantID: "t", Query: "a", K: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected hybrid path to still run for a one-character query when no embedder is configured, got %+v", items)
	}
}

func TestEngineRetrievePropagatesHybridFailure(t *testing.T) {
	chunks := &stubChunks{err: context.DeadlineExceeded}
	opts := DefaultOptions()
	opts.EnableGraphHop = false
	eng := New(chunks, nil, nil, opts)

	if _, _, err := eng.Retrieve(context.Background(), domain.RetrieveRequest{TenantID: "t", Query: "risk", K: 5}); err == nil {
		t.Fatal("expected hybrid primitive failure to propagate")
	}
}

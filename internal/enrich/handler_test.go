package enrich

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo/memory"
)

func newTestHandler(t *testing.T) (*Handler, *memory.SourceStore, *memory.ChunkStore) {
	t.Helper()
	sources := memory.NewSourceStore()
	chunks := memory.NewChunkStore()
	chat := &stubChat{jsonBodies: []string{`{"entities":[{"name":"Quality Manager","type":"role"}],"relations":[]}`}}
	embedder := keyedEmbedder{dims: 3, vectors: map[string][]float32{
		"Nonconformities must be resolved within 30 days.": {1, 0, 0},
	}}
	h := NewHandler(sources, chunks, chat, memory.NewGraphStore(), chat, embedder, memory.NewRaptorStore())
	return h, sources, chunks
}

func seedDocWithChunks(t *testing.T, sources *memory.SourceStore, chunks *memory.ChunkStore, eligible bool) domain.SourceDocument {
	t.Helper()
	ctx := context.Background()
	doc, err := sources.CreateDocument(ctx, domain.SourceDocument{
		TenantID:     "tenant-a",
		CollectionID: "coll-1",
		Filename:     "policy.md",
		StoragePath:  "tenant-a/policy.md",
		Status:       domain.StatusProcessed,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := chunks.UpsertBatch(ctx, []domain.ContentChunk{
		{
			ID:       "chunk-1",
			SourceID: doc.ID,
			TenantID: "tenant-a",
			Content:  "Nonconformities must be resolved within 30 days.",
			Metadata: domain.ChunkMetadata{RetrievalEligible: eligible, ChunkRole: domain.ChunkRoleNormativeBody},
		},
		{
			ID:       "chunk-2",
			SourceID: doc.ID,
			TenantID: "tenant-a",
			Content:  "Nonconformities must be resolved within 30 days.",
			Metadata: domain.ChunkMetadata{RetrievalEligible: eligible, ChunkRole: domain.ChunkRoleNormativeBody},
		},
	}); err != nil {
		t.Fatalf("upsert chunks: %v", err)
	}
	return doc
}

func TestHandleBuildsGraphAndSummaryTree(t *testing.T) {
	h, sources, chunks := newTestHandler(t)
	doc := seedDocWithChunks(t, sources, chunks, true)

	job := domain.JobQueueRow{TenantID: "tenant-a", JobType: domain.JobEnrichDocument, Payload: map[string]any{"source_document_id": doc.ID}}
	result, err := h.Handle(context.Background(), job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result["entities"].(int) != 1 {
		t.Fatalf("expected 1 entity, got %v", result["entities"])
	}
	if result["summary_nodes"].(int) != 1 {
		t.Fatalf("expected a single collapsed summary node for two identical chunks, got %v", result["summary_nodes"])
	}
}

func TestHandleSkipsDocumentsWithNoEligibleChunks(t *testing.T) {
	h, sources, chunks := newTestHandler(t)
	doc := seedDocWithChunks(t, sources, chunks, false)

	job := domain.JobQueueRow{TenantID: "tenant-a", Payload: map[string]any{"source_document_id": doc.ID}}
	result, err := h.Handle(context.Background(), job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result["entities"].(int) != 0 || result["summary_nodes"].(int) != 0 {
		t.Fatalf("expected no-op result for a document with no eligible chunks, got %v", result)
	}
}

func TestHandleMissingPayloadFieldReturnsError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	if _, err := h.Handle(context.Background(), domain.JobQueueRow{TenantID: "tenant-a", Payload: map[string]any{}}); err == nil {
		t.Fatal("expected error for missing source_document_id")
	}
}

func TestHandleMissingDocumentReturnsError(t *testing.T) {
	h, _, _ := newTestHandler(t)
	job := domain.JobQueueRow{TenantID: "tenant-a", Payload: map[string]any{"source_document_id": "missing"}}
	if _, err := h.Handle(context.Background(), job); err == nil {
		t.Fatal("expected error for missing document")
	}
}

package ingest

import (
	"bytes"
	"context"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/objectstore"
	"atomicrag/internal/repo/memory"
)

type stubEmbedder struct{ dims int }

func (s stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dims)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}

func (s stubEmbedder) Profile() domain.EmbeddingProfile {
	return domain.EmbeddingProfile{Provider: "stub", Model: "stub-embed", Dims: s.dims}
}

func newTestHandler(t *testing.T) (*Handler, *memory.SourceStore, *memory.ChunkStore, *objectstore.MemoryStore) {
	t.Helper()
	sources := memory.NewSourceStore()
	chunks := memory.NewChunkStore()
	store := objectstore.NewMemoryStore()
	queue := memory.NewJobQueueStore()
	h := NewHandler(sources, chunks, store, stubEmbedder{dims: 8}, queue)
	return h, sources, chunks, store
}

func putDoc(t *testing.T, sources *memory.SourceStore, store *objectstore.MemoryStore, key, filename, content string) domain.SourceDocument {
	t.Helper()
	ctx := context.Background()
	if _, err := store.Put(ctx, key, bytes.NewReader([]byte(content)), objectstore.PutOptions{}); err != nil {
		t.Fatalf("put object: %v", err)
	}
	doc, err := sources.CreateDocument(ctx, domain.SourceDocument{
		TenantID:     "tenant-a",
		CollectionID: "coll-1",
		Filename:     filename,
		StoragePath:  key,
		Status:       domain.StatusQueued,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestHandleIngestsMarkdownDocument(t *testing.T) {
	h, sources, chunks, store := newTestHandler(t)
	content := "# Policy\n\nIntro.\n\n## 8.2.1 Corrective action\n\nNonconformities must be resolved.\n"
	doc := putDoc(t, sources, store, "tenant-a/policy.md", "policy.md", content)

	job := domain.JobQueueRow{
		ID:       "job-1",
		TenantID: "tenant-a",
		JobType:  domain.JobIngestDocument,
		Payload:  map[string]any{"source_document_id": doc.ID},
	}

	result, err := h.Handle(context.Background(), job)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result["chunks_written"].(int) == 0 {
		t.Fatal("expected chunks written")
	}

	got, ok, err := sources.GetDocument(context.Background(), "tenant-a", doc.ID)
	if err != nil || !ok {
		t.Fatalf("get document: %v %v", ok, err)
	}
	if got.Status != domain.StatusProcessed {
		t.Fatalf("expected processed status, got %q", got.Status)
	}
	if got.AuthorityLevel != domain.AuthorityPolicy {
		t.Fatalf("expected inferred policy authority, got %q", got.AuthorityLevel)
	}

	fetched, err := chunks.FetchByIDs(context.Background(), "tenant-a", nil)
	if err != nil {
		t.Fatalf("fetch chunks: %v", err)
	}
	_ = fetched
}

func TestHandleMissingDocumentReturnsError(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	job := domain.JobQueueRow{TenantID: "tenant-a", Payload: map[string]any{"source_document_id": "missing"}}
	if _, err := h.Handle(context.Background(), job); err == nil {
		t.Fatal("expected error for missing document")
	}
}

func TestHandleMissingPayloadFieldReturnsError(t *testing.T) {
	h, _, _, _ := newTestHandler(t)
	if _, err := h.Handle(context.Background(), domain.JobQueueRow{TenantID: "tenant-a", Payload: map[string]any{}}); err == nil {
		t.Fatal("expected error for missing source_document_id")
	}
}

func TestHandleEmptyFileMarksStatusEmptyFile(t *testing.T) {
	h, sources, _, store := newTestHandler(t)
	doc := putDoc(t, sources, store, "tenant-a/empty.md", "empty.md", "   \n\n  ")

	job := domain.JobQueueRow{TenantID: "tenant-a", Payload: map[string]any{"source_document_id": doc.ID}}
	if _, err := h.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _, _ := sources.GetDocument(context.Background(), "tenant-a", doc.ID)
	if got.Status != domain.StatusEmptyFile {
		t.Fatalf("expected empty_file status, got %q", got.Status)
	}
}

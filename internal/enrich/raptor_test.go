package enrich

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo/memory"
)

// keyedEmbedder returns a fixed vector per exact text match so a test can
// control which chunks cluster together without depending on call order.
type keyedEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (k keyedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := k.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = make([]float32, k.dims)
	}
	return out, nil
}

func (k keyedEmbedder) Profile() domain.EmbeddingProfile {
	return domain.EmbeddingProfile{Provider: "stub", Model: "stub-embed", Dims: k.dims}
}

func chunkWithContent(id, content string) domain.ContentChunk {
	return domain.ContentChunk{ID: id, TenantID: "tenant-a", Content: content, Metadata: domain.ChunkMetadata{RetrievalEligible: true}}
}

func TestRaptorBuilderCollapsesIdenticalChunksToOneNode(t *testing.T) {
	chunks := []domain.ContentChunk{
		chunkWithContent("c1", "same passage"),
		chunkWithContent("c2", "same passage"),
		chunkWithContent("c3", "same passage"),
		chunkWithContent("c4", "same passage"),
	}
	embedder := keyedEmbedder{dims: 3, vectors: map[string][]float32{"same passage": {1, 0, 0}}}
	chat := &stubChat{}
	raptorRepo := memory.NewRaptorStore()
	builder := NewRaptorBuilder(chat, embedder, raptorRepo)

	written, err := builder.Build(context.Background(), "tenant-a", "coll-1", "doc-1", chunks)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected the cluster to collapse to a single summary node, got %d nodes", written)
	}
}

func TestRaptorBuilderStopsAtMaxLevels(t *testing.T) {
	chunks := []domain.ContentChunk{
		chunkWithContent("c1", "passage one"),
		chunkWithContent("c2", "passage one"),
		chunkWithContent("c3", "passage two"),
		chunkWithContent("c4", "passage two"),
		chunkWithContent("c5", "passage three"),
		chunkWithContent("c6", "passage three"),
	}
	embedder := keyedEmbedder{dims: 3, vectors: map[string][]float32{
		"passage one":   {1, 0, 0},
		"passage two":   {0, 1, 0},
		"passage three": {0, 0, 1},
	}}
	chat := &stubChat{}
	raptorRepo := memory.NewRaptorStore()
	builder := NewRaptorBuilder(chat, embedder, raptorRepo)
	builder.MaxLevels = 1

	written, err := builder.Build(context.Background(), "tenant-a", "coll-1", "doc-1", chunks)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if written != 3 {
		t.Fatalf("expected one summary node per orthogonal cluster at level 1, got %d", written)
	}
}

func TestRaptorBuilderSkipsEmptyChunkSet(t *testing.T) {
	chat := &stubChat{}
	embedder := keyedEmbedder{dims: 3}
	raptorRepo := memory.NewRaptorStore()
	builder := NewRaptorBuilder(chat, embedder, raptorRepo)

	written, err := builder.Build(context.Background(), "tenant-a", "coll-1", "doc-1", nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if written != 0 {
		t.Fatalf("expected no nodes for an empty chunk set, got %d", written)
	}
}

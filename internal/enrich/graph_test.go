package enrich

import (
	"context"
	"encoding/json"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo/memory"
)

// stubChat returns canned responses in order, cycling once exhausted, for
// both the plain-text Complete path (RAPTOR summarization) and the
// structured CompleteJSON path (graph extraction).
type stubChat struct {
	completions []string
	jsonBodies  []string
	completeN   int
	jsonN       int
}

func (s *stubChat) Complete(_ context.Context, _ []domain.ChatMessage) (domain.ChatCompletion, error) {
	if len(s.completions) == 0 {
		return domain.ChatCompletion{Content: "summary"}, nil
	}
	resp := s.completions[s.completeN%len(s.completions)]
	s.completeN++
	return domain.ChatCompletion{Content: resp}, nil
}

func (s *stubChat) CompleteJSON(_ context.Context, _ []domain.ChatMessage, _ map[string]any, out any) error {
	body := s.jsonBodies[s.jsonN%len(s.jsonBodies)]
	s.jsonN++
	return json.Unmarshal([]byte(body), out)
}

func sampleChunks(n int) []domain.ContentChunk {
	out := make([]domain.ContentChunk, n)
	for i := range out {
		out[i] = domain.ContentChunk{
			ID:       "chunk-" + string(rune('a'+i)),
			TenantID: "tenant-a",
			Content:  "Nonconformities must be resolved within 30 days.",
			Metadata: domain.ChunkMetadata{RetrievalEligible: true, ChunkRole: domain.ChunkRoleNormativeBody},
		}
	}
	return out
}

func TestGraphBuilderUpsertsEntitiesAndRelations(t *testing.T) {
	chat := &stubChat{jsonBodies: []string{
		`{"entities":[{"name":"Quality Manager","type":"role"},{"name":"Nonconformity Report","type":"document"}],
		  "relations":[{"source":"Quality Manager","target":"Nonconformity Report","type":"owns"}]}`,
	}}
	graph := memory.NewGraphStore()
	builder := NewGraphBuilder(chat, graph)

	entities, relations, err := builder.Build(context.Background(), "tenant-a", sampleChunks(2))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if entities != 2 {
		t.Fatalf("expected 2 entities, got %d", entities)
	}
	if relations != 1 {
		t.Fatalf("expected 1 relation, got %d", relations)
	}
}

func TestGraphBuilderSkipsRelationsWithUnknownEntities(t *testing.T) {
	chat := &stubChat{jsonBodies: []string{
		`{"entities":[{"name":"Quality Manager","type":"role"}],
		  "relations":[{"source":"Quality Manager","target":"Ghost Entity","type":"owns"}]}`,
	}}
	graph := memory.NewGraphStore()
	builder := NewGraphBuilder(chat, graph)

	entities, relations, err := builder.Build(context.Background(), "tenant-a", sampleChunks(1))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if entities != 1 {
		t.Fatalf("expected 1 entity, got %d", entities)
	}
	if relations != 0 {
		t.Fatalf("expected relation referencing unknown entity to be skipped, got %d", relations)
	}
}

func TestGraphBuilderGroupsChunksByChunkGroupSize(t *testing.T) {
	chat := &stubChat{jsonBodies: []string{
		`{"entities":[{"name":"A","type":"x"}],"relations":[]}`,
		`{"entities":[{"name":"B","type":"x"}],"relations":[]}`,
	}}
	graph := memory.NewGraphStore()
	builder := NewGraphBuilder(chat, graph)
	builder.ChunkGroupSize = 1

	entities, _, err := builder.Build(context.Background(), "tenant-a", sampleChunks(2))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if entities != 2 {
		t.Fatalf("expected one extraction call per group (2 entities), got %d", entities)
	}
	if chat.jsonN != 2 {
		t.Fatalf("expected 2 extraction calls, got %d", chat.jsonN)
	}
}

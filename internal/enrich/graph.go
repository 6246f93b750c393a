package enrich

import (
	"context"
	"fmt"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// extractedEntity and extractedRelation are the structured-output shape the
// extraction prompt asks the Chat port for; Source/Target on a relation name
// entities by the Name field, resolved to IDs after every entity in the
// batch has been upserted.
type extractedEntity struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

type extractedRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type extraction struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relations"`
}

var extractionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entities": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"type":    map[string]any{"type": "string"},
					"summary": map[string]any{"type": "string"},
				},
				"required": []string{"name", "type"},
			},
		},
		"relations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{"type": "string"},
					"target": map[string]any{"type": "string"},
					"type":   map[string]any{"type": "string"},
				},
				"required": []string{"source", "target", "type"},
			},
		},
	},
	"required": []string{"entities", "relations"},
}

// GraphBuilder turns a document's chunks into knowledge-graph rows.
type GraphBuilder struct {
	Chat  domain.Chat
	Graph repo.GraphRepository
	// ChunkGroupSize bounds how many chunks go into a single extraction
	// call; keeping this small trades extra LLM calls for provenance links
	// that stay precise to a handful of chunks each.
	ChunkGroupSize int
}

// NewGraphBuilder constructs a GraphBuilder with the default group size.
func NewGraphBuilder(chat domain.Chat, graph repo.GraphRepository) *GraphBuilder {
	return &GraphBuilder{Chat: chat, Graph: graph, ChunkGroupSize: 6}
}

// Build extracts entities and relations from chunks and persists them,
// returning the counts written for the job's result payload.
func (b *GraphBuilder) Build(ctx context.Context, tenantID string, chunks []domain.ContentChunk) (entityCount, relationCount int, err error) {
	groupSize := b.ChunkGroupSize
	if groupSize <= 0 {
		groupSize = 6
	}
	for start := 0; start < len(chunks); start += groupSize {
		end := start + groupSize
		if end > len(chunks) {
			end = len(chunks)
		}
		group := chunks[start:end]
		result, err := b.extractGroup(ctx, group)
		if err != nil {
			return entityCount, relationCount, fmt.Errorf("extract entities: %w", err)
		}
		byName := make(map[string]string, len(result.Entities))
		for _, e := range result.Entities {
			entity, err := b.Graph.UpsertEntity(ctx, domain.KnowledgeEntity{
				TenantID: tenantID,
				Name:     e.Name,
				Type:     e.Type,
				Props:    map[string]any{"summary": e.Summary},
			})
			if err != nil {
				return entityCount, relationCount, fmt.Errorf("upsert entity %q: %w", e.Name, err)
			}
			byName[e.Name] = entity.ID
			entityCount++
			for _, chunk := range group {
				if err := b.Graph.LinkProvenance(ctx, domain.KnowledgeNodeProvenance{
					EntityID: entity.ID,
					ChunkID:  chunk.ID,
					TenantID: tenantID,
				}); err != nil {
					return entityCount, relationCount, fmt.Errorf("link provenance for %q: %w", e.Name, err)
				}
			}
		}
		for _, r := range result.Relations {
			srcID, ok := byName[r.Source]
			if !ok {
				continue
			}
			dstID, ok := byName[r.Target]
			if !ok {
				continue
			}
			if err := b.Graph.UpsertRelation(ctx, domain.KnowledgeRelation{
				TenantID: tenantID,
				SourceID: srcID,
				TargetID: dstID,
				Type:     r.Type,
			}); err != nil {
				return entityCount, relationCount, fmt.Errorf("upsert relation %s->%s: %w", r.Source, r.Target, err)
			}
			relationCount++
		}
	}
	return entityCount, relationCount, nil
}

func (b *GraphBuilder) extractGroup(ctx context.Context, group []domain.ContentChunk) (extraction, error) {
	var text string
	for _, c := range group {
		text += c.Content + "\n\n"
	}
	messages := []domain.ChatMessage{
		{Role: "system", Content: "You extract named entities and directed relations from regulatory and policy text. Only extract entities explicitly named in the text."},
		{Role: "user", Content: "Extract entities and relations from the following text:\n\n" + text},
	}
	var result extraction
	if err := b.Chat.CompleteJSON(ctx, messages, extractionSchema, &result); err != nil {
		return extraction{}, err
	}
	return result, nil
}

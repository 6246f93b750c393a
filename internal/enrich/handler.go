package enrich

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/domain"
	"atomicrag/internal/events"
	"atomicrag/internal/jobqueue"
	"atomicrag/internal/repo"
)

// Handler runs the enrich_document job: load a document's eligible chunks,
// extract a knowledge graph, and build a RAPTOR summary tree over them.
type Handler struct {
	Sources repo.SourceRepository
	Chunks  repo.ChunkRepository
	Graph   *GraphBuilder
	Raptor  *RaptorBuilder

	// Events optionally mirrors every appended IngestionEvent onto Kafka; a
	// nil Publisher makes this a no-op.
	Events *events.Publisher
}

// NewHandler wires a Handler from the Chat/Embedder ports already
// constructed for ingestion, following the same provider-swap seam: the
// graph extraction model and the RAPTOR summarization model are accepted as
// independent domain.Chat values so either can be pointed at a different
// provider without touching the other.
func NewHandler(sources repo.SourceRepository, chunks repo.ChunkRepository, graphChat domain.Chat, graphRepo repo.GraphRepository, raptorChat domain.Chat, raptorEmbedder domain.Embedder, raptorRepo repo.RaptorRepository) *Handler {
	return &Handler{
		Sources: sources,
		Chunks:  chunks,
		Graph:   NewGraphBuilder(graphChat, graphRepo),
		Raptor:  NewRaptorBuilder(raptorChat, raptorEmbedder, raptorRepo),
	}
}

// Handle implements jobqueue.Handler.
func (h *Handler) Handle(ctx context.Context, job domain.JobQueueRow) (map[string]any, error) {
	docID, _ := job.Payload["source_document_id"].(string)
	if docID == "" {
		return nil, fmt.Errorf("enrich_document: payload missing source_document_id")
	}

	doc, ok, err := h.Sources.GetDocument(ctx, job.TenantID, docID)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("load source document: %w", err))
	}
	if !ok {
		return nil, fmt.Errorf("enrich_document: source document %s not found", docID)
	}

	all, err := h.Chunks.ListBySource(ctx, job.TenantID, docID)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("list chunks: %w", err))
	}
	eligible := make([]domain.ContentChunk, 0, len(all))
	for _, c := range all {
		if c.Metadata.RetrievalEligible {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		_ = h.appendEvent(ctx, job.TenantID, docID, domain.EventWarning, "enrichment skipped: no retrieval-eligible chunks")
		return map[string]any{"entities": 0, "relations": 0, "summary_nodes": 0}, nil
	}

	entityCount, relationCount, err := h.Graph.Build(ctx, job.TenantID, eligible)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("build graph: %w", err))
	}

	nodeCount, err := h.Raptor.Build(ctx, job.TenantID, doc.CollectionID, docID, eligible)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("build raptor tree: %w", err))
	}

	_ = h.appendEvent(ctx, job.TenantID, docID, domain.EventSuccess, fmt.Sprintf(
		"enrichment complete: %d entities, %d relations, %d summary nodes", entityCount, relationCount, nodeCount))

	return map[string]any{
		"entities":      entityCount,
		"relations":     relationCount,
		"summary_nodes": nodeCount,
	}, nil
}

func (h *Handler) appendEvent(ctx context.Context, tenantID, docID string, kind domain.EventKind, message string) error {
	ev := domain.IngestionEvent{
		ID:               uuid.NewString(),
		SourceDocumentID: docID,
		Message:          message,
		Status:           kind,
	}
	err := h.Sources.AppendEvent(ctx, ev)
	if err != nil {
		log.Warn().Err(err).Str("source_document_id", docID).Msg("enrich: failed to append event")
	}
	h.Events.PublishIngestionEvent(ctx, tenantID, ev)
	return err
}

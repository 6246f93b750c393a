package ingest

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/domain"
	"atomicrag/internal/events"
	"atomicrag/internal/jobqueue"
	"atomicrag/internal/objectstore"
	"atomicrag/internal/repo"
)

// Handler runs the ingest_document job: fetch the raw upload, parse it,
// classify and chunk it, embed the retrieval-eligible chunks, and persist
// the result, all under the lease the caller's Worker already holds.
// Grounded on the teacher's api.go orchestration shape (one stage per
// pipeline concern, chained behind a single entrypoint) generalized from its
// doc-source-specific stages to this strategy-registry-driven pipeline.
type Handler struct {
	Sources  repo.SourceRepository
	Chunks   repo.ChunkRepository
	Store    objectstore.ObjectStore
	Embedder domain.Embedder
	Queue    repo.JobQueueRepository
	Registry *StrategyRegistry
	Parsers  map[string]DocumentParser

	// AutoEnrich enqueues an enrich_document job after a successful ingest,
	// feeding the C7 graph-extraction and RAPTOR-summarization pipeline.
	AutoEnrich bool

	// Events optionally mirrors every appended IngestionEvent onto Kafka; a
	// nil Publisher makes this a no-op.
	Events *events.Publisher
}

// NewHandler wires the markdown/plaintext parser for every extension this
// system accepts; richer formats (pdf, docx) are not part of this pipeline's
// scope and fall back to the same parser, which simply sees no headings and
// lets the late-chunking fallback in the CONTENT strategy take over.
func NewHandler(sources repo.SourceRepository, chunks repo.ChunkRepository, store objectstore.ObjectStore, embedder domain.Embedder, queue repo.JobQueueRepository) *Handler {
	md := MarkdownParser{}
	return &Handler{
		Sources:  sources,
		Chunks:   chunks,
		Store:    store,
		Embedder: embedder,
		Queue:    queue,
		Registry: NewStrategyRegistry(),
		Parsers: map[string]DocumentParser{
			".md":       md,
			".markdown": md,
			".txt":      md,
			"":          md,
		},
		AutoEnrich: true,
	}
}

// Handle implements jobqueue.Handler.
func (h *Handler) Handle(ctx context.Context, job domain.JobQueueRow) (map[string]any, error) {
	docID, _ := job.Payload["source_document_id"].(string)
	if docID == "" {
		return nil, fmt.Errorf("ingest_document: payload missing source_document_id")
	}
	batchID, _ := job.Payload["batch_id"].(string)

	doc, ok, err := h.Sources.GetDocument(ctx, job.TenantID, docID)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("load source document: %w", err))
	}
	if !ok {
		return nil, fmt.Errorf("ingest_document: source document %s not found", docID)
	}

	if err := h.Sources.UpdateDocumentStatus(ctx, job.TenantID, docID, domain.StatusProcessing, ""); err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("mark processing: %w", err))
	}

	result, ingestErr := h.ingest(ctx, job, doc)
	if ingestErr != nil {
		_ = h.Sources.UpdateDocumentStatus(ctx, job.TenantID, docID, domain.StatusFailed, ingestErr.Error())
		_ = h.appendEvent(ctx, job.TenantID, docID, domain.EventError, ingestErr.Error(), nil)
		if err := RecordBatchOutcome(ctx, h.Sources, job.TenantID, batchID, false); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("ingest: batch outcome update failed")
		}
		return nil, ingestErr
	}

	finalStatus := domain.StatusProcessed
	if result.chunksWritten == 0 {
		finalStatus = domain.StatusEmptyFile
	}
	if err := h.Sources.UpdateDocumentStatus(ctx, job.TenantID, docID, finalStatus, ""); err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("mark %s: %w", finalStatus, err))
	}
	_ = h.appendEvent(ctx, job.TenantID, docID, domain.EventSuccess, fmt.Sprintf("ingested %d chunks (%d retrieval-eligible)", result.chunksWritten, result.eligibleChunks), map[string]any{
		"strategy":        result.strategy,
		"authority_level": string(result.authority),
	})

	if err := RecordBatchOutcome(ctx, h.Sources, job.TenantID, batchID, finalStatus == domain.StatusProcessed); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("ingest: batch outcome update failed")
	}

	if h.AutoEnrich && h.Queue != nil && finalStatus == domain.StatusProcessed {
		if _, _, err := jobqueue.EnqueueDeferredEnrichment(ctx, h.Queue, job.TenantID, docID); err != nil {
			log.Warn().Err(err).Str("source_document_id", docID).Msg("ingest: failed to enqueue enrichment")
		}
	}

	return map[string]any{
		"chunks_written":  result.chunksWritten,
		"eligible_chunks": result.eligibleChunks,
		"strategy":        result.strategy,
		"authority_level": string(result.authority),
	}, nil
}

type ingestResult struct {
	chunksWritten  int
	eligibleChunks int
	strategy       string
	authority      domain.AuthorityLevel
}

func (h *Handler) ingest(ctx context.Context, job domain.JobQueueRow, doc domain.SourceDocument) (ingestResult, error) {
	raw, err := h.fetchRaw(ctx, doc)
	if err != nil {
		return ingestResult{}, err
	}

	authority := doc.AuthorityLevel
	if authority == "" {
		authority = InferAuthorityLevel(doc.Filename, doc.Metadata)
	}

	parser := h.parserFor(doc.Filename)
	parsed, err := parser.Parse(doc.Filename, raw)
	if err != nil {
		return ingestResult{}, fmt.Errorf("parse document: %w", err)
	}

	strategyKey := domain.StrategyContent
	if s, ok := job.Payload["strategy"].(string); ok && s != "" {
		strategyKey = domain.StrategyKey(strings.ToUpper(s))
	}
	strategy, err := h.Registry.Resolve(strategyKey)
	if err != nil {
		return ingestResult{}, err
	}

	rawChunks := strategy.BuildChunks(parsed)
	if len(rawChunks) == 0 && len(strings.TrimSpace(string(raw))) > 0 {
		// No heading structure at all: fall back to plain fixed windows over
		// the raw text rather than reporting an empty document.
		for _, w := range splitWindow(string(raw), 1800, 200) {
			rawChunks = append(rawChunks, RawChunk{Role: domain.ChunkRoleNormativeBody, Text: w})
		}
	}
	if len(rawChunks) == 0 {
		return ingestResult{strategy: string(strategyKey), authority: authority}, nil
	}

	texts := make([]string, len(rawChunks))
	for i, c := range rawChunks {
		texts[i] = c.Text
	}
	vectors, err := h.Embedder.Embed(ctx, texts)
	if err != nil {
		return ingestResult{}, jobqueue.Transient(fmt.Errorf("embed chunks: %w", err))
	}
	profile := h.Embedder.Profile()

	chunks := make([]domain.ContentChunk, len(rawChunks))
	eligible := 0
	for i, rc := range rawChunks {
		isEligible := rc.Role == domain.ChunkRoleNormativeBody
		if isEligible {
			eligible++
		}
		chunks[i] = domain.ContentChunk{
			ID:           uuid.NewString(),
			SourceID:     doc.ID,
			TenantID:     job.TenantID,
			CollectionID: doc.CollectionID,
			Content:      rc.Text,
			Embedding:    vectors[i],
			ChunkIndex:   i,
			Metadata: domain.ChunkMetadata{
				HeadingPath:       rc.HeadingPath,
				ChunkRole:         rc.Role,
				RetrievalEligible: isEligible,
				ClauseID:          rc.ClauseID,
				AuthorityLevel:    authority,
				EmbeddingProfile:  profile,
				HeadingBoost:      headingBoost(rc.HeadingPath),
			},
		}
	}

	if err := h.Chunks.UpsertBatch(ctx, chunks); err != nil {
		return ingestResult{}, jobqueue.Transient(fmt.Errorf("persist chunks: %w", err))
	}

	return ingestResult{
		chunksWritten:  len(chunks),
		eligibleChunks: eligible,
		strategy:       string(strategyKey),
		authority:      authority,
	}, nil
}

func (h *Handler) fetchRaw(ctx context.Context, doc domain.SourceDocument) ([]byte, error) {
	rc, _, err := h.Store.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("fetch object %s: %w", doc.StoragePath, err))
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, jobqueue.Transient(fmt.Errorf("read object %s: %w", doc.StoragePath, err))
	}
	return raw, nil
}

func (h *Handler) parserFor(filename string) DocumentParser {
	ext := strings.ToLower(filepath.Ext(filename))
	if p, ok := h.Parsers[ext]; ok {
		return p
	}
	return h.Parsers[""]
}

func (h *Handler) appendEvent(ctx context.Context, tenantID, docID string, kind domain.EventKind, message string, meta map[string]any) error {
	ev := domain.IngestionEvent{
		ID:               uuid.NewString(),
		SourceDocumentID: docID,
		Message:          message,
		Status:           kind,
		PhaseMetadata:    meta,
	}
	err := h.Sources.AppendEvent(ctx, ev)
	h.Events.PublishIngestionEvent(ctx, tenantID, ev)
	return err
}

// headingBoost rewards deeper, more specific section matches over broad
// top-level ones, mirroring the teacher's preference for small numeric
// tie-breakers over introducing a whole separate ranking pass.
func headingBoost(path []string) float64 {
	if len(path) == 0 {
		return 0
	}
	boost := 0.02 * float64(len(path))
	if boost > 0.1 {
		boost = 0.1
	}
	return boost
}

package jobqueue

import (
	"context"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// EnqueueDeferredEnrichment enqueues an enrich_document job for docID unless
// one is already pending or processing, returning alreadyQueued=true in that
// case so callers can report it without consuming a queue slot (§4.3, §6
// POST /ingestion/enrich/{doc_id}).
func EnqueueDeferredEnrichment(ctx context.Context, queue repo.JobQueueRepository, tenantID, docID string) (job domain.JobQueueRow, alreadyQueued bool, err error) {
	pending, err := queue.HasPendingOrProcessingFor(ctx, tenantID, domain.JobEnrichDocument, "source_document_id", docID)
	if err != nil {
		return domain.JobQueueRow{}, false, err
	}
	if pending {
		return domain.JobQueueRow{}, true, nil
	}
	job, err = queue.Enqueue(ctx, domain.JobQueueRow{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		JobType:  domain.JobEnrichDocument,
		Status:   domain.JobPending,
		Payload:  map[string]any{"source_document_id": docID},
	})
	return job, false, err
}

// EnqueueIngestDocument enqueues an ingest_document job for a newly created
// SourceDocument row.
func EnqueueIngestDocument(ctx context.Context, queue repo.JobQueueRepository, tenantID, docID string, payload map[string]any) (domain.JobQueueRow, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["source_document_id"] = docID
	return queue.Enqueue(ctx, domain.JobQueueRow{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		JobType:  domain.JobIngestDocument,
		Status:   domain.JobPending,
		Payload:  payload,
	})
}

// EnqueueCommunityRebuild enqueues a tenant-wide community_rebuild job.
func EnqueueCommunityRebuild(ctx context.Context, queue repo.JobQueueRepository, tenantID string) (domain.JobQueueRow, error) {
	return queue.Enqueue(ctx, domain.JobQueueRow{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		JobType:  domain.JobCommunityRebuild,
		Status:   domain.JobPending,
		Payload:  map[string]any{},
	})
}

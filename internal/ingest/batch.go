package ingest

import (
	"context"

	"atomicrag/internal/repo"
)

// RecordBatchOutcome increments an IngestionBatch's completed/failed counters
// after one of its documents reaches a terminal ingestion state, and seals
// the batch once every file has resolved and the batch opted into
// auto-sealing. batchID is empty for documents uploaded outside a batch, in
// which case this is a no-op: batch bookkeeping only applies to documents
// that were actually enqueued as part of one.
func RecordBatchOutcome(ctx context.Context, sources repo.SourceRepository, tenantID, batchID string, success bool) error {
	if batchID == "" {
		return nil
	}
	completedDelta, failedDelta := 0, 0
	if success {
		completedDelta = 1
	} else {
		failedDelta = 1
	}
	batch, err := sources.IncrementBatchCounters(ctx, tenantID, batchID, completedDelta, failedDelta)
	if err != nil {
		return err
	}
	if batch.Terminal() && batch.AutoSeal {
		return sources.SealBatch(ctx, tenantID, batchID)
	}
	return nil
}

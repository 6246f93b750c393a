package ingest

import (
	"context"
	"testing"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo/memory"
)

func TestRecordBatchOutcomeSealsOnCompletion(t *testing.T) {
	ctx := context.Background()
	sources := memory.NewSourceStore()
	batch, err := sources.CreateBatch(ctx, domain.IngestionBatch{TenantID: "t1", TotalFiles: 2, AutoSeal: true})
	if err != nil {
		t.Fatalf("create batch: %v", err)
	}

	if err := RecordBatchOutcome(ctx, sources, "t1", batch.ID, true); err != nil {
		t.Fatalf("record outcome 1: %v", err)
	}
	got, _, err := sources.GetBatch(ctx, "t1", batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.Status.IsTerminal() {
		t.Fatalf("batch should not be terminal after 1 of 2 files")
	}

	if err := RecordBatchOutcome(ctx, sources, "t1", batch.ID, false); err != nil {
		t.Fatalf("record outcome 2: %v", err)
	}
	got, _, err = sources.GetBatch(ctx, "t1", batch.ID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if got.Status != domain.BatchPartial {
		t.Fatalf("expected partial status, got %q", got.Status)
	}
}

func TestRecordBatchOutcomeNoOpWithoutBatchID(t *testing.T) {
	sources := memory.NewSourceStore()
	if err := RecordBatchOutcome(context.Background(), sources, "t1", "", true); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

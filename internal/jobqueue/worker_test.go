package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo/memory"
)

func policyForTest() Policy {
	p := DefaultPolicy()
	p.Lease = 200 * time.Millisecond
	p.PollInterval = 5 * time.Millisecond
	p.MaxRetries = 2
	return p
}

func TestWorkerCompletesJob(t *testing.T) {
	queue := memory.NewJobQueueStore()
	job, err := queue.Enqueue(context.Background(), domain.JobQueueRow{
		TenantID: "tenant-a",
		JobType:  domain.JobIngestDocument,
		Status:   domain.JobPending,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan struct{})
	handler := func(ctx context.Context, j domain.JobQueueRow) (map[string]any, error) {
		close(done)
		return map[string]any{"ok": true}, nil
	}

	w := NewWorker("worker-1", domain.JobIngestDocument, queue, handler, policyForTest())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	waitForStatus(t, queue, job.ID, domain.JobCompleted)
}

func TestWorkerInvokesOnTerminalHookOnCompletion(t *testing.T) {
	queue := memory.NewJobQueueStore()
	job, err := queue.Enqueue(context.Background(), domain.JobQueueRow{
		TenantID: "tenant-a",
		JobType:  domain.JobIngestDocument,
		Status:   domain.JobPending,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	handler := func(ctx context.Context, j domain.JobQueueRow) (map[string]any, error) {
		return map[string]any{}, nil
	}

	hookCalled := make(chan domain.JobStatus, 1)
	w := NewWorker("worker-1", domain.JobIngestDocument, queue, handler, policyForTest())
	w.OnTerminal = func(tenantID, jobID string, jobType domain.JobType, status domain.JobStatus) {
		if tenantID != "tenant-a" || jobID != job.ID || jobType != domain.JobIngestDocument {
			t.Errorf("unexpected hook args: %s %s %s %s", tenantID, jobID, jobType, status)
		}
		hookCalled <- status
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case status := <-hookCalled:
		if status != domain.JobCompleted {
			t.Fatalf("expected completed status, got %q", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnTerminal hook was never invoked")
	}
}

func TestWorkerRequeuesTransientFailure(t *testing.T) {
	queue := memory.NewJobQueueStore()
	job, err := queue.Enqueue(context.Background(), domain.JobQueueRow{
		TenantID: "tenant-a",
		JobType:  domain.JobEnrichDocument,
		Status:   domain.JobPending,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls int
	handler := func(ctx context.Context, j domain.JobQueueRow) (map[string]any, error) {
		calls++
		if calls == 1 {
			return nil, Transient(errors.New("upstream unavailable"))
		}
		return map[string]any{"ok": true}, nil
	}

	w := NewWorker("worker-1", domain.JobEnrichDocument, queue, handler, policyForTest())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, queue, job.ID, domain.JobCompleted)
	if calls < 2 {
		t.Fatalf("expected the job to be retried after a transient failure, got %d calls", calls)
	}
}

func TestWorkerDeadLettersAfterMaxRetries(t *testing.T) {
	queue := memory.NewJobQueueStore()
	job, err := queue.Enqueue(context.Background(), domain.JobQueueRow{
		TenantID: "tenant-a",
		JobType:  domain.JobCommunityRebuild,
		Status:   domain.JobPending,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	handler := func(ctx context.Context, j domain.JobQueueRow) (map[string]any, error) {
		return nil, errors.New("permanent failure")
	}

	policy := policyForTest()
	policy.MaxRetries = 1
	w := NewWorker("worker-1", domain.JobCommunityRebuild, queue, handler, policy)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	waitForStatus(t, queue, job.ID, domain.JobDeadLetter)
}

func waitForStatus(t *testing.T, queue *memory.JobQueueStore, jobID string, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		row, found := queue.Get(jobID)
		if found && row.Status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	row, _ := queue.Get(jobID)
	t.Fatalf("job %s never reached status %s (last seen %s)", jobID, want, row.Status)
}

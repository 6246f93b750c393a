// Package jobqueue implements the lease-protocol worker loop (§4.3): poll,
// claim via compare-and-set, heartbeat, dispatch to a registered handler,
// and mark the job final, all gated by a global and a per-tenant semaphore.
// Grounded on the teacher's preference for small composable I/O interfaces
// (internal/persistence/databases/interfaces.go) generalized to the
// repo.JobQueueRepository port, and on golang.org/x/sync/semaphore already
// named in the curated dependency set for bounded concurrency.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// TransientError marks a failure the worker should requeue rather than fail
// permanently; the repository port classifies transport errors this way.
type TransientError struct{ cause error }

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.cause) }
func (e *TransientError) Unwrap() error { return e.cause }

// Transient wraps err so the worker retries instead of dead-lettering it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{cause: err}
}

func isTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// Handler processes one claimed job and returns its result or an error.
// Returning a Transient error requeues the job for retry; any other error
// counts against MaxRetries before the job moves to dead_letter.
type Handler func(ctx context.Context, job domain.JobQueueRow) (map[string]any, error)

// Policy bounds worker concurrency and retry behavior (§4.3, §6).
type Policy struct {
	Lease                time.Duration
	GlobalMaxConcurrency int64
	TenantMaxConcurrency int64
	MaxRetries           int
	PollInterval         time.Duration
}

// DefaultPolicy mirrors the documented environment defaults.
func DefaultPolicy() Policy {
	return Policy{
		Lease:                60 * time.Second,
		GlobalMaxConcurrency: 8,
		TenantMaxConcurrency: 1,
		MaxRetries:           3,
		PollInterval:         500 * time.Millisecond,
	}
}

// TerminalHook is invoked after a job reaches a terminal status
// (completed, failed, dead_letter); it never fires for a transient
// requeue back to pending. Set Worker.OnTerminal to mirror transitions
// onto an external stream (e.g. events.Publisher.PublishJobTerminal).
type TerminalHook func(tenantID, jobID string, jobType domain.JobType, status domain.JobStatus)

// Worker polls one job_type, claims jobs under bounded concurrency, and
// dispatches them to a registered Handler.
type Worker struct {
	id      string
	jobType domain.JobType
	queue   repo.JobQueueRepository
	handler Handler
	policy  Policy

	// OnTerminal is optional; nil means no external notification.
	OnTerminal TerminalHook

	global *semaphore.Weighted

	mu        sync.Mutex
	perTenant map[string]*semaphore.Weighted
}

// NewWorker constructs a Worker identified by workerID, polling jobType from
// queue and dispatching claimed jobs to handler under policy.
func NewWorker(workerID string, jobType domain.JobType, queue repo.JobQueueRepository, handler Handler, policy Policy) *Worker {
	return &Worker{
		id:        workerID,
		jobType:   jobType,
		queue:     queue,
		handler:   handler,
		policy:    policy,
		global:    semaphore.NewWeighted(policy.GlobalMaxConcurrency),
		perTenant: make(map[string]*semaphore.Weighted),
	}
}

func (w *Worker) tenantSem(tenantID string) *semaphore.Weighted {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.perTenant[tenantID]
	if !ok {
		s = semaphore.NewWeighted(w.policy.TenantMaxConcurrency)
		w.perTenant[tenantID] = s
	}
	return s
}

// Run polls until ctx is canceled. Each poll first requeues stale leases,
// then attempts to claim and dispatch one job; when none is pending it
// sleeps for PollInterval before trying again.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := w.queue.RequeueStale(ctx, w.jobType); err != nil {
			log.Error().Err(err).Str("job_type", string(w.jobType)).Msg("requeue stale jobs failed")
		}
		claimed, err := w.pollOnce(ctx)
		if err != nil {
			log.Error().Err(err).Str("job_type", string(w.jobType)).Msg("poll failed")
		}
		if !claimed {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.policy.PollInterval):
			}
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) (bool, error) {
	job, ok, err := w.queue.FetchNext(ctx, w.jobType, w.id, w.policy.Lease)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	tenantSem := w.tenantSem(job.TenantID)
	if !tenantSem.TryAcquire(1) {
		// Another job for this tenant already holds the slot; FetchNext has
		// already claimed this one, so flip it back to pending for a later
		// poll rather than blocking the worker.
		return false, w.queue.MarkFinal(ctx, job.ID, domain.JobPending, nil, "")
	}
	if !w.global.TryAcquire(1) {
		tenantSem.Release(1)
		return false, w.queue.MarkFinal(ctx, job.ID, domain.JobPending, nil, "")
	}

	go w.process(job, tenantSem)
	return true, nil
}

func (w *Worker) process(job domain.JobQueueRow, tenantSem *semaphore.Weighted) {
	defer w.global.Release(1)
	defer tenantSem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := w.startHeartbeat(ctx, job.ID)
	defer stop()

	result, err := w.handler(ctx, job)
	stop()

	if err == nil {
		if mErr := w.queue.MarkFinal(ctx, job.ID, domain.JobCompleted, result, ""); mErr != nil {
			log.Error().Err(mErr).Str("job_id", job.ID).Msg("mark job completed failed")
		}
		w.notifyTerminal(job, domain.JobCompleted)
		return
	}

	if isTransient(err) {
		if _, rErr := w.queue.IncrementRetry(ctx, job.ID); rErr != nil {
			log.Error().Err(rErr).Str("job_id", job.ID).Msg("increment retry failed")
		}
		// MarkFinal's WHERE clause only excludes terminal statuses, so
		// reusing it here to flip processing back to pending is safe even
		// though the job isn't actually final.
		if mErr := w.queue.MarkFinal(ctx, job.ID, domain.JobPending, nil, ""); mErr != nil {
			log.Error().Err(mErr).Str("job_id", job.ID).Msg("requeue after transient failure failed")
		}
		log.Warn().Err(err).Str("job_id", job.ID).Msg("transient failure, requeued for retry")
		return
	}

	retries, rErr := w.queue.IncrementRetry(ctx, job.ID)
	if rErr != nil {
		log.Error().Err(rErr).Str("job_id", job.ID).Msg("increment retry failed")
	}
	if retries < w.policy.MaxRetries {
		if mErr := w.queue.MarkFinal(ctx, job.ID, domain.JobPending, nil, err.Error()); mErr != nil {
			log.Error().Err(mErr).Str("job_id", job.ID).Msg("requeue after failure failed")
		}
		log.Warn().Err(err).Str("job_id", job.ID).Int("retry_count", retries).Msg("job failed, requeued for retry")
		return
	}
	if mErr := w.queue.MarkFinal(ctx, job.ID, domain.JobDeadLetter, nil, err.Error()); mErr != nil {
		log.Error().Err(mErr).Str("job_id", job.ID).Msg("mark job failed")
	}
	w.notifyTerminal(job, domain.JobDeadLetter)
}

func (w *Worker) notifyTerminal(job domain.JobQueueRow, status domain.JobStatus) {
	if w.OnTerminal == nil {
		return
	}
	w.OnTerminal(job.TenantID, job.ID, job.JobType, status)
}

// startHeartbeat renews the lease every Lease/3 until stop is called,
// ending heartbeats as soon as the job reaches a final state (§4.3 step 2).
func (w *Worker) startHeartbeat(ctx context.Context, jobID string) (stop func()) {
	interval := w.policy.Lease / 3
	if interval <= 0 {
		interval = time.Second
	}
	done := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := w.queue.RenewLease(ctx, jobID, w.id, w.policy.Lease); err != nil {
					log.Error().Err(err).Str("job_id", jobID).Msg("renew lease failed")
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// JobQueueStore is an in-memory JobQueueRepository implementing the same
// lease compare-and-set contract the Postgres implementation promises via
// SQL, using a mutex instead of row-level locking.
type JobQueueStore struct {
	mu   sync.Mutex
	rows map[string]domain.JobQueueRow
}

// NewJobQueueStore constructs an empty in-memory JobQueueRepository.
func NewJobQueueStore() *JobQueueStore {
	return &JobQueueStore{rows: map[string]domain.JobQueueRow{}}
}

var _ repo.JobQueueRepository = (*JobQueueStore)(nil)

func (q *JobQueueStore) Enqueue(_ context.Context, job domain.JobQueueRow) (domain.JobQueueRow, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = domain.JobPending
	}
	q.rows[job.ID] = job
	return job, nil
}

func (q *JobQueueStore) FetchNext(_ context.Context, jobType domain.JobType, workerID string, lease time.Duration) (domain.JobQueueRow, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var candidates []domain.JobQueueRow
	for _, r := range q.rows {
		if r.JobType == jobType && r.Status == domain.JobPending {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return domain.JobQueueRow{}, false, nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	picked := candidates[0]
	picked.Status = domain.JobProcessing
	picked.LeaseHolder = workerID
	picked.LeaseExpiresAt = time.Now().Add(lease)
	picked.UpdatedAt = time.Now()
	q.rows[picked.ID] = picked
	return picked, true, nil
}

func (q *JobQueueStore) RenewLease(_ context.Context, jobID, workerID string, lease time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.rows[jobID]
	if !ok || r.LeaseHolder != workerID || r.Status != domain.JobProcessing {
		return fmt.Errorf("job %s: lease not held by %s", jobID, workerID)
	}
	r.LeaseExpiresAt = time.Now().Add(lease)
	r.UpdatedAt = time.Now()
	q.rows[jobID] = r
	return nil
}

func (q *JobQueueStore) RequeueStale(_ context.Context, jobType domain.JobType) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	n := 0
	for id, r := range q.rows {
		if r.JobType != jobType || r.Status != domain.JobProcessing {
			continue
		}
		if r.LeaseExpiresAt.Before(now) {
			r.Status = domain.JobPending
			r.LeaseHolder = ""
			r.RetryCount++
			r.UpdatedAt = now
			q.rows[id] = r
			n++
		}
	}
	return n, nil
}

func (q *JobQueueStore) MarkFinal(_ context.Context, jobID string, status domain.JobStatus, result map[string]any, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.rows[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if r.Status == domain.JobCompleted || r.Status == domain.JobFailed || r.Status == domain.JobDeadLetter {
		return nil // idempotent
	}
	r.Status = status
	r.Result = result
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now()
	q.rows[jobID] = r
	return nil
}

func (q *JobQueueStore) IncrementRetry(_ context.Context, jobID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.rows[jobID]
	if !ok {
		return 0, domain.ErrJobNotFound
	}
	r.RetryCount++
	r.UpdatedAt = time.Now()
	q.rows[jobID] = r
	return r.RetryCount, nil
}

func (q *JobQueueStore) HasPendingOrProcessingFor(_ context.Context, tenantID string, jobType domain.JobType, payloadKey, payloadValue string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.rows {
		if r.TenantID != tenantID || r.JobType != jobType {
			continue
		}
		if r.Status != domain.JobPending && r.Status != domain.JobProcessing {
			continue
		}
		if v, ok := r.Payload[payloadKey]; ok {
			if s, ok := v.(string); ok && s == payloadValue {
				return true, nil
			}
		}
	}
	return false, nil
}

// Get is a test/debug accessor not part of repo.JobQueueRepository; the
// postgres implementation has no equivalent since callers there query the
// table directly.
func (q *JobQueueStore) Get(jobID string) (domain.JobQueueRow, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.rows[jobID]
	return r, ok
}

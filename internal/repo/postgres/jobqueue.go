package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// JobQueueStore implements the durable job queue lease protocol described
// in §4.3 with a single compare-and-set UPDATE ... RETURNING per fetch, the
// same primitive the teacher's postgres stores use for optimistic upserts.
type JobQueueStore struct {
	pool *pgxpool.Pool
}

// NewJobQueueStore bootstraps the job_queue schema.
func NewJobQueueStore(ctx context.Context, pool *pgxpool.Pool) (*JobQueueStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_queue (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			payload JSONB NOT NULL DEFAULT '{}'::jsonb,
			result JSONB NOT NULL DEFAULT '{}'::jsonb,
			error_message TEXT,
			lease_holder TEXT NOT NULL DEFAULT '',
			lease_expires_at TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS job_queue_claim_idx ON job_queue(job_type, status, created_at)`,
		`CREATE INDEX IF NOT EXISTS job_queue_stale_idx ON job_queue(job_type, status, lease_expires_at)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap job_queue schema: %w", err)
		}
	}
	return &JobQueueStore{pool: pool}, nil
}

var _ repo.JobQueueRepository = (*JobQueueStore)(nil)

func (q *JobQueueStore) Enqueue(ctx context.Context, job domain.JobQueueRow) (domain.JobQueueRow, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobPending
	}
	row := q.pool.QueryRow(ctx, `
INSERT INTO job_queue(id, tenant_id, job_type, status, payload)
VALUES($1,$2,$3,$4,$5)
RETURNING created_at, updated_at`,
		job.ID, job.TenantID, string(job.JobType), string(job.Status), jsonOf(job.Payload))
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return domain.JobQueueRow{}, err
	}
	return job, nil
}

// FetchNext claims the oldest pending row of jobType for workerID with a
// single atomic UPDATE ... WHERE status='pending' ... RETURNING, so two
// workers racing on the same row never both win the lease.
func (q *JobQueueStore) FetchNext(ctx context.Context, jobType domain.JobType, workerID string, lease time.Duration) (domain.JobQueueRow, bool, error) {
	row := q.pool.QueryRow(ctx, `
UPDATE job_queue SET status='processing', lease_holder=$1, lease_expires_at=now() + ($2 * interval '1 second'), updated_at=now()
WHERE id = (
  SELECT id FROM job_queue
  WHERE job_type=$3 AND status='pending'
  ORDER BY created_at
  FOR UPDATE SKIP LOCKED
  LIMIT 1
)
RETURNING id, tenant_id, job_type, status, payload, result, coalesce(error_message,''),
          lease_holder, lease_expires_at, retry_count, created_at, updated_at`,
		workerID, lease.Seconds(), string(jobType))
	j, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.JobQueueRow{}, false, nil
		}
		return domain.JobQueueRow{}, false, err
	}
	return j, true, nil
}

func (q *JobQueueStore) RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error {
	tag, err := q.pool.Exec(ctx, `
UPDATE job_queue SET lease_expires_at = now() + ($1 * interval '1 second'), updated_at=now()
WHERE id=$2 AND lease_holder=$3 AND status='processing'`, lease.Seconds(), jobID, workerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: lease not held by %s", jobID, workerID)
	}
	return nil
}

// RequeueStale resets any row whose lease has expired back to pending,
// incrementing retry_count so the caller's retry policy can observe it.
func (q *JobQueueStore) RequeueStale(ctx context.Context, jobType domain.JobType) (int, error) {
	tag, err := q.pool.Exec(ctx, `
UPDATE job_queue SET status='pending', lease_holder='', retry_count = retry_count + 1, updated_at=now()
WHERE job_type=$1 AND status='processing' AND lease_expires_at < now()`, string(jobType))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// MarkFinal is idempotent: a row already in a terminal state is left alone,
// so a duplicate completion report from a worker that raced a lease
// expiry never overwrites a later, authoritative result.
func (q *JobQueueStore) MarkFinal(ctx context.Context, jobID string, status domain.JobStatus, result map[string]any, errMsg string) error {
	tag, err := q.pool.Exec(ctx, `
UPDATE job_queue SET status=$1, result=$2, error_message=nullif($3,''), updated_at=now()
WHERE id=$4 AND status NOT IN ('completed','failed','dead_letter')`,
		string(status), jsonOf(result), errMsg, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.pool.QueryRow(ctx, `SELECT true FROM job_queue WHERE id=$1`, jobID).Scan(&exists); err != nil {
			if err == pgx.ErrNoRows {
				return domain.ErrJobNotFound
			}
			return err
		}
	}
	return nil
}

func (q *JobQueueStore) IncrementRetry(ctx context.Context, jobID string) (int, error) {
	row := q.pool.QueryRow(ctx, `
UPDATE job_queue SET retry_count = retry_count + 1, updated_at=now() WHERE id=$1 RETURNING retry_count`, jobID)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrJobNotFound
		}
		return 0, err
	}
	return n, nil
}

func (q *JobQueueStore) HasPendingOrProcessingFor(ctx context.Context, tenantID string, jobType domain.JobType, payloadKey, payloadValue string) (bool, error) {
	var exists bool
	err := q.pool.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM job_queue
  WHERE tenant_id=$1 AND job_type=$2 AND status IN ('pending','processing')
    AND payload->>$3 = $4
)`, tenantID, string(jobType), payloadKey, payloadValue).Scan(&exists)
	return exists, err
}

func scanJob(row pgx.Row) (domain.JobQueueRow, error) {
	var j domain.JobQueueRow
	var jobType, status string
	var payloadRaw, resultRaw []byte
	var leaseExpires *time.Time
	if err := row.Scan(&j.ID, &j.TenantID, &jobType, &status, &payloadRaw, &resultRaw, &j.ErrorMessage,
		&j.LeaseHolder, &leaseExpires, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.JobQueueRow{}, err
	}
	j.JobType = domain.JobType(jobType)
	j.Status = domain.JobStatus(status)
	_ = json.Unmarshal(payloadRaw, &j.Payload)
	_ = json.Unmarshal(resultRaw, &j.Result)
	if leaseExpires != nil {
		j.LeaseExpiresAt = *leaseExpires
	}
	return j, nil
}

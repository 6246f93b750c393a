package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// IdempotencyStore backs the Idempotency-Key HTTP contract with a TTL
// column and lazy expiry on read, avoiding a background sweeper.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore bootstraps the idempotency_keys schema.
func NewIdempotencyStore(ctx context.Context, pool *pgxpool.Pool) (*IdempotencyStore, error) {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return nil, fmt.Errorf("bootstrap idempotency schema: %w", err)
	}
	return &IdempotencyStore{pool: pool}, nil
}

var _ repo.IdempotencyRepository = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Get(ctx context.Context, key string) (domain.IdempotencyEntry, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT key, payload, created_at FROM idempotency_keys WHERE key=$1 AND expires_at > now()`, key)
	var e domain.IdempotencyEntry
	if err := row.Scan(&e.Key, &e.Payload, &e.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.IdempotencyEntry{}, false, nil
		}
		return domain.IdempotencyEntry{}, false, err
	}
	return e, true, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, entry domain.IdempotencyEntry, ttl time.Duration) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO idempotency_keys(key, payload, created_at, expires_at)
VALUES($1,$2,$3,$3 + ($4 * interval '1 second'))
ON CONFLICT (key) DO UPDATE SET payload=EXCLUDED.payload, created_at=EXCLUDED.created_at, expires_at=EXCLUDED.expires_at`,
		entry.Key, entry.Payload, entry.CreatedAt, ttl.Seconds())
	return err
}

// CommunityStore persists community-detection clusters over the graph.
type CommunityStore struct {
	pool *pgxpool.Pool
}

// NewCommunityStore bootstraps the knowledge_communities schema.
func NewCommunityStore(ctx context.Context, pool *pgxpool.Pool, dims int) (*CommunityStore, error) {
	vecType := "vector"
	if dims > 0 {
		vecType = fmt.Sprintf("vector(%d)", dims)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_communities (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			embedding %s,
			member_ids TEXT[] NOT NULL DEFAULT '{}'
		)`, vecType),
		`CREATE INDEX IF NOT EXISTS knowledge_communities_tenant_idx ON knowledge_communities(tenant_id)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap community schema: %w", err)
		}
	}
	return &CommunityStore{pool: pool}, nil
}

var _ repo.CommunityRepository = (*CommunityStore)(nil)

// ReplaceCommunities atomically swaps the tenant's community set, since
// community detection is always a full rebuild (§ community worker).
func (c *CommunityStore) ReplaceCommunities(ctx context.Context, tenantID string, communities []domain.KnowledgeCommunity) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `DELETE FROM knowledge_communities WHERE tenant_id=$1`, tenantID); err != nil {
		return err
	}
	for _, cm := range communities {
		if _, err := tx.Exec(ctx, `
INSERT INTO knowledge_communities(id, tenant_id, summary, embedding, member_ids)
VALUES($1,$2,$3,$4::vector,$5)`, cm.ID, tenantID, cm.Summary, toVectorLiteral(cm.Embedding), cm.MemberIDs); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (c *CommunityStore) MatchByVector(ctx context.Context, tenantID string, vector []float32, k int) ([]domain.KnowledgeCommunity, error) {
	if k <= 0 {
		k = 10
	}
	rows, err := c.pool.Query(ctx, `
SELECT id, summary, member_ids FROM knowledge_communities
WHERE tenant_id=$1
ORDER BY embedding <=> $2::vector
LIMIT $3`, tenantID, toVectorLiteral(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.KnowledgeCommunity
	for rows.Next() {
		var cm domain.KnowledgeCommunity
		if err := rows.Scan(&cm.ID, &cm.Summary, &cm.MemberIDs); err != nil {
			return nil, err
		}
		cm.TenantID = tenantID
		out = append(out, cm)
	}
	return out, rows.Err()
}

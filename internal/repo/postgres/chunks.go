package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// ChunkStore persists ContentChunk rows and runs the blended cosine+FTS
// retrieval primitive, following the teacher's pgVector/pgSearch split but
// fused into one table so RRF can be computed inside a single query.
type ChunkStore struct {
	pool *pgxpool.Pool
}

// NewChunkStore bootstraps the pgvector extension and the chunks table and
// returns a repo.ChunkRepository backed by pool.
func NewChunkStore(ctx context.Context, pool *pgxpool.Pool, dims int) (*ChunkStore, error) {
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return nil, fmt.Errorf("bootstrap vector extension: %w", err)
	}
	vecType := "vector"
	if dims > 0 {
		vecType = fmt.Sprintf("vector(%d)", dims)
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS content_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			collection_id TEXT,
			content TEXT NOT NULL,
			embedding %s,
			chunk_index INT NOT NULL DEFAULT 0,
			file_page_number INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			is_global BOOLEAN NOT NULL DEFAULT false,
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vecType),
		`CREATE INDEX IF NOT EXISTS content_chunks_ts_idx ON content_chunks USING GIN (ts)`,
		`CREATE INDEX IF NOT EXISTS content_chunks_tenant_idx ON content_chunks(tenant_id, collection_id)`,
		`CREATE INDEX IF NOT EXISTS content_chunks_source_idx ON content_chunks(tenant_id, source_id)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap chunk schema: %w", err)
		}
	}
	return &ChunkStore{pool: pool}, nil
}

var _ repo.ChunkRepository = (*ChunkStore)(nil)

func toVectorLiteral(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%g", x)
	}
	b.WriteByte(']')
	return b.String()
}

func (c *ChunkStore) UpsertBatch(ctx context.Context, chunks []domain.ContentChunk) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, ch := range chunks {
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		metaRaw, err := json.Marshal(ch.Metadata)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
INSERT INTO content_chunks(id, source_id, tenant_id, collection_id, content, embedding, chunk_index, file_page_number, metadata, is_global)
VALUES($1,$2,$3,$4,$5,$6::vector,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, embedding=EXCLUDED.embedding,
  chunk_index=EXCLUDED.chunk_index, file_page_number=EXCLUDED.file_page_number,
  metadata=EXCLUDED.metadata, is_global=EXCLUDED.is_global`,
			ch.ID, ch.SourceID, ch.TenantID, nullIfEmpty(ch.CollectionID), ch.Content,
			toVectorLiteral(ch.Embedding), ch.ChunkIndex, ch.FilePageNumber, metaRaw, ch.IsGlobal)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (c *ChunkStore) DeleteBySource(ctx context.Context, tenantID, sourceID string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM content_chunks WHERE tenant_id=$1 AND source_id=$2`, tenantID, sourceID)
	return err
}

func (c *ChunkStore) FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.ContentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.pool.Query(ctx, `
SELECT id, source_id, tenant_id, coalesce(collection_id,''), content, chunk_index, file_page_number, metadata, is_global, created_at
FROM content_chunks WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (c *ChunkStore) ListBySource(ctx context.Context, tenantID, sourceID string) ([]domain.ContentChunk, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, source_id, tenant_id, coalesce(collection_id,''), content, chunk_index, file_page_number, metadata, is_global, created_at
FROM content_chunks WHERE tenant_id=$1 AND source_id=$2 ORDER BY chunk_index`, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunks(rows)
}

func scanChunks(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.ContentChunk, error) {
	var out []domain.ContentChunk
	for rows.Next() {
		var ch domain.ContentChunk
		var metaRaw []byte
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.TenantID, &ch.CollectionID, &ch.Content,
			&ch.ChunkIndex, &ch.FilePageNumber, &metaRaw, &ch.IsGlobal, &ch.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(metaRaw, &ch.Metadata)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// RetrieveHybrid fuses vector cosine-similarity ranks and FTS ts_rank ranks
// with reciprocal-rank-fusion computed in a single CTE, mirroring the
// teacher's separate pgVector.SimilaritySearch / pgSearch.Search primitives
// collapsed into one pass so RRF can weight both rank streams server-side.
func (c *ChunkStore) RetrieveHybrid(ctx context.Context, p repo.HybridSearchParams) ([]domain.ContentChunk, []float64, error) {
	if p.MatchCount <= 0 {
		p.MatchCount = 20
	}
	rrfK := p.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	vecLit := toVectorLiteral(p.QueryEmbedding)
	scopeClause := `(tenant_id = $1 OR is_global = true)`
	args := []any{p.TenantID, vecLit, p.QueryText, p.MatchThreshold, p.MatchCount, rrfK, p.VectorWeight, p.FTSWeight}
	extra := ""
	if p.CollectionID != "" {
		extra += fmt.Sprintf(" AND collection_id = $%d", len(args)+1)
		args = append(args, p.CollectionID)
	}
	if len(p.SourceStandards) > 0 {
		extra += fmt.Sprintf(" AND metadata->>'SourceStandard' = ANY($%d)", len(args)+1)
		args = append(args, p.SourceStandards)
	}
	query := fmt.Sprintf(`
WITH vec_ranked AS (
  SELECT id, row_number() OVER (ORDER BY embedding <=> $2::vector) AS rnk,
         1 - (embedding <=> $2::vector) AS vec_score
  FROM content_chunks
  WHERE %s AND embedding IS NOT NULL %s
  ORDER BY embedding <=> $2::vector
  LIMIT $5 * 4
),
fts_ranked AS (
  SELECT id, row_number() OVER (ORDER BY ts_rank(ts, plainto_tsquery('simple', $3)) DESC) AS rnk,
         ts_rank(ts, plainto_tsquery('simple', $3)) AS fts_score
  FROM content_chunks
  WHERE %s AND $3 <> '' AND ts @@ plainto_tsquery('simple', $3) %s
  ORDER BY ts_rank(ts, plainto_tsquery('simple', $3)) DESC
  LIMIT $5 * 4
),
fused AS (
  SELECT coalesce(v.id, f.id) AS id,
         ($7 * coalesce(1.0 / ($6 + v.rnk), 0)) + ($8 * coalesce(1.0 / ($6 + f.rnk), 0)) AS score
  FROM vec_ranked v
  FULL OUTER JOIN fts_ranked f ON v.id = f.id
)
SELECT cc.id, cc.source_id, cc.tenant_id, coalesce(cc.collection_id,''), cc.content, cc.chunk_index,
       cc.file_page_number, cc.metadata, cc.is_global, cc.created_at, fused.score
FROM fused
JOIN content_chunks cc ON cc.id = fused.id
WHERE fused.score >= $4
ORDER BY fused.score DESC
LIMIT $5`, scopeClause, extra, scopeClause, extra)

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var chunks []domain.ContentChunk
	var scores []float64
	for rows.Next() {
		var ch domain.ContentChunk
		var metaRaw []byte
		var score float64
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.TenantID, &ch.CollectionID, &ch.Content,
			&ch.ChunkIndex, &ch.FilePageNumber, &metaRaw, &ch.IsGlobal, &ch.CreatedAt, &score); err != nil {
			return nil, nil, err
		}
		_ = json.Unmarshal(metaRaw, &ch.Metadata)
		chunks = append(chunks, ch)
		scores = append(scores, score)
	}
	return chunks, scores, rows.Err()
}

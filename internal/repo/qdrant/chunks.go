package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// ChunkStore implements repo.ChunkRepository by keeping chunk text and
// metadata relational (so FTS and filtering stay SQL-native) while routing
// embeddings and nearest-neighbor search through a Qdrant Index, selected
// by VECTOR_BACKEND=qdrant instead of the default single-table Postgres
// pgvector store.
type ChunkStore struct {
	pool  *pgxpool.Pool
	index *Index
}

// NewChunkStore bootstraps the relational side-table and wraps idx for the
// vector side.
func NewChunkStore(ctx context.Context, pool *pgxpool.Pool, idx *Index) (*ChunkStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			collection_id TEXT,
			content TEXT NOT NULL,
			chunk_index INT NOT NULL DEFAULT 0,
			file_page_number INT NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			is_global BOOLEAN NOT NULL DEFAULT false,
			ts tsvector GENERATED ALWAYS AS (to_tsvector('simple', coalesce(content,''))) STORED,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS content_chunks_ts_idx ON content_chunks USING GIN (ts)`,
		`CREATE INDEX IF NOT EXISTS content_chunks_tenant_idx ON content_chunks(tenant_id, collection_id)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap chunk side-table: %w", err)
		}
	}
	return &ChunkStore{pool: pool, index: idx}, nil
}

var _ repo.ChunkRepository = (*ChunkStore)(nil)

func (c *ChunkStore) UpsertBatch(ctx context.Context, chunks []domain.ContentChunk) error {
	for _, ch := range chunks {
		if ch.ID == "" {
			ch.ID = uuid.NewString()
		}
		metaRaw, err := json.Marshal(ch.Metadata)
		if err != nil {
			return err
		}
		collectionID := any(nil)
		if ch.CollectionID != "" {
			collectionID = ch.CollectionID
		}
		if _, err := c.pool.Exec(ctx, `
INSERT INTO content_chunks(id, source_id, tenant_id, collection_id, content, chunk_index, file_page_number, metadata, is_global)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, chunk_index=EXCLUDED.chunk_index,
  file_page_number=EXCLUDED.file_page_number, metadata=EXCLUDED.metadata, is_global=EXCLUDED.is_global`,
			ch.ID, ch.SourceID, ch.TenantID, collectionID, ch.Content, ch.ChunkIndex, ch.FilePageNumber, metaRaw, ch.IsGlobal); err != nil {
			return err
		}
		if len(ch.Embedding) > 0 {
			payload := map[string]string{
				"tenant_id": ch.TenantID,
				"source_id": ch.SourceID,
			}
			if ch.CollectionID != "" {
				payload["collection_id"] = ch.CollectionID
			}
			if err := c.index.Upsert(ctx, ch.ID, ch.Embedding, payload); err != nil {
				return fmt.Errorf("qdrant upsert chunk %s: %w", ch.ID, err)
			}
		}
	}
	return nil
}

func (c *ChunkStore) DeleteBySource(ctx context.Context, tenantID, sourceID string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM content_chunks WHERE tenant_id=$1 AND source_id=$2`, tenantID, sourceID); err != nil {
		return err
	}
	return c.index.DeleteWhere(ctx, map[string]string{"tenant_id": tenantID, "source_id": sourceID})
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
	return scanSideTableChunks(rows)
}

func (c *ChunkStore) ListBySource(ctx context.Context, tenantID, sourceID string) ([]domain.ContentChunk, error) {
	rows, err := c.pool.Query(ctx, `
SELECT id, source_id, tenant_id, coalesce(collection_id,''), content, chunk_index, file_page_number, metadata, is_global, created_at
FROM content_chunks WHERE tenant_id=$1 AND source_id=$2 ORDER BY chunk_index`, tenantID, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSideTableChunks(rows)
}

func scanSideTableChunks(rows pgx.Rows) ([]domain.ContentChunk, error) {
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

// RetrieveHybrid runs the vector leg against Qdrant and the FTS leg against
// the relational side-table, then fuses both rank streams with the same
// weighted reciprocal-rank-fusion formula the single-table Postgres store
// computes in SQL — here computed in Go since the two legs come from two
// different engines.
func (c *ChunkStore) RetrieveHybrid(ctx context.Context, p repo.HybridSearchParams) ([]domain.ContentChunk, []float64, error) {
	if p.MatchCount <= 0 {
		p.MatchCount = 20
	}
	rrfK := p.RRFK
	if rrfK <= 0 {
		rrfK = 60
	}
	fanOut := p.MatchCount * 4

	vecRank := map[string]int{}
	if len(p.QueryEmbedding) > 0 {
		filter := map[string]string{}
		if !p.IsGlobal {
			filter["tenant_id"] = p.TenantID
		}
		if p.CollectionID != "" {
			filter["collection_id"] = p.CollectionID
		}
		hits, err := c.index.Search(ctx, p.QueryEmbedding, fanOut, filter)
		if err != nil {
			return nil, nil, fmt.Errorf("qdrant search: %w", err)
		}
		for i, h := range hits {
			vecRank[h.ID] = i + 1
		}
	}

	ftsRank := map[string]int{}
	if p.QueryText != "" {
		q := `
SELECT id FROM content_chunks
WHERE (tenant_id = $1 OR is_global = true) AND ts @@ plainto_tsquery('simple', $2)`
		args := []any{p.TenantID, p.QueryText}
		if p.CollectionID != "" {
			q += fmt.Sprintf(" AND collection_id = $%d", len(args)+1)
			args = append(args, p.CollectionID)
		}
		q += fmt.Sprintf(" ORDER BY ts_rank(ts, plainto_tsquery('simple', $2)) DESC LIMIT %s", strconv.Itoa(fanOut))
		rows, err := c.pool.Query(ctx, q, args...)
		if err != nil {
			return nil, nil, err
		}
		i := 0
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, nil, err
			}
			i++
			ftsRank[id] = i
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, nil, err
		}
	}

	type scored struct {
		id    string
		score float64
	}
	seen := map[string]bool{}
	var fused []scored
	for id := range vecRank {
		seen[id] = true
	}
	for id := range ftsRank {
		seen[id] = true
	}
	for id := range seen {
		score := 0.0
		if r, ok := vecRank[id]; ok {
			score += p.VectorWeight * (1.0 / float64(rrfK+r))
		}
		if r, ok := ftsRank[id]; ok {
			score += p.FTSWeight * (1.0 / float64(rrfK+r))
		}
		if score >= p.MatchThreshold {
			fused = append(fused, scored{id: id, score: score})
		}
	}
	for i := 1; i < len(fused); i++ {
		for j := i; j > 0 && fused[j].score > fused[j-1].score; j-- {
			fused[j], fused[j-1] = fused[j-1], fused[j]
		}
	}
	if len(fused) > p.MatchCount {
		fused = fused[:p.MatchCount]
	}
	if len(fused) == 0 {
		return nil, nil, nil
	}
	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.id
	}
	chunks, err := c.FetchByIDs(ctx, p.TenantID, ids)
	if err != nil {
		return nil, nil, err
	}
	byID := map[string]domain.ContentChunk{}
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}
	orderedChunks := make([]domain.ContentChunk, 0, len(fused))
	orderedScores := make([]float64, 0, len(fused))
	for _, f := range fused {
		if ch, ok := byID[f.id]; ok {
			orderedChunks = append(orderedChunks, ch)
			orderedScores = append(orderedScores, f.score)
		}
	}
	return orderedChunks, orderedScores, nil
}

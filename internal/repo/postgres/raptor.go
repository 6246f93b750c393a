package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// RaptorStore persists RegulatoryNode summary rows, one table spanning every
// RAPTOR tree level plus the structural-mode section anchors.
type RaptorStore struct {
	pool *pgxpool.Pool
}

// NewRaptorStore bootstraps the raptor_nodes schema.
func NewRaptorStore(ctx context.Context, pool *pgxpool.Pool, dims int) (*RaptorStore, error) {
	vecType := "vector"
	if dims > 0 {
		vecType = fmt.Sprintf("vector(%d)", dims)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS raptor_nodes (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			collection_id TEXT,
			source_document_id TEXT,
			level INT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			embedding %s,
			children_ids TEXT[] NOT NULL DEFAULT '{}',
			children_summary_ids TEXT[] NOT NULL DEFAULT '{}',
			section_node_id TEXT,
			section_ref TEXT
		)`, vecType),
		`CREATE INDEX IF NOT EXISTS raptor_nodes_tenant_idx ON raptor_nodes(tenant_id, collection_id, level)`,
		`CREATE INDEX IF NOT EXISTS raptor_nodes_source_idx ON raptor_nodes(tenant_id, source_document_id)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap raptor schema: %w", err)
		}
	}
	return &RaptorStore{pool: pool}, nil
}

var _ repo.RaptorRepository = (*RaptorStore)(nil)

func (r *RaptorStore) UpsertNode(ctx context.Context, n domain.RegulatoryNode) (domain.RegulatoryNode, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO raptor_nodes(id, tenant_id, collection_id, source_document_id, level, title, content, embedding,
  children_ids, children_summary_ids, section_node_id, section_ref)
VALUES($1,$2,$3,$4,$5,$6,$7,$8::vector,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET content=EXCLUDED.content, embedding=EXCLUDED.embedding,
  children_ids=EXCLUDED.children_ids, children_summary_ids=EXCLUDED.children_summary_ids`,
		n.ID, n.TenantID, nullIfEmpty(n.CollectionID), nullIfEmpty(n.SourceDocumentID), n.Level, n.Title, n.Content,
		toVectorLiteral(n.Embedding), n.ChildrenIDs, n.ChildrenSummaryIDs, nullIfEmpty(n.SectionNodeID), nullIfEmpty(n.SectionRef))
	if err != nil {
		return domain.RegulatoryNode{}, err
	}
	return n, nil
}

func (r *RaptorStore) MatchSummaries(ctx context.Context, tenantID string, queryVector []float32, k int, collectionID string) ([]domain.RegulatoryNode, []float64, error) {
	if k <= 0 {
		k = 10
	}
	vecLit := toVectorLiteral(queryVector)
	q := `
SELECT id, collection_id, source_document_id, level, title, content, children_ids, children_summary_ids,
       section_node_id, section_ref, 1 - (embedding <=> $1::vector) AS score
FROM raptor_nodes
WHERE tenant_id=$2 AND embedding IS NOT NULL`
	args := []any{vecLit, tenantID}
	if collectionID != "" {
		q += fmt.Sprintf(" AND collection_id = $%d", len(args)+1)
		args = append(args, collectionID)
	}
	q += fmt.Sprintf(" ORDER BY embedding <=> $1::vector LIMIT $%d", len(args)+1)
	args = append(args, k)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var nodes []domain.RegulatoryNode
	var scores []float64
	for rows.Next() {
		var n domain.RegulatoryNode
		var collectionID, sourceDocID, sectionNodeID, sectionRef *string
		var score float64
		if err := rows.Scan(&n.ID, &collectionID, &sourceDocID, &n.Level, &n.Title, &n.Content,
			&n.ChildrenIDs, &n.ChildrenSummaryIDs, &sectionNodeID, &sectionRef, &score); err != nil {
			return nil, nil, err
		}
		n.TenantID = tenantID
		if collectionID != nil {
			n.CollectionID = *collectionID
		}
		if sourceDocID != nil {
			n.SourceDocumentID = *sourceDocID
		}
		if sectionNodeID != nil {
			n.SectionNodeID = *sectionNodeID
		}
		if sectionRef != nil {
			n.SectionRef = *sectionRef
		}
		nodes = append(nodes, n)
		scores = append(scores, score)
	}
	return nodes, scores, rows.Err()
}

// ResolveSummariesToChunkIDs walks down to level-1 nodes (whose children are
// raw chunk ids) for each requested summary, recursing through higher levels.
func (r *RaptorStore) ResolveSummariesToChunkIDs(ctx context.Context, tenantID string, summaryIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, id := range summaryIDs {
		leaves, err := r.resolveOne(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		out[id] = leaves
	}
	return out, nil
}

func (r *RaptorStore) resolveOne(ctx context.Context, tenantID, id string) ([]string, error) {
	var level int
	var children []string
	row := r.pool.QueryRow(ctx, `SELECT level, children_ids FROM raptor_nodes WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err := row.Scan(&level, &children); err != nil {
		if err == pgx.ErrNoRows {
			return []string{id}, nil
		}
		return nil, err
	}
	if level <= 1 {
		return children, nil
	}
	var leaves []string
	for _, childID := range children {
		sub, err := r.resolveOne(ctx, tenantID, childID)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, sub...)
	}
	return leaves, nil
}

func (r *RaptorStore) DeleteForSource(ctx context.Context, tenantID, sourceID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM raptor_nodes WHERE tenant_id=$1 AND source_document_id=$2`, tenantID, sourceID)
	return err
}

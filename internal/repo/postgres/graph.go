package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// GraphStore persists the per-tenant knowledge graph, following the
// teacher's nodes/edges relational layout generalized to typed entities
// and relations with a name-uniqueness upsert.
type GraphStore struct {
	pool *pgxpool.Pool
}

// NewGraphStore bootstraps the graph schema and returns a repo.GraphRepository.
func NewGraphStore(ctx context.Context, pool *pgxpool.Pool) (*GraphStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS knowledge_entities (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			name_lower TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			props JSONB NOT NULL DEFAULT '{}'::jsonb,
			source_document_id TEXT,
			UNIQUE(tenant_id, name_lower)
		)`,
		`CREATE INDEX IF NOT EXISTS knowledge_entities_source_idx ON knowledge_entities(tenant_id, source_document_id)`,
		`CREATE TABLE IF NOT EXISTS knowledge_relations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			props JSONB NOT NULL DEFAULT '{}'::jsonb,
			UNIQUE(source_id, target_id, type)
		)`,
		`CREATE INDEX IF NOT EXISTS knowledge_relations_src_idx ON knowledge_relations(source_id, type)`,
		`CREATE TABLE IF NOT EXISTS knowledge_node_provenance (
			entity_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			PRIMARY KEY (entity_id, chunk_id)
		)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap graph schema: %w", err)
		}
	}
	return &GraphStore{pool: pool}, nil
}

var _ repo.GraphRepository = (*GraphStore)(nil)

func (g *GraphStore) UpsertEntity(ctx context.Context, e domain.KnowledgeEntity) (domain.KnowledgeEntity, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	propsRaw := jsonOf(e.Props)
	row := g.pool.QueryRow(ctx, `
INSERT INTO knowledge_entities(id, tenant_id, name, name_lower, type, props)
VALUES($1,$2,$3,lower($3),$4,$5)
ON CONFLICT (tenant_id, name_lower) DO UPDATE SET props = knowledge_entities.props || EXCLUDED.props
RETURNING id, name, type, props`,
		e.ID, e.TenantID, e.Name, e.Type, propsRaw)
	var out domain.KnowledgeEntity
	var gotProps []byte
	if err := row.Scan(&out.ID, &out.Name, &out.Type, &gotProps); err != nil {
		return domain.KnowledgeEntity{}, err
	}
	out.TenantID = e.TenantID
	_ = json.Unmarshal(gotProps, &out.Props)
	return out, nil
}

func (g *GraphStore) UpsertRelation(ctx context.Context, r domain.KnowledgeRelation) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := g.pool.Exec(ctx, `
INSERT INTO knowledge_relations(id, tenant_id, source_id, target_id, type, props)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (source_id, target_id, type) DO NOTHING`,
		r.ID, r.TenantID, r.SourceID, r.TargetID, r.Type, jsonOf(r.Props))
	return err
}

func (g *GraphStore) LinkProvenance(ctx context.Context, p domain.KnowledgeNodeProvenance) error {
	_, err := g.pool.Exec(ctx, `
INSERT INTO knowledge_node_provenance(entity_id, chunk_id, tenant_id) VALUES($1,$2,$3)
ON CONFLICT DO NOTHING`, p.EntityID, p.ChunkID, p.TenantID)
	return err
}

// SearchMultiHop seeds from type-matching entities and walks outward hop by
// hop, issuing one relations query per hop and decaying similarity the same
// way the in-memory implementation does: no per-entity embedding is stored,
// so the seed score is a constant 1.0 and only the decay curve varies.
func (g *GraphStore) SearchMultiHop(ctx context.Context, tenantID string, _ []float32, threshold float64, limit, maxHops int, decayFactor float64, entityTypes, relationTypes []string) ([]repo.GraphHit, error) {
	seedQuery := `SELECT id, name FROM knowledge_entities WHERE tenant_id=$1`
	args := []any{tenantID}
	if len(entityTypes) > 0 {
		seedQuery += fmt.Sprintf(" AND type = ANY($%d)", len(args)+1)
		args = append(args, entityTypes)
	}
	rows, err := g.pool.Query(ctx, seedQuery, args...)
	if err != nil {
		return nil, err
	}
	type frontierItem struct {
		id, name string
		sim      float64
		hop      int
	}
	var frontier []frontierItem
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return nil, err
		}
		frontier = append(frontier, frontierItem{id: id, name: name, sim: 1.0, hop: 0})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	visited := map[string]bool{}
	var hits []repo.GraphHit
	for hop := 0; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []frontierItem
		for _, f := range frontier {
			if visited[f.id] {
				continue
			}
			visited[f.id] = true
			sim := f.sim
			for i := 0; i < hop; i++ {
				sim *= decayFactor
			}
			if sim < threshold {
				continue
			}
			reasoning := ""
			if hop > 0 {
				reasoning = fmt.Sprintf("hop-%d", hop)
			}
			hits = append(hits, repo.GraphHit{EntityID: f.id, Name: f.name, Similarity: sim, Hops: hop, Reasoning: reasoning})

			relQuery := `SELECT r.target_id, e.name FROM knowledge_relations r
JOIN knowledge_entities e ON e.id = r.target_id
WHERE r.source_id=$1`
			relArgs := []any{f.id}
			if len(relationTypes) > 0 {
				relQuery += fmt.Sprintf(" AND r.type = ANY($%d)", len(relArgs)+1)
				relArgs = append(relArgs, relationTypes)
			}
			relRows, err := g.pool.Query(ctx, relQuery, relArgs...)
			if err != nil {
				return nil, err
			}
			for relRows.Next() {
				var tid, tname string
				if err := relRows.Scan(&tid, &tname); err != nil {
					relRows.Close()
					return nil, err
				}
				if !visited[tid] {
					next = append(next, frontierItem{id: tid, name: tname, sim: sim})
				}
			}
			relRows.Close()
			if err := relRows.Err(); err != nil {
				return nil, err
			}
		}
		frontier = next
	}

	if limit > 0 && len(hits) > limit {
		// higher similarity first
		for i := 1; i < len(hits); i++ {
			for j := i; j > 0 && hits[j].Similarity > hits[j-1].Similarity; j-- {
				hits[j], hits[j-1] = hits[j-1], hits[j]
			}
		}
		hits = hits[:limit]
	}
	return hits, nil
}

func (g *GraphStore) ResolveNodeToChunkIDs(ctx context.Context, tenantID string, entityIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	if len(entityIDs) == 0 {
		return out, nil
	}
	rows, err := g.pool.Query(ctx, `
SELECT entity_id, chunk_id FROM knowledge_node_provenance
WHERE tenant_id=$1 AND entity_id = ANY($2)`, tenantID, entityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var eid, cid string
		if err := rows.Scan(&eid, &cid); err != nil {
			return nil, err
		}
		out[eid] = append(out[eid], cid)
	}
	return out, rows.Err()
}

func (g *GraphStore) DeleteForSource(ctx context.Context, tenantID, sourceID string) error {
	rows, err := g.pool.Query(ctx, `SELECT id FROM knowledge_entities WHERE tenant_id=$1 AND source_document_id=$2`, tenantID, sourceID)
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if _, err := g.pool.Exec(ctx, `DELETE FROM knowledge_relations WHERE source_id = ANY($1) OR target_id = ANY($1)`, ids); err != nil {
		return err
	}
	if _, err := g.pool.Exec(ctx, `DELETE FROM knowledge_node_provenance WHERE entity_id = ANY($1)`, ids); err != nil {
		return err
	}
	_, err = g.pool.Exec(ctx, `DELETE FROM knowledge_entities WHERE tenant_id=$1 AND source_document_id=$2`, tenantID, sourceID)
	return err
}

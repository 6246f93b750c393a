package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// SourceStore persists Collection, SourceDocument, IngestionBatch and
// IngestionEvent rows, per the relational layout implied by §3.
type SourceStore struct {
	pool *pgxpool.Pool
}

// NewSourceStore bootstraps the relational tables and returns a
// repo.SourceRepository backed by pool.
func NewSourceStore(ctx context.Context, pool *pgxpool.Pool) (*SourceStore, error) {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			key TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			UNIQUE(tenant_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS source_documents (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			collection_id TEXT,
			filename TEXT NOT NULL,
			storage_path TEXT NOT NULL,
			storage_bucket TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			authority_level TEXT NOT NULL DEFAULT 'supplementary',
			retry_count INT NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS source_documents_tenant_idx ON source_documents(tenant_id, status)`,
		`CREATE TABLE IF NOT EXISTS ingestion_batches (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			collection_id TEXT,
			total_files INT NOT NULL DEFAULT 0,
			completed INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			auto_seal BOOLEAN NOT NULL DEFAULT false,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_events (
			id TEXT PRIMARY KEY,
			source_document_id TEXT NOT NULL,
			message TEXT NOT NULL,
			status TEXT NOT NULL,
			phase_metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ingestion_events_doc_idx ON ingestion_events(source_document_id, created_at)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return nil, fmt.Errorf("bootstrap source schema: %w", err)
		}
	}
	return &SourceStore{pool: pool}, nil
}

var _ repo.SourceRepository = (*SourceStore)(nil)

func jsonOf(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return []byte("{}")
	}
	return b
}

func (s *SourceStore) EnsureCollection(ctx context.Context, tenantID, key, name string) (domain.Collection, error) {
	id := uuid.NewString()
	row := s.pool.QueryRow(ctx, `
INSERT INTO collections(id, tenant_id, key, name, status) VALUES($1,$2,$3,$4,'open')
ON CONFLICT (tenant_id, key) DO UPDATE SET name = collections.name
RETURNING id, status`, id, tenantID, key, name)
	var gotID, status string
	if err := row.Scan(&gotID, &status); err != nil {
		return domain.Collection{}, err
	}
	return domain.Collection{ID: gotID, TenantID: tenantID, Key: key, Name: name, Status: domain.CollectionStatus(status)}, nil
}

func (s *SourceStore) GetCollection(ctx context.Context, tenantID, collectionID string) (domain.Collection, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, key, name, status FROM collections WHERE id=$1 AND tenant_id=$2`, collectionID, tenantID)
	var c domain.Collection
	var status string
	if err := row.Scan(&c.ID, &c.Key, &c.Name, &status); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Collection{}, false, nil
		}
		return domain.Collection{}, false, err
	}
	c.TenantID = tenantID
	c.Status = domain.CollectionStatus(status)
	return c, true, nil
}

func (s *SourceStore) SealCollection(ctx context.Context, tenantID, collectionID string, sealed bool) error {
	status := "open"
	if sealed {
		status = "sealed"
	}
	tag, err := s.pool.Exec(ctx, `UPDATE collections SET status=$1 WHERE id=$2 AND tenant_id=$3`, status, collectionID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCollectionNotFound
	}
	return nil
}

func (s *SourceStore) DeleteCollection(ctx context.Context, tenantID, collectionID string) error {
	const batchSize = 100
	for {
		tag, err := s.pool.Exec(ctx, `
DELETE FROM source_documents WHERE id IN (
  SELECT id FROM source_documents WHERE tenant_id=$1 AND collection_id=$2 LIMIT $3
)`, tenantID, collectionID, batchSize)
		if err != nil {
			return err
		}
		if tag.RowsAffected() < batchSize {
			break
		}
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM ingestion_batches WHERE tenant_id=$1 AND collection_id=$2`, tenantID, collectionID); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE tenant_id=$1 AND id=$2`, tenantID, collectionID)
	return err
}

func (s *SourceStore) CreateDocument(ctx context.Context, doc domain.SourceDocument) (domain.SourceDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO source_documents(id, tenant_id, collection_id, filename, storage_path, storage_bucket, status, metadata, authority_level)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING created_at, updated_at`,
		doc.ID, doc.TenantID, nullIfEmpty(doc.CollectionID), doc.Filename, doc.StoragePath, doc.StorageBucket,
		string(doc.Status), jsonOf(doc.Metadata), string(doc.AuthorityLevel))
	if err := row.Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return domain.SourceDocument{}, err
	}
	return doc, nil
}

func (s *SourceStore) GetDocument(ctx context.Context, tenantID, docID string) (domain.SourceDocument, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, tenant_id, coalesce(collection_id,''), filename, storage_path, storage_bucket, status, metadata,
       authority_level, retry_count, coalesce(error_message,''), created_at, updated_at
FROM source_documents WHERE id=$1 AND tenant_id=$2`, docID, tenantID)
	var d domain.SourceDocument
	var status, authority string
	var metaRaw []byte
	if err := row.Scan(&d.ID, &d.TenantID, &d.CollectionID, &d.Filename, &d.StoragePath, &d.StorageBucket,
		&status, &metaRaw, &authority, &d.RetryCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.SourceDocument{}, false, nil
		}
		return domain.SourceDocument{}, false, err
	}
	d.Status = domain.IngestionStatus(status)
	d.AuthorityLevel = domain.AuthorityLevel(authority)
	_ = json.Unmarshal(metaRaw, &d.Metadata)
	return d, true, nil
}

func (s *SourceStore) ListDocuments(ctx context.Context, tenantID, collectionID string) ([]domain.SourceDocument, error) {
	q := `SELECT id, tenant_id, coalesce(collection_id,''), filename, storage_path, storage_bucket, status, metadata,
	       authority_level, retry_count, coalesce(error_message,''), created_at, updated_at
	FROM source_documents WHERE tenant_id=$1`
	args := []any{tenantID}
	if collectionID != "" {
		q += ` AND collection_id=$2`
		args = append(args, collectionID)
	}
	q += ` ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.SourceDocument
	for rows.Next() {
		var d domain.SourceDocument
		var status, authority string
		var metaRaw []byte
		if err := rows.Scan(&d.ID, &d.TenantID, &d.CollectionID, &d.Filename, &d.StoragePath, &d.StorageBucket,
			&status, &metaRaw, &authority, &d.RetryCount, &d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Status = domain.IngestionStatus(status)
		d.AuthorityLevel = domain.AuthorityLevel(authority)
		_ = json.Unmarshal(metaRaw, &d.Metadata)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SourceStore) UpdateDocumentStatus(ctx context.Context, tenantID, docID string, status domain.IngestionStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE source_documents SET status=$1, error_message=nullif($2,''), updated_at=now()
WHERE id=$3 AND tenant_id=$4`, string(status), errMsg, docID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (s *SourceStore) IncrementRetry(ctx context.Context, tenantID, docID string) (int, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE source_documents SET retry_count = retry_count + 1, updated_at = now()
WHERE id=$1 AND tenant_id=$2 RETURNING retry_count`, docID, tenantID)
	var n int
	if err := row.Scan(&n); err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.ErrDocumentNotFound
		}
		return 0, err
	}
	return n, nil
}

func (s *SourceStore) DeleteDocument(ctx context.Context, tenantID, docID string, purgeChunks bool) error {
	if purgeChunks {
		if _, err := s.pool.Exec(ctx, `DELETE FROM ingestion_events WHERE source_document_id=$1`, docID); err != nil {
			return err
		}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM source_documents WHERE id=$1 AND tenant_id=$2`, docID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (s *SourceStore) CountPending(ctx context.Context, tenantID string) (int, error) {
	row := s.pool.QueryRow(ctx, `
SELECT count(*) FROM source_documents
WHERE tenant_id=$1 AND status IN ('pending_ingestion','queued','processing')`, tenantID)
	var n int
	err := row.Scan(&n)
	return n, err
}

func (s *SourceStore) CreateBatch(ctx context.Context, batch domain.IngestionBatch) (domain.IngestionBatch, error) {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = domain.BatchPending
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO ingestion_batches(id, tenant_id, collection_id, total_files, status, auto_seal, metadata)
VALUES($1,$2,$3,$4,$5,$6,$7)
RETURNING created_at, updated_at`,
		batch.ID, batch.TenantID, nullIfEmpty(batch.CollectionID), batch.TotalFiles, string(batch.Status), batch.AutoSeal, jsonOf(batch.Metadata))
	if err := row.Scan(&batch.CreatedAt, &batch.UpdatedAt); err != nil {
		return domain.IngestionBatch{}, err
	}
	return batch, nil
}

func (s *SourceStore) GetBatch(ctx context.Context, tenantID, batchID string) (domain.IngestionBatch, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, tenant_id, coalesce(collection_id,''), total_files, completed, failed, status, auto_seal, metadata, created_at, updated_at
FROM ingestion_batches WHERE id=$1 AND tenant_id=$2`, batchID, tenantID)
	var b domain.IngestionBatch
	var status string
	var metaRaw []byte
	if err := row.Scan(&b.ID, &b.TenantID, &b.CollectionID, &b.TotalFiles, &b.Completed, &b.Failed, &status, &b.AutoSeal, &metaRaw, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.IngestionBatch{}, false, nil
		}
		return domain.IngestionBatch{}, false, err
	}
	b.Status = domain.BatchStatus(status)
	_ = json.Unmarshal(metaRaw, &b.Metadata)
	return b, true, nil
}

// IncrementBatchCounters applies deltas and enforces the monotonic terminal
// status invariant with a single statement: the WHERE clause refuses to
// touch a row whose status is already terminal.
func (s *SourceStore) IncrementBatchCounters(ctx context.Context, tenantID, batchID string, completedDelta, failedDelta int) (domain.IngestionBatch, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE ingestion_batches SET
  completed = completed + $1,
  failed = failed + $2,
  updated_at = now(),
  status = CASE
    WHEN status IN ('completed','partial','failed') THEN status
    WHEN (completed + $1 + failed + $2) < total_files THEN 'processing'
    WHEN (failed + $2) = 0 THEN 'completed'
    WHEN (completed + $1) = 0 THEN 'failed'
    ELSE 'partial'
  END
WHERE id=$3 AND tenant_id=$4
RETURNING id, tenant_id, coalesce(collection_id,''), total_files, completed, failed, status, auto_seal, metadata, created_at, updated_at`,
		completedDelta, failedDelta, batchID, tenantID)
	var b domain.IngestionBatch
	var status string
	var metaRaw []byte
	if err := row.Scan(&b.ID, &b.TenantID, &b.CollectionID, &b.TotalFiles, &b.Completed, &b.Failed, &status, &b.AutoSeal, &metaRaw, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.IngestionBatch{}, domain.ErrBatchNotFound
		}
		return domain.IngestionBatch{}, err
	}
	b.Status = domain.BatchStatus(status)
	_ = json.Unmarshal(metaRaw, &b.Metadata)
	return b, nil
}

func (s *SourceStore) SealBatch(ctx context.Context, tenantID, batchID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE ingestion_batches SET auto_seal=true, updated_at=now() WHERE id=$1 AND tenant_id=$2`, batchID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBatchNotFound
	}
	return nil
}

func (s *SourceStore) AppendEvent(ctx context.Context, ev domain.IngestionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO ingestion_events(id, source_document_id, message, status, phase_metadata)
VALUES($1,$2,$3,$4,$5)`, ev.ID, ev.SourceDocumentID, ev.Message, string(ev.Status), jsonOf(ev.PhaseMetadata))
	return err
}

func (s *SourceStore) ListEventsSince(ctx context.Context, _, docID, cursor string, limit int) ([]domain.IngestionEvent, string, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows pgx.Rows
	var err error
	if cursor == "" {
		rows, err = s.pool.Query(ctx, `
SELECT id, source_document_id, message, status, phase_metadata, created_at
FROM ingestion_events WHERE source_document_id=$1 ORDER BY created_at, id LIMIT $2`, docID, limit)
	} else {
		createdAt, id, perr := parseEventCursor(cursor)
		if perr != nil {
			return nil, cursor, perr
		}
		rows, err = s.pool.Query(ctx, `
SELECT id, source_document_id, message, status, phase_metadata, created_at
FROM ingestion_events
WHERE source_document_id=$1 AND (created_at, id) > ($2, $3)
ORDER BY created_at, id LIMIT $4`, docID, createdAt, id, limit)
	}
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()
	var out []domain.IngestionEvent
	for rows.Next() {
		var e domain.IngestionEvent
		var status string
		var metaRaw []byte
		if err := rows.Scan(&e.ID, &e.SourceDocumentID, &e.Message, &status, &metaRaw, &e.CreatedAt); err != nil {
			return nil, cursor, err
		}
		e.Status = domain.EventKind(status)
		_ = json.Unmarshal(metaRaw, &e.PhaseMetadata)
		out = append(out, e)
	}
	next := cursor
	if len(out) > 0 {
		last := out[len(out)-1]
		next = fmt.Sprintf("%s|%s", last.CreatedAt.Format(time.RFC3339Nano), last.ID)
	}
	return out, next, rows.Err()
}

func parseEventCursor(cursor string) (time.Time, string, error) {
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor %q", cursor)
	}
	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return t, parts[1], nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

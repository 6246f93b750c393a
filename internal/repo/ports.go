// Package repo defines the repository ports named in §3/§4.3 — the only
// seam between the core pipelines and durable storage — plus their
// in-memory and Postgres/Qdrant implementations.
package repo

import (
	"context"
	"time"

	"atomicrag/internal/domain"
)

// HybridSearchParams is the input to the hybrid retrieval primitive
// (§4.7 step 2); its algorithm is an external contract (§9 open question).
type HybridSearchParams struct {
	TenantID        string
	QueryEmbedding  []float32
	QueryText       string
	MatchThreshold  float64
	MatchCount      int
	RRFK            int
	VectorWeight    float64
	FTSWeight       float64
	IsGlobal        bool
	CollectionID    string
	SourceStandards []string
	HNSWEfSearch    int
}

// ChunkRepository persists and queries ContentChunk rows.
type ChunkRepository interface {
	UpsertBatch(ctx context.Context, chunks []domain.ContentChunk) error
	DeleteBySource(ctx context.Context, tenantID, sourceID string) error
	FetchByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.ContentChunk, error)
	// ListBySource returns every chunk produced from one document, in chunk
	// order, for the enrichment pipeline's graph-extraction and RAPTOR
	// summarization passes (§4.5).
	ListBySource(ctx context.Context, tenantID, sourceID string) ([]domain.ContentChunk, error)
	// RetrieveHybrid runs the blended cosine+FTS primitive with per-source RRF.
	RetrieveHybrid(ctx context.Context, p HybridSearchParams) ([]domain.ContentChunk, []float64, error)
}

// SourceRepository persists Collection, SourceDocument, IngestionBatch and
// IngestionEvent rows.
type SourceRepository interface {
	EnsureCollection(ctx context.Context, tenantID, key, name string) (domain.Collection, error)
	GetCollection(ctx context.Context, tenantID, collectionID string) (domain.Collection, bool, error)
	SealCollection(ctx context.Context, tenantID, collectionID string, sealed bool) error
	DeleteCollection(ctx context.Context, tenantID, collectionID string) error

	CreateDocument(ctx context.Context, doc domain.SourceDocument) (domain.SourceDocument, error)
	GetDocument(ctx context.Context, tenantID, docID string) (domain.SourceDocument, bool, error)
	ListDocuments(ctx context.Context, tenantID, collectionID string) ([]domain.SourceDocument, error)
	UpdateDocumentStatus(ctx context.Context, tenantID, docID string, status domain.IngestionStatus, errMsg string) error
	IncrementRetry(ctx context.Context, tenantID, docID string) (int, error)
	DeleteDocument(ctx context.Context, tenantID, docID string, purgeChunks bool) error
	CountPending(ctx context.Context, tenantID string) (int, error)

	CreateBatch(ctx context.Context, batch domain.IngestionBatch) (domain.IngestionBatch, error)
	GetBatch(ctx context.Context, tenantID, batchID string) (domain.IngestionBatch, bool, error)
	IncrementBatchCounters(ctx context.Context, tenantID, batchID string, completedDelta, failedDelta int) (domain.IngestionBatch, error)
	SealBatch(ctx context.Context, tenantID, batchID string) error

	AppendEvent(ctx context.Context, ev domain.IngestionEvent) error
	ListEventsSince(ctx context.Context, tenantID, docID, cursor string, limit int) ([]domain.IngestionEvent, string, error)
}

// GraphRepository persists and queries the per-tenant knowledge graph.
type GraphRepository interface {
	UpsertEntity(ctx context.Context, e domain.KnowledgeEntity) (domain.KnowledgeEntity, error)
	UpsertRelation(ctx context.Context, r domain.KnowledgeRelation) error
	LinkProvenance(ctx context.Context, p domain.KnowledgeNodeProvenance) error
	// SearchMultiHop navigates the entity graph from an embedding seed.
	SearchMultiHop(ctx context.Context, tenantID string, queryVector []float32, threshold float64, limit, maxHops int, decayFactor float64, entityTypes, relationTypes []string) ([]GraphHit, error)
	// ResolveNodeToChunkIDs is the late-grounding bridge (§4.7 step 4).
	ResolveNodeToChunkIDs(ctx context.Context, tenantID string, entityIDs []string) (map[string][]string, error)
	DeleteForSource(ctx context.Context, tenantID, sourceID string) error
}

// GraphHit is one entity reached during multi-hop graph navigation.
type GraphHit struct {
	EntityID   string
	Name       string
	Similarity float64
	Hops       int
	Reasoning  string
}

// RaptorRepository persists and queries RegulatoryNode summary rows.
type RaptorRepository interface {
	UpsertNode(ctx context.Context, n domain.RegulatoryNode) (domain.RegulatoryNode, error)
	MatchSummaries(ctx context.Context, tenantID string, queryVector []float32, k int, collectionID string) ([]domain.RegulatoryNode, []float64, error)
	ResolveSummariesToChunkIDs(ctx context.Context, tenantID string, summaryIDs []string) (map[string][]string, error)
	DeleteForSource(ctx context.Context, tenantID, sourceID string) error
}

// CommunityRepository persists and queries KnowledgeCommunity rows.
type CommunityRepository interface {
	ReplaceCommunities(ctx context.Context, tenantID string, communities []domain.KnowledgeCommunity) error
	MatchByVector(ctx context.Context, tenantID string, vector []float32, k int) ([]domain.KnowledgeCommunity, error)
}

// JobQueueRepository implements the lease protocol described in §4.3.
type JobQueueRepository interface {
	Enqueue(ctx context.Context, job domain.JobQueueRow) (domain.JobQueueRow, error)
	// FetchNext atomically claims one pending row of jobType via a
	// compare-and-set UPDATE ... WHERE status='pending' ... RETURNING.
	FetchNext(ctx context.Context, jobType domain.JobType, workerID string, lease time.Duration) (domain.JobQueueRow, bool, error)
	RenewLease(ctx context.Context, jobID, workerID string, lease time.Duration) error
	RequeueStale(ctx context.Context, jobType domain.JobType) (int, error)
	MarkFinal(ctx context.Context, jobID string, status domain.JobStatus, result map[string]any, errMsg string) error
	IncrementRetry(ctx context.Context, jobID string) (int, error)
	// HasPendingOrProcessingFor dedups deferred-enrichment enqueue requests.
	HasPendingOrProcessingFor(ctx context.Context, tenantID string, jobType domain.JobType, payloadKey, payloadValue string) (bool, error)
}

// IdempotencyRepository backs the Idempotency-Key HTTP contract (§6, §12).
type IdempotencyRepository interface {
	Get(ctx context.Context, key string) (domain.IdempotencyEntry, bool, error)
	Put(ctx context.Context, entry domain.IdempotencyEntry, ttl time.Duration) error
}

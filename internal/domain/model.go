// Package domain holds the tenant-scoped entity model shared by every
// component of the ingestion and retrieval pipelines.
package domain

import "time"

// Collection bundles documents inside a tenant under a unique slug.
type Collection struct {
	ID       string
	TenantID string
	Key      string
	Name     string
	Status   CollectionStatus
}

// EmbeddingProfile records which provider/model/dimension produced a vector,
// so chunks embedded under different profiles are never compared directly.
type EmbeddingProfile struct {
	Provider string
	Model    string
	Dims     int
}

// SourceDocument is an uploaded file moving through the ingestion state machine.
type SourceDocument struct {
	ID             string
	TenantID       string
	CollectionID   string
	Filename       string
	StoragePath    string
	StorageBucket  string
	Status         IngestionStatus
	Metadata       map[string]any
	AuthorityLevel AuthorityLevel
	CreatedAt      time.Time
	UpdatedAt      time.Time
	RetryCount     int
	ErrorMessage   string
}

// IngestionBatch tracks a multi-file upload's progress.
type IngestionBatch struct {
	ID           string
	TenantID     string
	CollectionID string
	TotalFiles   int
	Completed    int
	Failed       int
	Status       BatchStatus
	AutoSeal     bool
	Metadata     map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Terminal reports whether every file in the batch has reached a final state.
func (b IngestionBatch) Terminal() bool {
	return b.Completed+b.Failed >= b.TotalFiles
}

// IngestionEvent is an append-only log row used as the progress stream cursor.
type IngestionEvent struct {
	ID               string
	SourceDocumentID string
	Message          string
	Status           EventKind
	PhaseMetadata    map[string]any
	CreatedAt        time.Time
}

// ChunkMetadata carries the structural and provenance attributes attached to
// every ContentChunk.
type ChunkMetadata struct {
	HeadingPath       []string
	ChunkRole         ChunkRole
	RetrievalEligible bool
	SourceStandard    string
	ClauseID          string
	AuthorityLevel    AuthorityLevel
	EmbeddingProfile  EmbeddingProfile
	HeadingBoost      float64
}

// ContentChunk is a retrievable text window with an optional embedding.
type ContentChunk struct {
	ID             string
	SourceID       string
	TenantID       string
	CollectionID   string
	Content        string
	Embedding      []float32
	ChunkIndex     int
	FilePageNumber int
	Metadata       ChunkMetadata
	IsGlobal       bool
	CreatedAt      time.Time
}

// KnowledgeEntity is a node in the per-tenant knowledge graph.
type KnowledgeEntity struct {
	ID       string
	TenantID string
	Name     string
	Type     string
	Props    map[string]any
}

// KnowledgeRelation is a directed, typed edge between two entities.
type KnowledgeRelation struct {
	ID       string
	TenantID string
	SourceID string
	TargetID string
	Type     string
	Props    map[string]any
}

// KnowledgeNodeProvenance links a graph entity back to the chunk it was
// extracted from; it is the sole bridge from symbolic graph to real text.
type KnowledgeNodeProvenance struct {
	EntityID string
	ChunkID  string
	TenantID string
}

// RegulatoryNode is a RAPTOR summary node at level >= 1.
type RegulatoryNode struct {
	ID                string
	TenantID          string
	CollectionID      string
	SourceDocumentID  string
	Level             int
	Title             string
	Content           string
	Embedding         []float32
	ChildrenIDs       []string
	ChildrenSummaryIDs []string
	SectionNodeID     string
	SectionRef        string
}

// KnowledgeCommunity is a community-detection cluster over graph entities.
type KnowledgeCommunity struct {
	ID        string
	TenantID  string
	Summary   string
	Embedding []float32
	MemberIDs []string
}

// JobQueueRow is a single row of the durable job queue table.
type JobQueueRow struct {
	ID              string
	TenantID        string
	JobType         JobType
	Status          JobStatus
	Payload         map[string]any
	Result          map[string]any
	ErrorMessage    string
	LeaseHolder     string
	LeaseExpiresAt  time.Time
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IdempotencyEntry caches a mutation's response for TTL-bounded replay.
type IdempotencyEntry struct {
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

package domain

// AuthorityLevel ranks the trust weight of a source document. Order matters:
// constitution > policy > canonical > supplementary; hard_constraint and
// soft_knowledge are explicit overrides rather than positions in that chain.
type AuthorityLevel string

const (
	AuthorityConstitution  AuthorityLevel = "constitution"
	AuthorityPolicy        AuthorityLevel = "policy"
	AuthorityCanonical     AuthorityLevel = "canonical"
	AuthoritySupplementary AuthorityLevel = "supplementary"
	AuthorityAdministrative AuthorityLevel = "administrative"
	AuthorityHardConstraint AuthorityLevel = "hard_constraint"
	AuthoritySoftKnowledge  AuthorityLevel = "soft_knowledge"
)

// gravityWeight preserves the reference ordering from the design notes:
// constitution > policy > canonical > supplementary, with hard_constraint
// and soft_knowledge as override tiers above/below the chain.
var gravityWeight = map[AuthorityLevel]float64{
	AuthorityHardConstraint: 1.30,
	AuthorityConstitution:   1.20,
	AuthorityPolicy:         1.10,
	AuthorityCanonical:      1.00,
	AuthorityAdministrative: 0.95,
	AuthoritySupplementary:  0.85,
	AuthoritySoftKnowledge:  0.70,
}

// Weight returns the Gravity rerank authority multiplier for a level,
// defaulting to the canonical weight for unrecognized or empty values.
func (a AuthorityLevel) Weight() float64 {
	if w, ok := gravityWeight[a]; ok {
		return w
	}
	return gravityWeight[AuthorityCanonical]
}

// CollectionStatus is the lifecycle state of a Collection.
type CollectionStatus string

const (
	CollectionOpen   CollectionStatus = "open"
	CollectionSealed CollectionStatus = "sealed"
)

// IngestionStatus is the SourceDocument state machine (§4.4).
type IngestionStatus string

const (
	StatusPendingIngestion IngestionStatus = "pending_ingestion"
	StatusQueued           IngestionStatus = "queued"
	StatusProcessing       IngestionStatus = "processing"
	StatusProcessed        IngestionStatus = "processed"
	StatusFailed           IngestionStatus = "failed"
	StatusDeadLetter       IngestionStatus = "dead_letter"
	StatusEmptyFile        IngestionStatus = "empty_file"
)

// BatchStatus is the terminal/non-terminal state of an IngestionBatch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchPartial    BatchStatus = "partial"
	BatchFailed     BatchStatus = "failed"
)

// IsTerminal reports whether a batch status is one of the monotonic end states.
func (b BatchStatus) IsTerminal() bool {
	switch b {
	case BatchCompleted, BatchPartial, BatchFailed:
		return true
	default:
		return false
	}
}

// EventKind classifies an IngestionEvent row.
type EventKind string

const (
	EventInfo    EventKind = "INFO"
	EventSuccess EventKind = "SUCCESS"
	EventWarning EventKind = "WARNING"
	EventError   EventKind = "ERROR"
)

// ChunkRole marks the structural role of a ContentChunk; only NormativeBody
// chunks are retrieval-eligible.
type ChunkRole string

const (
	ChunkRoleTOC           ChunkRole = "toc"
	ChunkRoleFrontmatter   ChunkRole = "frontmatter"
	ChunkRoleNormativeBody ChunkRole = "normative_body"
)

// JobType names a row in the job queue table.
type JobType string

const (
	JobIngestDocument   JobType = "ingest_document"
	JobEnrichDocument   JobType = "enrich_document"
	JobCommunityRebuild JobType = "community_rebuild"
)

// JobStatus is the lease-protocol state of a JobQueueRow.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// FusionSource tags which evidence stream a retrieved row came from.
type FusionSource string

const (
	SourceChunks FusionSource = "chunks"
	SourceGraph  FusionSource = "graph"
	SourceRaptor FusionSource = "raptor"
)

// SourceLayer further distinguishes how a row was grounded.
type SourceLayer string

const (
	LayerHybrid                  SourceLayer = "hybrid"
	LayerGraphGrounded            SourceLayer = "graph_grounded"
	LayerKnowledgeEntityUngrounded SourceLayer = "knowledge_entity_ungrounded"
	LayerRaptor                   SourceLayer = "raptor"
)

// ScoreSpace names the scoring regime a result's final score lives in.
type ScoreSpace string

const (
	ScoreSpaceGravity   ScoreSpace = "gravity"
	ScoreSpaceSemantic  ScoreSpace = "semantic_relevance"
)

// RerankMode selects the external semantic reranker, composed atop Gravity.
type RerankMode string

const (
	RerankLocal  RerankMode = "local"
	RerankJina   RerankMode = "jina"
	RerankCohere RerankMode = "cohere"
	RerankHybrid RerankMode = "hybrid"
)

// ExecutionMode is how a QueryPlan's sub-queries are run.
type ExecutionMode string

const (
	ExecParallel   ExecutionMode = "parallel"
	ExecSequential ExecutionMode = "sequential"
)

// StrategyKey selects an ingestion pipeline variant (§4.4 step 3).
type StrategyKey string

const (
	StrategyContent       StrategyKey = "CONTENT"
	StrategyFastContent   StrategyKey = "FAST_CONTENT"
	StrategyPreProcessed  StrategyKey = "PRE_PROCESSED"
	StrategyRubric        StrategyKey = "RUBRIC"
)

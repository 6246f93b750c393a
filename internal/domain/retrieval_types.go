package domain

import "time"

// TimeRangeFilter scopes a query to rows created or updated in a window.
type TimeRangeFilter struct {
	Field string // "created_at" | "updated_at"
	From  time.Time
	To    time.Time
}

// ScopeFilter is the normalized form of a client-supplied retrieval filter
// (§4.1). SourceStandards is always the canonical plural form; the
// normalizer collapses a singular source_standard into it.
type ScopeFilter struct {
	Metadata        map[string]string
	TimeRange       *TimeRangeFilter
	SourceStandards []string
	CollectionID    string
}

// RetrieveRequest is the common shape behind /retrieval/hybrid,
// /retrieval/multi-query and /retrieval/explain.
type RetrieveRequest struct {
	TenantID       string
	Query          string
	SubQueries     []string
	K              int
	Filter         ScopeFilter
	SkipPlanner    bool
	SkipExternalRerank bool
	AgentRole      string
	TaskType       string
}

// RetrievedItem is a single fused, reranked result row.
type RetrievedItem struct {
	ID              string
	Content         string
	Score           float64
	ScoreSpace      ScoreSpace
	Source          FusionSource
	SourceLayer     SourceLayer
	TenantID        string
	SourceID        string
	CollectionID    string
	HeadingPath     []string
	AuthorityLevel  AuthorityLevel
	SourceStandard  string
	ClauseID        string
	ScopePenalized  bool
	GraphReasoning  string
	Metadata        map[string]any
}

// HybridTrace is returned alongside run_hybrid results.
type HybridTrace struct {
	FiltersApplied        map[string]any
	EngineMode            string
	PlannerUsed           bool
	PlannerMultihop       bool
	FallbackUsed          bool
	TimingsMs             map[string]float64
	Warnings              []string
	WarningCodes          []string
	ScopePenalizedCount    int
	ScopePenalizedCandidate int
	ScopePenalizedRatio    float64
	ScoreSpace             ScoreSpace
	RPCContractStatus      string
}

// SubQueryStatus reports the fate of one branch of a multi-query request.
type SubQueryStatus struct {
	ID       string
	Status   string // "ok" | "SUBQUERY_TIMEOUT" | "SUBQUERY_OUT_OF_SCOPE"
	Count    int
}

// MultiQueryTrace is returned alongside run_multi_query results.
type MultiQueryTrace struct {
	SubQueries  []SubQueryStatus
	FailedCount int
	RRFK        int
}

// ScoreComponents decorates a single item for run_explain.
type ScoreComponents struct {
	BaseSimilarity      float64
	JinaRelevanceScore  *float64
	FinalScore          float64
	ScopePenalized      bool
	ScopePenaltyRatio   *float64
}

// RetrievalPath further decorates run_explain items.
type RetrievalPath struct {
	SourceLayer SourceLayer
	SourceType  FusionSource
}

// MatchedFilters reports which scope filters actually matched for an item.
type MatchedFilters struct {
	CollectionIDMatch  bool
	TimeRangeMatch     bool
	MetadataKeysMatched []string
}

// ExplainedItem is a RetrievedItem decorated with explain metadata.
type ExplainedItem struct {
	RetrievedItem
	ScoreComponents ScoreComponents
	RetrievalPath   RetrievalPath
	MatchedFilters  MatchedFilters
}

// ComprehensiveTrace is returned by run_comprehensive in addition to a HybridTrace.
type ComprehensiveTrace struct {
	HybridTrace
	ExpansionsApplied        []string
	MissingScopesAfter       []string
	MissingClauseRefsAfter   []string
}

// PlannedSubQuery is one branch of a QueryPlan.
type PlannedSubQuery struct {
	ID                string
	Query             string
	DependencyID      string
	TargetRelations   []string
	TargetNodeTypes   []string
	IsDeep            bool
}

// QueryPlan drives the plan executor (§4.8).
type QueryPlan struct {
	IsMultihop     bool
	ExecutionMode  ExecutionMode
	SubQueries     []PlannedSubQuery
	FallbackReason string
}

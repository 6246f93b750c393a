// Package config loads runtime configuration from the environment, the same
// way the teacher's loader does: read os.Getenv with typed defaults, then let
// an optional YAML overlay fill in local-dev values that don't belong in the
// process environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DBConfig selects and configures the repository backends (§11 DOMAIN STACK).
type DBConfig struct {
	DefaultDSN string

	SearchBackend string // memory | postgres | auto
	SearchDSN     string

	VectorBackend string // memory | postgres | qdrant | auto
	VectorDSN     string
	VectorDims    int
	VectorMetric  string

	GraphBackend string // memory | postgres | auto
	GraphDSN     string
}

// RetrievalConfig mirrors the ATOMIC_*/RETRIEVAL_*/RERANK_* environment table in §6.
type RetrievalConfig struct {
	EngineMode string // atomic | hybrid

	UseHybridRPC   bool
	EnableFTS      bool
	EnableGraphHop bool
	MatchThreshold float64

	RRFK           int
	RRFVectorWeight float64
	RRFFTSWeight    float64
	HNSWEfSearch    int

	RerankMode          string // local | jina | cohere | hybrid
	RerankMaxCandidates int

	PlanMaxBranchExpansions int
	PlanEarlyExitScopePenalty float64

	MultiQueryMaxParallel              int
	MultiQuerySubqueryTimeout          time.Duration
	MultiQueryDropScopePenalizedBranches bool
	MultiQueryScopePenaltyDropThreshold float64

	ScopeStrictFiltering bool
	ScopePenaltyFactor   float64
}

// S3SSEConfig selects server-side encryption for objects written to the
// document blob store.
type S3SSEConfig struct {
	Mode     string // "" | sse-s3 | sse-kms
	KMSKeyID string
}

// S3Config configures the S3-compatible object store backing raw document
// blobs (§4.4 step 1 persists the upload before parsing begins).
type S3Config struct {
	Bucket                string
	Region                string
	Endpoint              string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	TLSInsecureSkipVerify bool
	SSE                   S3SSEConfig
}

// IngestionConfig mirrors the INGESTION_*/CONTENT_CHUNKS_* environment table.
type IngestionConfig struct {
	VisualAsyncEnabled     bool
	EnrichmentAsyncEnabled bool
	GraphBatchSize         int
	GraphChunkLogEveryN    int
	ChunkInsertBatchSize   int
	MaxCharsPerChunkBlock  int

	MaxPending           int
	GlobalMaxConcurrency int
	TenantMaxConcurrency int
	EnrichTenantMaxConcurrency int
	MaxRetries           int
	MaxSourceLookupRequeues int
	LeaseDuration        time.Duration
}

// Config is the process-wide configuration root.
type Config struct {
	AppEnv           string
	Environment      string
	RunningInDocker  bool
	ServiceSecret    string
	StorageBucket    string
	RedisURL         string
	KafkaBrokers     []string

	HTTPAddr string

	DB        DBConfig
	Retrieval RetrievalConfig
	Ingestion IngestionConfig
	S3        S3Config

	LLM LLMConfig
}

// LLMConfig selects the providers backing the Embedder, Chat and Reranker
// ports (§11 DOMAIN STACK); each field names a provider plus its API key,
// keeping the three concerns independently swappable.
type LLMConfig struct {
	EmbedProvider string // openai | gemini
	EmbedModel    string
	OpenAIAPIKey  string

	ChatProvider    string // openai | anthropic | gemini
	AnthropicAPIKey string
	AnthropicModel  string

	GeminiAPIKey string
	GeminiModel  string

	RerankProvider string // "" | jina | cohere
	RerankAPIKey   string
	RerankBaseURL  string
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDurationMs(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

// Load reads configuration from the environment with documented defaults
// (§6), then applies an optional YAML overlay pointed to by RAG_CONFIG_FILE
// for local-development profiles.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:          envOr("APP_ENV", "development"),
		Environment:     envOr("ENVIRONMENT", "development"),
		RunningInDocker: envBool("RUNNING_IN_DOCKER", false),
		ServiceSecret:   os.Getenv("RAG_SERVICE_SECRET"),
		StorageBucket:   envOr("RAG_STORAGE_BUCKET", "rag-documents"),
		RedisURL:        os.Getenv("REDIS_URL"),
		HTTPAddr:        envOr("HTTP_ADDR", ":8080"),
		DB: DBConfig{
			DefaultDSN:    os.Getenv("DATABASE_URL"),
			SearchBackend: envOr("SEARCH_BACKEND", "memory"),
			SearchDSN:     os.Getenv("SEARCH_DSN"),
			VectorBackend: envOr("VECTOR_BACKEND", "memory"),
			VectorDSN:     os.Getenv("VECTOR_DSN"),
			VectorDims:    envInt("VECTOR_DIMENSIONS", 1536),
			VectorMetric:  envOr("VECTOR_METRIC", "cosine"),
			GraphBackend:  envOr("GRAPH_BACKEND", "memory"),
			GraphDSN:      os.Getenv("GRAPH_DSN"),
		},
		Retrieval: RetrievalConfig{
			EngineMode:     envOr("RETRIEVAL_ENGINE_MODE", "atomic"),
			UseHybridRPC:   envBool("ATOMIC_USE_HYBRID_RPC", true),
			EnableFTS:      envBool("ATOMIC_ENABLE_FTS", true),
			EnableGraphHop: envBool("ATOMIC_ENABLE_GRAPH_HOP", true),
			MatchThreshold: envFloat("ATOMIC_MATCH_THRESHOLD", 0.25),
			RRFK:            envInt("ATOMIC_RRF_K", 60),
			RRFVectorWeight: envFloat("ATOMIC_RRF_VECTOR_WEIGHT", 0.6),
			RRFFTSWeight:    envFloat("ATOMIC_RRF_FTS_WEIGHT", 0.4),
			HNSWEfSearch:    envInt("ATOMIC_HNSW_EF_SEARCH", 100),
			RerankMode:          envOr("RERANK_MODE", "local"),
			RerankMaxCandidates: envInt("RERANK_MAX_CANDIDATES", 150),
			PlanMaxBranchExpansions:   envInt("RETRIEVAL_PLAN_MAX_BRANCH_EXPANSIONS", 2),
			PlanEarlyExitScopePenalty: envFloat("RETRIEVAL_PLAN_EARLY_EXIT_SCOPE_PENALTY", 0.8),
			MultiQueryMaxParallel:     envInt("RETRIEVAL_MULTI_QUERY_MAX_PARALLEL", 4),
			MultiQuerySubqueryTimeout: envDurationMs("RETRIEVAL_MULTI_QUERY_SUBQUERY_TIMEOUT_MS", 8000),
			MultiQueryDropScopePenalizedBranches: envBool("RETRIEVAL_MULTI_QUERY_DROP_SCOPE_PENALIZED_BRANCHES", true),
			MultiQueryScopePenaltyDropThreshold:  envFloat("RETRIEVAL_MULTI_QUERY_SCOPE_PENALTY_DROP_THRESHOLD", 0.95),
			ScopeStrictFiltering: envBool("SCOPE_STRICT_FILTERING", false),
			ScopePenaltyFactor:   envFloat("SCOPE_PENALTY_FACTOR", 0.75),
		},
		Ingestion: IngestionConfig{
			VisualAsyncEnabled:     envBool("INGESTION_VISUAL_ASYNC_ENABLED", true),
			EnrichmentAsyncEnabled: envBool("INGESTION_ENRICHMENT_ASYNC_ENABLED", true),
			GraphBatchSize:         envInt("INGESTION_GRAPH_BATCH_SIZE", 4),
			GraphChunkLogEveryN:    envInt("INGESTION_GRAPH_CHUNK_LOG_EVERY_N", 25),
			ChunkInsertBatchSize:   envInt("CONTENT_CHUNKS_INSERT_BATCH_SIZE", 100),
			MaxCharsPerChunkBlock:  envInt("MAX_CHARACTERS_PER_CHUNKING_BLOCK", 30000),
			MaxPending:             envInt("INGESTION_MAX_PENDING", 50),
			GlobalMaxConcurrency:   envInt("GLOBAL_MAX_CONCURRENCY", 8),
			TenantMaxConcurrency:   envInt("TENANT_MAX_CONCURRENCY", 1),
			EnrichTenantMaxConcurrency: envInt("ENRICH_TENANT_MAX_CONCURRENCY", 2),
			MaxRetries:             envInt("MAX_RETRIES", 3),
			MaxSourceLookupRequeues: envInt("MAX_SOURCE_LOOKUP_REQUEUES", 2),
			LeaseDuration:          envDurationMs("JOB_LEASE_DURATION_MS", 60000),
		},
	}
	cfg.S3 = S3Config{
		Bucket:                envOr("S3_BUCKET", cfg.StorageBucket),
		Region:                envOr("S3_REGION", "us-east-1"),
		Endpoint:              os.Getenv("S3_ENDPOINT"),
		Prefix:                os.Getenv("S3_PREFIX"),
		AccessKey:             os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:             os.Getenv("AWS_SECRET_ACCESS_KEY"),
		UsePathStyle:          envBool("S3_USE_PATH_STYLE", false),
		TLSInsecureSkipVerify: envBool("S3_TLS_INSECURE_SKIP_VERIFY", false),
		SSE: S3SSEConfig{
			Mode:     envOr("S3_SSE_MODE", ""),
			KMSKeyID: os.Getenv("S3_SSE_KMS_KEY_ID"),
		},
	}
	cfg.LLM = LLMConfig{
		EmbedProvider:   envOr("EMBED_PROVIDER", "openai"),
		EmbedModel:      envOr("EMBED_MODEL", "text-embedding-3-small"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		ChatProvider:    envOr("CHAT_PROVIDER", "openai"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     envOr("GEMINI_MODEL", "gemini-2.5-flash"),
		RerankProvider:  envOr("RERANK_PROVIDER", ""),
		RerankAPIKey:    os.Getenv("RERANK_API_KEY"),
		RerankBaseURL:   os.Getenv("RERANK_BASE_URL"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	if path := os.Getenv("RAG_CONFIG_FILE"); path != "" {
		if err := overlayYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// overlayYAML merges a local-dev YAML file on top of env-derived defaults.
// AppEnv, ServiceSecret, StorageBucket and HTTPAddr are applied when set in
// the file; DB, Retrieval and Ingestion are each replaced as a whole block
// when the file sets DB.SearchBackend, Retrieval.EngineMode or
// Ingestion.ChunkInsertBatchSize respectively. Other fields in the file are
// ignored.
func overlayYAML(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var overlay Config
	if err := yaml.Unmarshal(b, &overlay); err != nil {
		return err
	}
	mergeNonZero(cfg, &overlay)
	return nil
}

func mergeNonZero(dst, src *Config) {
	if src.AppEnv != "" {
		dst.AppEnv = src.AppEnv
	}
	if src.ServiceSecret != "" {
		dst.ServiceSecret = src.ServiceSecret
	}
	if src.StorageBucket != "" {
		dst.StorageBucket = src.StorageBucket
	}
	if src.HTTPAddr != "" {
		dst.HTTPAddr = src.HTTPAddr
	}
	if src.DB.SearchBackend != "" {
		dst.DB = src.DB
	}
	if src.Retrieval.EngineMode != "" {
		dst.Retrieval = src.Retrieval
	}
	if src.Ingestion.ChunkInsertBatchSize != 0 {
		dst.Ingestion = src.Ingestion
	}
}

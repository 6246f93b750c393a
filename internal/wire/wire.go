// Package wire is the concrete startup wiring struct the design notes (§9)
// call for in place of a reflective DI container: one function constructs
// every port, worker, and service in topological order, and returns a
// single Close that tears them down in reverse.
package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/backpressure"
	"atomicrag/internal/config"
	"atomicrag/internal/domain"
	"atomicrag/internal/enrich"
	"atomicrag/internal/events"
	"atomicrag/internal/ingest"
	"atomicrag/internal/llm"
	"atomicrag/internal/objectstore"
	"atomicrag/internal/repo"
	"atomicrag/internal/repo/memory"
	"atomicrag/internal/repo/postgres"
	"atomicrag/internal/repo/qdrant"
	"atomicrag/internal/repo/redis"
	"atomicrag/internal/retrieval/contract"
	"atomicrag/internal/retrieval/engine"
	"atomicrag/internal/retrieval/plan"
)

// Bundle holds every constructed port and service a cmd/ entrypoint needs,
// so main() only has to route HTTP/worker plumbing around it.
type Bundle struct {
	Sources repo.SourceRepository
	Chunks  repo.ChunkRepository
	Graph   repo.GraphRepository
	Raptor  repo.RaptorRepository
	Queue   repo.JobQueueRepository
	Idem    repo.IdempotencyRepository

	Store objectstore.ObjectStore

	Embedder domain.Embedder
	Chat     domain.Chat
	Reranker domain.Reranker

	Events *events.Publisher

	Guard      *backpressure.Guard
	Retrieval  *contract.Service
	IngestH    *ingest.Handler
	EnrichH    *enrich.Handler

	closers []func()
}

// Close tears down every resource this bundle opened, in reverse of
// construction order.
func (b *Bundle) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Build wires the full process from cfg. The returned Bundle's Close must
// run before process exit.
func Build(ctx context.Context, cfg config.Config) (*Bundle, error) {
	b := &Bundle{}

	pgPool, err := maybeOpenPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pgPool != nil {
		b.closers = append(b.closers, pgPool.Close)
	}

	if err := wireSources(ctx, b, cfg, pgPool); err != nil {
		return nil, err
	}
	if err := wireChunks(ctx, b, cfg, pgPool); err != nil {
		return nil, err
	}
	if err := wireGraph(ctx, b, cfg, pgPool); err != nil {
		return nil, err
	}
	if err := wireRaptor(ctx, b, cfg, pgPool); err != nil {
		return nil, err
	}
	if err := wireJobQueue(ctx, b, cfg, pgPool); err != nil {
		return nil, err
	}

	store, err := wireObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Store = store

	embedder, chat, reranker, err := wireLLM(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.Embedder, b.Chat, b.Reranker = embedder, chat, reranker

	if err := wireIdempotency(ctx, b, cfg, pgPool); err != nil {
		return nil, err
	}

	b.Events = events.NewPublisher(cfg.KafkaBrokers, "")
	b.closers = append(b.closers, b.Events.Close)

	b.Guard = backpressure.New(b.Sources, cfg.Ingestion.MaxPending, 30*time.Second, domain.SystemClock{})
	if cfg.RedisURL != "" {
		if store, ok := b.Idem.(*redis.IdempotencyStore); ok {
			b.Guard.Cache = redis.NewPendingCache(store)
		}
	}

	b.IngestH = ingest.NewHandler(b.Sources, b.Chunks, b.Store, b.Embedder, b.Queue)
	b.IngestH.Events = b.Events

	b.EnrichH = enrich.NewHandler(b.Sources, b.Chunks, b.Chat, b.Graph, b.Chat, b.Embedder, b.Raptor)
	b.EnrichH.Events = b.Events

	eng := engine.New(b.Chunks, b.Graph, b.Embedder, engineOptionsFrom(cfg.Retrieval))
	opts := contractOptionsFrom(cfg.Retrieval)
	b.Retrieval = contract.New(eng, b.Chunks, b.Raptor, b.Embedder, b.Reranker, opts)

	return b, nil
}

func maybeOpenPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	needsPostgres := cfg.DB.SearchBackend == "postgres" || cfg.DB.VectorBackend == "postgres" ||
		cfg.DB.VectorBackend == "qdrant" || cfg.DB.GraphBackend == "postgres"
	if !needsPostgres {
		return nil, nil
	}
	dsn := cfg.DB.DefaultDSN
	if cfg.DB.SearchBackend == "postgres" && cfg.DB.SearchDSN != "" {
		dsn = cfg.DB.SearchDSN
	}
	if dsn == "" {
		return nil, fmt.Errorf("wire: a postgres-backed store is selected but no DATABASE_URL/SEARCH_DSN is configured")
	}
	pool, err := postgres.OpenPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("wire: open postgres pool: %w", err)
	}
	return pool, nil
}

func wireSources(ctx context.Context, b *Bundle, cfg config.Config, pool *pgxpool.Pool) error {
	if cfg.DB.SearchBackend == "postgres" && pool != nil {
		s, err := postgres.NewSourceStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("wire: postgres source store: %w", err)
		}
		b.Sources = s
		return nil
	}
	b.Sources = memory.NewSourceStore()
	return nil
}

func wireChunks(ctx context.Context, b *Bundle, cfg config.Config, pool *pgxpool.Pool) error {
	switch cfg.DB.VectorBackend {
	case "qdrant":
		dsn := cfg.DB.VectorDSN
		if dsn == "" {
			return fmt.Errorf("wire: VECTOR_BACKEND=qdrant requires VECTOR_DSN")
		}
		idx, err := qdrant.Open(ctx, dsn, "atomicrag_chunks", cfg.DB.VectorDims)
		if err != nil {
			return fmt.Errorf("wire: open qdrant index: %w", err)
		}
		b.closers = append(b.closers, func() { _ = idx.Close() })
		cs, err := qdrant.NewChunkStore(ctx, pool, idx)
		if err != nil {
			return fmt.Errorf("wire: qdrant chunk store: %w", err)
		}
		b.Chunks = cs
		return nil
	case "postgres":
		cs, err := postgres.NewChunkStore(ctx, pool, cfg.DB.VectorDims)
		if err != nil {
			return fmt.Errorf("wire: postgres chunk store: %w", err)
		}
		b.Chunks = cs
		return nil
	default:
		b.Chunks = memory.NewChunkStore()
		return nil
	}
}

func wireGraph(ctx context.Context, b *Bundle, cfg config.Config, pool *pgxpool.Pool) error {
	if cfg.DB.GraphBackend == "postgres" && pool != nil {
		g, err := postgres.NewGraphStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("wire: postgres graph store: %w", err)
		}
		b.Graph = g
		return nil
	}
	b.Graph = memory.NewGraphStore()
	return nil
}

func wireRaptor(ctx context.Context, b *Bundle, cfg config.Config, pool *pgxpool.Pool) error {
	if cfg.DB.SearchBackend == "postgres" && pool != nil {
		r, err := postgres.NewRaptorStore(ctx, pool, cfg.DB.VectorDims)
		if err != nil {
			return fmt.Errorf("wire: postgres raptor store: %w", err)
		}
		b.Raptor = r
		return nil
	}
	b.Raptor = memory.NewRaptorStore()
	return nil
}

func wireJobQueue(ctx context.Context, b *Bundle, cfg config.Config, pool *pgxpool.Pool) error {
	if cfg.DB.SearchBackend == "postgres" && pool != nil {
		q, err := postgres.NewJobQueueStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("wire: postgres job queue: %w", err)
		}
		b.Queue = q
		return nil
	}
	b.Queue = memory.NewJobQueueStore()
	return nil
}

func wireIdempotency(ctx context.Context, b *Bundle, cfg config.Config, pool *pgxpool.Pool) error {
	if cfg.RedisURL != "" {
		store, err := redis.NewIdempotencyStore(redis.Config{Addr: cfg.RedisURL})
		if err != nil {
			log.Warn().Err(err).Msg("wire: redis idempotency store unavailable, falling back to in-memory")
		} else {
			b.closers = append(b.closers, func() { _ = store.Close() })
			b.Idem = store
			return nil
		}
	}
	if cfg.DB.SearchBackend == "postgres" && pool != nil {
		s, err := postgres.NewIdempotencyStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("wire: postgres idempotency store: %w", err)
		}
		b.Idem = s
		return nil
	}
	b.Idem = memory.NewIdempotencyStore()
	return nil
}

func wireObjectStore(ctx context.Context, cfg config.Config) (objectstore.ObjectStore, error) {
	if cfg.S3.Bucket != "" && (cfg.S3.AccessKey != "" || cfg.S3.Endpoint != "") {
		s3store, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("wire: open s3 store: %w", err)
		}
		return s3store, nil
	}
	return objectstore.NewMemoryStore(), nil
}

// wireLLM selects the Embedder/Chat/Reranker providers independently, per
// §11 DOMAIN STACK's "three independently swappable ports" design.
func wireLLM(ctx context.Context, cfg config.Config) (domain.Embedder, domain.Chat, domain.Reranker, error) {
	var embedder domain.Embedder
	var chat domain.Chat
	var reranker domain.Reranker

	switch cfg.LLM.ChatProvider {
	case "anthropic":
		if cfg.LLM.AnthropicAPIKey == "" {
			return nil, nil, nil, fmt.Errorf("wire: CHAT_PROVIDER=anthropic requires ANTHROPIC_API_KEY")
		}
		chat = llm.NewAnthropicClient(cfg.LLM.AnthropicAPIKey, cfg.LLM.AnthropicModel, nil)
	case "gemini":
		gem, err := llm.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel, cfg.LLM.EmbedModel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("wire: gemini client: %w", err)
		}
		chat = gem
		if cfg.LLM.EmbedProvider == "gemini" {
			embedder = gem
		}
	default:
		chat = llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, "gpt-4o-mini", cfg.LLM.EmbedModel, nil)
	}

	switch cfg.LLM.EmbedProvider {
	case "gemini":
		if embedder == nil {
			gem, err := llm.NewGeminiClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.GeminiModel, cfg.LLM.EmbedModel)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("wire: gemini embedder: %w", err)
			}
			embedder = gem
		}
	default:
		if embedder == nil {
			embedder = llm.NewOpenAIClient(cfg.LLM.OpenAIAPIKey, "gpt-4o-mini", cfg.LLM.EmbedModel, nil)
		}
	}

	if cfg.Retrieval.RerankMode == "jina" || cfg.Retrieval.RerankMode == "cohere" || cfg.Retrieval.RerankMode == "hybrid" {
		reranker = llm.NewHTTPReranker(cfg.Retrieval.RerankMode, cfg.LLM.RerankBaseURL, cfg.LLM.RerankAPIKey, "")
	}

	return embedder, chat, reranker, nil
}

func engineOptionsFrom(r config.RetrievalConfig) engine.Options {
	o := engine.DefaultOptions()
	o.EnableFTS = r.EnableFTS
	o.EnableGraphHop = r.EnableGraphHop
	o.MatchThreshold = r.MatchThreshold
	o.RRFK = r.RRFK
	o.VectorWeight = r.RRFVectorWeight
	o.FTSWeight = r.RRFFTSWeight
	o.HNSWEfSearch = r.HNSWEfSearch
	return o
}

func contractOptionsFrom(r config.RetrievalConfig) contract.Options {
	o := contract.DefaultOptions()
	o.RerankMode = r.RerankMode
	o.RerankMaxCandidates = r.RerankMaxCandidates
	o.ScopeStrictFiltering = r.ScopeStrictFiltering
	o.ScopePenaltyFactor = r.ScopePenaltyFactor
	o.MultiQueryRRFK = r.RRFK
	o.MultiQuerySubqueryTimeout = r.MultiQuerySubqueryTimeout
	o.MultiQueryScopePenaltyDropThreshold = r.MultiQueryScopePenaltyDropThreshold
	o.PlanOptions = plan.Options{
		MaxBranchExpansions:   r.PlanMaxBranchExpansions,
		MaxParallel:           int64(r.MultiQueryMaxParallel),
		EarlyExitScopePenalty: r.PlanEarlyExitScopePenalty,
	}
	return o
}

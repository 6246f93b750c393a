// Package httpapi is the thin net/http adapter layer for the external
// interface (§6): auth, tenant extraction, the canonical error envelope,
// and one handler per documented route. The teacher's own go.mod carries
// no HTTP router dependency (see DESIGN.md), so this mirrors cmd/agentd's
// plain http.ServeMux style, using Go's method+path-pattern routing instead
// of a third-party mux.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/backpressure"
	"atomicrag/internal/domain"
	"atomicrag/internal/events"
	"atomicrag/internal/jobqueue"
	"atomicrag/internal/objectstore"
	"atomicrag/internal/repo"
	"atomicrag/internal/retrieval/contract"
	"atomicrag/internal/tenant"
)

// Server holds every dependency a handler needs. Construct one per process;
// it carries no per-request state.
type Server struct {
	Sources repo.SourceRepository
	Chunks  repo.ChunkRepository
	Queue   repo.JobQueueRepository
	Idem    repo.IdempotencyRepository
	Store   objectstore.ObjectStore
	Guard   *backpressure.Guard
	Chat    domain.Chat
	Events  *events.Publisher

	Retrieval *contract.Service

	// ServiceSecret gates every request via Authorization: Bearer or
	// X-Service-Secret; empty disables auth for local development.
	ServiceSecret string
	// StorageBucket names the bucket uploads are written under.
	StorageBucket string

	Clock domain.Clock
}

// NewServer constructs a Server. Clock defaults to domain.SystemClock{}.
func NewServer(s *Server) *Server {
	if s.Clock == nil {
		s.Clock = domain.SystemClock{}
	}
	return s
}

// Routes builds the documented route table over an enhanced (Go 1.22+)
// http.ServeMux, each handler wrapped in the request-id -> auth -> tenant
// chain, with request logging wrapped around the whole mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /documents", s.chain(s.handleCreateDocument))
	mux.Handle("GET /documents", s.chain(s.handleListDocuments))
	mux.Handle("GET /documents/{id}/status", s.chain(s.handleDocumentStatus))
	mux.Handle("DELETE /documents/{id}", s.chain(s.handleDeleteDocument))

	mux.Handle("DELETE /collections/{id}", s.chain(s.handleDeleteCollection))

	mux.Handle("POST /ingestion/batches", s.chain(s.handleCreateBatch))
	mux.Handle("POST /ingestion/batches/{id}/files", s.chain(s.handleBatchFiles))
	mux.Handle("POST /ingestion/batches/{id}/seal", s.chain(s.handleSealBatch))
	mux.Handle("GET /ingestion/batches/{id}/status", s.chain(s.handleBatchStatus))
	mux.Handle("GET /ingestion/batches/{id}/progress", s.chain(s.handleBatchProgress))
	mux.Handle("GET /ingestion/batches/{id}/events", s.chain(s.handleBatchEvents))
	mux.Handle("GET /ingestion/batches/{id}/stream", s.chain(s.handleBatchStream))

	mux.Handle("POST /ingestion/retry/{doc_id}", s.chain(s.handleRetryDocument))
	mux.Handle("POST /ingestion/enrich/{doc_id}", s.chain(s.handleEnrichDocument))

	mux.Handle("POST /retrieval/validate-scope", s.chain(s.handleValidateScope))
	mux.Handle("POST /retrieval/hybrid", s.chain(s.handleHybrid))
	mux.Handle("POST /retrieval/multi-query", s.chain(s.handleMultiQuery))
	mux.Handle("POST /retrieval/explain", s.chain(s.handleExplain))

	mux.Handle("POST /chat/completions", s.chain(s.handleChatCompletions))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return requestLog(mux)
}

type requestContextKey string

const requestIDKey requestContextKey = "rag.request_id"

// chain wraps handler with auth then tenant extraction, matching the
// teacher's preference for small composable middleware over a framework.
func (s *Server) chain(h http.HandlerFunc) http.Handler {
	return withRequestID(s.requireAuth(s.requireTenant(h)))
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = tenant.WithCorrelationID(ctx, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func tenantCtx(ctx context.Context, tenantID string) context.Context {
	return tenant.WithTenant(ctx, tenantID)
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", w.Header().Get("X-Request-ID")).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ServiceSecret == "" {
			next(w, r)
			return
		}
		presented := r.Header.Get("X-Service-Secret")
		if presented == "" {
			if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
				presented = auth[7:]
			}
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(s.ServiceSecret)) != 1 {
			writeError(w, r, domain.ErrUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) requireTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			writeError(w, r, domain.ErrTenantHeaderRequired)
			return
		}
		ctx := tenantCtx(r.Context(), tenantID)
		next(w, r.WithContext(ctx))
	}
}

// enqueueIngest is shared by the document-create and batch-file paths.
func (s *Server) enqueueIngest(r *http.Request, tenantID, docID, batchID string) {
	payload := map[string]any{"source_document_id": docID}
	if batchID != "" {
		payload["batch_id"] = batchID
	}
	if _, err := jobqueue.EnqueueIngestDocument(r.Context(), s.Queue, tenantID, docID, payload); err != nil {
		log.Warn().Err(err).Str("source_document_id", docID).Msg("httpapi: failed to enqueue ingestion job")
	}
}

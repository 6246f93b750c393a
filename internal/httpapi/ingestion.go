package httpapi

import (
	"net/http"

	"atomicrag/internal/domain"
	"atomicrag/internal/jobqueue"
	"atomicrag/internal/tenant"
)

// handleRetryDocument implements POST /ingestion/retry/{doc_id}: force a
// failed or dead-lettered document back into the ingest queue, bumping its
// retry counter.
func (s *Server) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	docID := r.PathValue("doc_id")
	doc, ok, err := s.Sources.GetDocument(ctx, tenantID, docID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrDocumentNotFound)
		return
	}

	if _, err := s.Sources.IncrementRetry(ctx, tenantID, docID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Sources.UpdateDocumentStatus(ctx, tenantID, docID, domain.StatusQueued, ""); err != nil {
		writeError(w, r, err)
		return
	}
	s.enqueueIngest(r, tenantID, docID, batchIDOf(doc))
	writeJSON(w, http.StatusOK, map[string]any{"status": "requeued", "document_id": docID})
}

// handleEnrichDocument implements POST /ingestion/enrich/{doc_id}: enqueue
// deferred enrichment for an already-ingested document, deduplicating
// against an already-pending job for the same document.
func (s *Server) handleEnrichDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	docID := r.PathValue("doc_id")
	if _, ok, err := s.Sources.GetDocument(ctx, tenantID, docID); err != nil {
		writeError(w, r, err)
		return
	} else if !ok {
		writeError(w, r, domain.ErrDocumentNotFound)
		return
	}

	job, alreadyQueued, err := jobqueue.EnqueueDeferredEnrichment(ctx, s.Queue, tenantID, docID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"already_queued": alreadyQueued,
		"job_id":         job.ID,
		"document_id":    docID,
	})
}

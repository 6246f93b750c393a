package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"atomicrag/internal/backpressure"
	"atomicrag/internal/domain"
	"atomicrag/internal/objectstore"
	"atomicrag/internal/tenant"
)

const idempotencyTTL = 600 * time.Second

type documentMetadata struct {
	CollectionKey  string                `json:"collection_key"`
	CollectionName string                `json:"collection_name"`
	AuthorityLevel domain.AuthorityLevel `json:"authority_level"`
}

type documentResponse struct {
	ID           string `json:"document_id"`
	CollectionID string `json:"collection_id"`
	Filename     string `json:"filename"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type createDocumentResponse struct {
	Status     string         `json:"status"`
	DocumentID string         `json:"document_id"`
	Queue      map[string]any `json:"queue"`
}

func toDocumentResponse(doc domain.SourceDocument) documentResponse {
	return documentResponse{
		ID:           doc.ID,
		CollectionID: doc.CollectionID,
		Filename:     doc.Filename,
		Status:       string(doc.Status),
		RetryCount:   doc.RetryCount,
		ErrorMessage: doc.ErrorMessage,
	}
}

func queueBody(snap backpressure.Snapshot) map[string]any {
	return map[string]any{
		"queue_depth":            snap.QueueDepth,
		"max_pending":            snap.MaxPending,
		"estimated_wait_seconds": snap.EstimatedWaitSeconds,
	}
}

func writeBackpressureHeaders(w http.ResponseWriter, snap backpressure.Snapshot) {
	w.Header().Set("X-Queue-Depth", strconv.Itoa(snap.QueueDepth))
	w.Header().Set("X-Queue-Max-Pending", strconv.Itoa(snap.MaxPending))
	w.Header().Set("X-Queue-ETA-Seconds", strconv.FormatFloat(snap.EstimatedWaitSeconds, 'f', 0, 64))
}

// handleCreateDocument implements POST /documents (§6, §4.4 step 1).
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && s.Idem != nil {
		if entry, ok, err := s.Idem.Get(ctx, idemKey); err == nil && ok {
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(entry.Payload)
			return
		}
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, domain.ErrFrontendContractBreach.WithCause(err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, domain.ErrFrontendContractBreach.WithCause(err))
		return
	}
	defer file.Close()

	var meta documentMetadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			writeError(w, r, domain.ErrFrontendContractBreach.WithCause(err))
			return
		}
	}
	if meta.CollectionKey == "" {
		meta.CollectionKey = "default"
	}

	snap, err := s.Guard.EnforceLimit(ctx, tenantID)
	if err != nil {
		writeBackpressureHeaders(w, snap)
		writeError(w, r, err)
		return
	}

	collection, err := s.Sources.EnsureCollection(ctx, tenantID, meta.CollectionKey, meta.CollectionName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if collection.Status == domain.CollectionSealed {
		writeError(w, r, domain.ErrCollectionSealed)
		return
	}

	doc, err := s.storeUpload(ctx, tenantID, collection.ID, "", header.Filename, meta, file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := json.Marshal(createDocumentResponse{
		Status:     "accepted",
		DocumentID: doc.ID,
		Queue:      queueBody(snap),
	})
	if err != nil {
		writeError(w, r, domain.ErrInternal.WithCause(err))
		return
	}

	if idemKey != "" && s.Idem != nil {
		_ = s.Idem.Put(ctx, domain.IdempotencyEntry{Key: idemKey, Payload: payload}, idempotencyTTL)
	}

	writeBackpressureHeaders(w, snap)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)

	s.enqueueIngest(r, tenantID, doc.ID, "")
}

// storeUpload writes the raw upload to object storage under a
// tenant/collection/document key and creates the SourceDocument row. Shared
// by the single-document and batch-file upload paths.
func (s *Server) storeUpload(ctx context.Context, tenantID, collectionID, batchID, filename string, meta documentMetadata, r io.Reader) (domain.SourceDocument, error) {
	docID := uuid.NewString()
	key := fmt.Sprintf("%s/%s/%s", tenantID, collectionID, docID)
	bucket := s.StorageBucket
	if bucket == "" {
		bucket = "atomicrag"
	}
	if _, err := s.Store.Put(ctx, key, r, objectstore.PutOptions{
		Metadata: map[string]string{"filename": filename, "tenant_id": tenantID},
	}); err != nil {
		return domain.SourceDocument{}, domain.ErrInternal.WithCause(err)
	}

	metadata := map[string]any{}
	if batchID != "" {
		metadata["batch_id"] = batchID
	}

	doc, err := s.Sources.CreateDocument(ctx, domain.SourceDocument{
		ID:             docID,
		TenantID:       tenantID,
		CollectionID:   collectionID,
		Filename:       filename,
		StoragePath:    key,
		StorageBucket:  bucket,
		Status:         domain.StatusQueued,
		Metadata:       metadata,
		AuthorityLevel: meta.AuthorityLevel,
	})
	if err != nil {
		return domain.SourceDocument{}, err
	}
	return doc, nil
}

// handleListDocuments implements GET /documents?collection_id=.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	collectionID := r.URL.Query().Get("collection_id")
	docs, err := s.Sources.ListDocuments(ctx, tenantID, collectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// handleDocumentStatus implements GET /documents/{id}/status.
func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	doc, ok, err := s.Sources.GetDocument(ctx, tenantID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrDocumentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// handleDeleteDocument implements DELETE /documents/{id}?purge_chunks=true.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	purge := parseBool(r.URL.Query().Get("purge_chunks"))
	if err := s.Sources.DeleteDocument(ctx, tenantID, id, purge); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

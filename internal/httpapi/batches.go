package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"atomicrag/internal/domain"
	"atomicrag/internal/tenant"
)

type createBatchRequest struct {
	CollectionKey  string `json:"collection_key"`
	CollectionName string `json:"collection_name"`
	TotalFiles     int    `json:"total_files"`
	AutoSeal       bool   `json:"auto_seal"`
}

type batchResponse struct {
	ID           string `json:"batch_id"`
	CollectionID string `json:"collection_id"`
	TotalFiles   int    `json:"total_files"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	Status       string `json:"status"`
	AutoSeal     bool   `json:"auto_seal"`
}

func toBatchResponse(b domain.IngestionBatch) batchResponse {
	return batchResponse{
		ID:           b.ID,
		CollectionID: b.CollectionID,
		TotalFiles:   b.TotalFiles,
		Completed:    b.Completed,
		Failed:       b.Failed,
		Status:       string(b.Status),
		AutoSeal:     b.AutoSeal,
	}
}

// handleCreateBatch implements POST /ingestion/batches.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.CollectionKey == "" {
		req.CollectionKey = "default"
	}
	collection, err := s.Sources.EnsureCollection(ctx, tenantID, req.CollectionKey, req.CollectionName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if collection.Status == domain.CollectionSealed {
		writeError(w, r, domain.ErrCollectionSealed)
		return
	}
	batch, err := s.Sources.CreateBatch(ctx, domain.IngestionBatch{
		TenantID:     tenantID,
		CollectionID: collection.ID,
		TotalFiles:   req.TotalFiles,
		AutoSeal:     req.AutoSeal,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

// handleBatchFiles implements POST /ingestion/batches/{id}/files. It accepts
// one or more multipart files (field "file"), silently skipping filenames
// already present in the batch (they are left out of "accepted") and enforcing the batch's file-count limit and the
// tenant's ingestion backpressure together.
func (s *Server) handleBatchFiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batchID := r.PathValue("id")
	batch, ok, err := s.Sources.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrBatchNotFound)
		return
	}
	if batch.Status.IsTerminal() {
		writeError(w, r, domain.ErrBatchFull.WithDetails(map[string]any{"reason": "batch already sealed/terminal"}))
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, r, domain.ErrFrontendContractBreach.WithCause(err))
		return
	}
	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, r, domain.ErrFrontendContractBreach.WithDetails(map[string]any{"reason": "no files attached"}))
		return
	}
	if batch.TotalFiles > 0 && batch.Completed+batch.Failed+len(files) > batch.TotalFiles {
		writeError(w, r, domain.ErrBatchFull)
		return
	}

	existing, err := s.Sources.ListDocuments(ctx, tenantID, batch.CollectionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	seen := map[string]bool{}
	for _, d := range existing {
		if batchIDOf(d) == batchID {
			seen[d.Filename] = true
		}
	}

	snap, err := s.Guard.EnforceLimit(ctx, tenantID)
	if err != nil {
		writeBackpressureHeaders(w, snap)
		writeError(w, r, err)
		return
	}

	accepted := make([]documentResponse, 0, len(files))
	for _, fh := range files {
		if seen[fh.Filename] {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			writeError(w, r, domain.ErrFrontendContractBreach.WithCause(err))
			return
		}
		doc, err := s.storeUpload(ctx, tenantID, batch.CollectionID, batchID, fh.Filename, documentMetadata{}, f)
		f.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		seen[fh.Filename] = true
		accepted = append(accepted, toDocumentResponse(doc))
		s.enqueueIngest(r, tenantID, doc.ID, batchID)
	}

	if batch.AutoSeal && batch.TotalFiles == 0 {
		_ = s.Sources.SealBatch(ctx, tenantID, batchID)
	}

	writeBackpressureHeaders(w, snap)
	writeJSON(w, http.StatusOK, map[string]any{"accepted": accepted})
}

func batchIDOf(d domain.SourceDocument) string {
	if d.Metadata == nil {
		return ""
	}
	v, _ := d.Metadata["batch_id"].(string)
	return v
}

// handleSealBatch implements POST /ingestion/batches/{id}/seal: no more
// files may be added, and the batch's terminal status is derived once every
// already-enqueued document finishes.
func (s *Server) handleSealBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batchID := r.PathValue("id")
	if err := s.Sources.SealBatch(ctx, tenantID, batchID); err != nil {
		writeError(w, r, err)
		return
	}
	batch, ok, err := s.Sources.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrBatchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

// handleBatchStatus implements GET /ingestion/batches/{id}/status.
func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batch, ok, err := s.Sources.GetBatch(ctx, tenantID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrBatchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toBatchResponse(batch))
}

// handleBatchProgress implements GET /ingestion/batches/{id}/progress, a
// lighter-weight counter-only view of the same row.
func (s *Server) handleBatchProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batch, ok, err := s.Sources.GetBatch(ctx, tenantID, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrBatchNotFound)
		return
	}
	pct := 0.0
	if batch.TotalFiles > 0 {
		pct = float64(batch.Completed+batch.Failed) / float64(batch.TotalFiles) * 100
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch_id":         batch.ID,
		"total_files":      batch.TotalFiles,
		"completed":        batch.Completed,
		"failed":           batch.Failed,
		"percent_complete": pct,
		"terminal":         batch.Terminal(),
	})
}

// mergedBatchEvents collects every IngestionEvent for documents belonging to
// batchID, ordered by creation time; it is the cheap fan-in this repository
// surface supports since events are indexed by document, not by batch.
func (s *Server) mergedBatchEvents(ctx context.Context, tenantID string, batch domain.IngestionBatch, batchID string) ([]domain.IngestionEvent, error) {
	docs, err := s.Sources.ListDocuments(ctx, tenantID, batch.CollectionID)
	if err != nil {
		return nil, err
	}
	var all []domain.IngestionEvent
	for _, d := range docs {
		if batchIDOf(d) != batchID {
			continue
		}
		evs, _, err := s.Sources.ListEventsSince(ctx, tenantID, d.ID, "", 0)
		if err != nil {
			return nil, err
		}
		all = append(all, evs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

func eventCursor(ev domain.IngestionEvent) string {
	return fmt.Sprintf("%s|%s", ev.CreatedAt.Format(time.RFC3339Nano), ev.ID)
}

// handleBatchEvents implements GET /ingestion/batches/{id}/events, cursor
// paginated as "{created_at}|{event_id}" (§6).
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batchID := r.PathValue("id")
	batch, ok, err := s.Sources.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, domain.ErrBatchNotFound)
		return
	}
	all, err := s.mergedBatchEvents(ctx, tenantID, batch, batchID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cursor := r.URL.Query().Get("cursor")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	start := 0
	if cursor != "" {
		for i, ev := range all {
			if eventCursor(ev) == cursor {
				start = i + 1
				break
			}
		}
	}
	end := len(all)
	if start+limit < end {
		end = start + limit
	}
	var page []domain.IngestionEvent
	nextCursor := cursor
	if start < end {
		page = all[start:end]
		nextCursor = eventCursor(page[len(page)-1])
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": page, "next_cursor": nextCursor})
}

// handleBatchStream implements GET /ingestion/batches/{id}/stream as
// server-sent events: an initial snapshot, delta events as they arrive, a
// heartbeat every 15s to keep idle connections alive, and a terminal event
// once the batch reaches a final status.
func (s *Server) handleBatchStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := tenant.RequireTenant(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	batchID := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, domain.ErrInternal.WithDetails(map[string]any{"reason": "streaming unsupported"}))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	batch, ok, err := s.Sources.GetBatch(ctx, tenantID, batchID)
	if err != nil || !ok {
		writeSSE(w, "terminal", map[string]any{"error": "batch not found"})
		flusher.Flush()
		return
	}
	writeSSE(w, "snapshot", toBatchResponse(batch))
	flusher.Flush()

	lastCursor := ""
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(w, "heartbeat", map[string]any{"ts": time.Now().UTC()})
			flusher.Flush()
		case <-ticker.C:
			batch, ok, err := s.Sources.GetBatch(ctx, tenantID, batchID)
			if err != nil || !ok {
				return
			}
			all, err := s.mergedBatchEvents(ctx, tenantID, batch, batchID)
			if err == nil {
				start := 0
				if lastCursor != "" {
					for i, ev := range all {
						if eventCursor(ev) == lastCursor {
							start = i + 1
							break
						}
					}
				}
				if start < len(all) {
					writeSSE(w, "delta", all[start:])
					lastCursor = eventCursor(all[len(all)-1])
					flusher.Flush()
				}
			}
			if batch.Terminal() {
				writeSSE(w, "terminal", toBatchResponse(batch))
				flusher.Flush()
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}

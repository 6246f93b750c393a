// Package memory provides in-memory fakes for every repo port, mirroring
// the teacher's databases.NewMemorySearch/NewMemoryVector/NewMemoryGraph
// pattern: mutex-guarded maps, no external dependency, safe for concurrent
// use, used by unit tests and local development without a database.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// SourceStore is an in-memory SourceRepository.
type SourceStore struct {
	mu          sync.RWMutex
	collections map[string]domain.Collection
	documents   map[string]domain.SourceDocument
	batches     map[string]domain.IngestionBatch
	events      map[string][]domain.IngestionEvent // keyed by source document id
}

// NewSourceStore constructs an empty in-memory SourceRepository.
func NewSourceStore() *SourceStore {
	return &SourceStore{
		collections: map[string]domain.Collection{},
		documents:   map[string]domain.SourceDocument{},
		batches:     map[string]domain.IngestionBatch{},
		events:      map[string][]domain.IngestionEvent{},
	}
}

var _ repo.SourceRepository = (*SourceStore)(nil)

func (s *SourceStore) EnsureCollection(_ context.Context, tenantID, key, name string) (domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.TenantID == tenantID && c.Key == key {
			return c, nil
		}
	}
	c := domain.Collection{ID: uuid.NewString(), TenantID: tenantID, Key: key, Name: name, Status: domain.CollectionOpen}
	s.collections[c.ID] = c
	return c, nil
}

func (s *SourceStore) GetCollection(_ context.Context, tenantID, collectionID string) (domain.Collection, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collectionID]
	if !ok || c.TenantID != tenantID {
		return domain.Collection{}, false, nil
	}
	return c, true, nil
}

func (s *SourceStore) SealCollection(_ context.Context, tenantID, collectionID string, sealed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionID]
	if !ok || c.TenantID != tenantID {
		return domain.ErrCollectionNotFound
	}
	if sealed {
		c.Status = domain.CollectionSealed
	} else {
		c.Status = domain.CollectionOpen
	}
	s.collections[collectionID] = c
	return nil
}

func (s *SourceStore) DeleteCollection(_ context.Context, tenantID, collectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, collectionID)
	for id, d := range s.documents {
		if d.TenantID == tenantID && d.CollectionID == collectionID {
			delete(s.documents, id)
			delete(s.events, id)
		}
	}
	for id, b := range s.batches {
		if b.TenantID == tenantID && b.CollectionID == collectionID {
			delete(s.batches, id)
		}
	}
	return nil
}

func (s *SourceStore) CreateDocument(_ context.Context, doc domain.SourceDocument) (domain.SourceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.documents[doc.ID] = doc
	return doc, nil
}

func (s *SourceStore) GetDocument(_ context.Context, tenantID, docID string) (domain.SourceDocument, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[docID]
	if !ok || d.TenantID != tenantID {
		return domain.SourceDocument{}, false, nil
	}
	return d, true, nil
}

func (s *SourceStore) ListDocuments(_ context.Context, tenantID, collectionID string) ([]domain.SourceDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.SourceDocument{}
	for _, d := range s.documents {
		if d.TenantID != tenantID {
			continue
		}
		if collectionID != "" && d.CollectionID != collectionID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SourceStore) UpdateDocumentStatus(_ context.Context, tenantID, docID string, status domain.IngestionStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[docID]
	if !ok || d.TenantID != tenantID {
		return domain.ErrDocumentNotFound
	}
	d.Status = status
	d.ErrorMessage = errMsg
	d.UpdatedAt = time.Now()
	s.documents[docID] = d
	return nil
}

func (s *SourceStore) IncrementRetry(_ context.Context, tenantID, docID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[docID]
	if !ok || d.TenantID != tenantID {
		return 0, domain.ErrDocumentNotFound
	}
	d.RetryCount++
	d.UpdatedAt = time.Now()
	s.documents[docID] = d
	return d.RetryCount, nil
}

func (s *SourceStore) DeleteDocument(_ context.Context, tenantID, docID string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.documents[docID]; !ok || d.TenantID != tenantID {
		return domain.ErrDocumentNotFound
	}
	delete(s.documents, docID)
	delete(s.events, docID)
	return nil
}

func (s *SourceStore) CountPending(_ context.Context, tenantID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.documents {
		if d.TenantID != tenantID {
			continue
		}
		switch d.Status {
		case domain.StatusPendingIngestion, domain.StatusQueued, domain.StatusProcessing:
			n++
		}
	}
	return n, nil
}

func (s *SourceStore) CreateBatch(_ context.Context, batch domain.IngestionBatch) (domain.IngestionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now()
	batch.CreatedAt, batch.UpdatedAt = now, now
	if batch.Status == "" {
		batch.Status = domain.BatchPending
	}
	s.batches[batch.ID] = batch
	return batch, nil
}

func (s *SourceStore) GetBatch(_ context.Context, tenantID, batchID string) (domain.IngestionBatch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return domain.IngestionBatch{}, false, nil
	}
	return b, true, nil
}

// IncrementBatchCounters applies completed/failed deltas and enforces
// monotonic terminal status (invariant 3 in §3): once terminal, a batch's
// status is never overwritten by a subsequent call.
func (s *SourceStore) IncrementBatchCounters(_ context.Context, tenantID, batchID string, completedDelta, failedDelta int) (domain.IngestionBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return domain.IngestionBatch{}, domain.ErrBatchNotFound
	}
	if b.Status.IsTerminal() {
		return b, nil
	}
	b.Completed += completedDelta
	b.Failed += failedDelta
	b.UpdatedAt = time.Now()
	if b.Completed+b.Failed >= b.TotalFiles && b.TotalFiles > 0 {
		switch {
		case b.Failed == 0:
			b.Status = domain.BatchCompleted
		case b.Completed == 0:
			b.Status = domain.BatchFailed
		default:
			b.Status = domain.BatchPartial
		}
	} else if b.Completed+b.Failed > 0 {
		b.Status = domain.BatchProcessing
	}
	s.batches[batchID] = b
	return b, nil
}

func (s *SourceStore) SealBatch(_ context.Context, tenantID, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.TenantID != tenantID {
		return domain.ErrBatchNotFound
	}
	b.AutoSeal = true
	s.batches[batchID] = b
	return nil
}

func (s *SourceStore) AppendEvent(_ context.Context, ev domain.IngestionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.CreatedAt = time.Now()
	s.events[ev.SourceDocumentID] = append(s.events[ev.SourceDocumentID], ev)
	return nil
}

func (s *SourceStore) ListEventsSince(_ context.Context, _, docID, cursor string, limit int) ([]domain.IngestionEvent, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[docID]
	start := 0
	if cursor != "" {
		parts := strings.SplitN(cursor, "|", 2)
		if len(parts) == 2 {
			for i, ev := range all {
				if fmt.Sprintf("%s|%s", ev.CreatedAt.Format(time.RFC3339Nano), ev.ID) == cursor {
					start = i + 1
					break
				}
			}
		}
	}
	if start >= len(all) {
		return nil, cursor, nil
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := append([]domain.IngestionEvent{}, all[start:end]...)
	next := cursor
	if len(page) > 0 {
		last := page[len(page)-1]
		next = fmt.Sprintf("%s|%s", last.CreatedAt.Format(time.RFC3339Nano), last.ID)
	}
	return page, next, nil
}

package backpressure

import (
	"context"
	"testing"
	"time"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo/memory"
)

func seedPending(t *testing.T, store *memory.SourceStore, tenantID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := store.CreateDocument(ctx, domain.SourceDocument{
			TenantID: tenantID,
			Status:   domain.StatusQueued,
		}); err != nil {
			t.Fatalf("seed document: %v", err)
		}
	}
}

func TestGetPendingSnapshot(t *testing.T) {
	store := memory.NewSourceStore()
	seedPending(t, store, "tenant-a", 3)

	g := New(store, 10, 5*time.Second, nil)
	snap, err := g.GetPendingSnapshot(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.QueueDepth != 3 {
		t.Fatalf("expected queue depth 3, got %d", snap.QueueDepth)
	}
	if snap.MaxPending != 10 {
		t.Fatalf("expected max pending 10, got %d", snap.MaxPending)
	}
	if snap.EstimatedWaitSeconds != 15 {
		t.Fatalf("expected 3*5s=15s estimate, got %v", snap.EstimatedWaitSeconds)
	}
}

func TestEnforceLimitRejectsAtCapacity(t *testing.T) {
	store := memory.NewSourceStore()
	seedPending(t, store, "tenant-a", 2)

	g := New(store, 2, time.Second, nil)
	_, err := g.EnforceLimit(context.Background(), "tenant-a")
	if err == nil {
		t.Fatal("expected backpressure error at capacity")
	}
	de := domain.AsDomainError(err)
	if de.Code != domain.ErrIngestionBackpressure.Code {
		t.Fatalf("expected ErrIngestionBackpressure, got %v", err)
	}
}

func TestEnforceLimitAllowsBelowCapacity(t *testing.T) {
	store := memory.NewSourceStore()
	seedPending(t, store, "tenant-a", 1)

	g := New(store, 5, time.Second, nil)
	if _, err := g.EnforceLimit(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("unexpected error below capacity: %v", err)
	}
}

type fakePendingCache struct {
	values map[string]int
	hits   int
	misses int
}

func newFakePendingCache() *fakePendingCache {
	return &fakePendingCache{values: map[string]int{}}
}

func (c *fakePendingCache) Get(_ context.Context, tenantID string) (int, bool) {
	v, ok := c.values[tenantID]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

func (c *fakePendingCache) Set(_ context.Context, tenantID string, depth int, _ time.Duration) {
	c.values[tenantID] = depth
}

func TestGetPendingSnapshotUsesCacheOnHit(t *testing.T) {
	store := memory.NewSourceStore()
	seedPending(t, store, "tenant-a", 3)

	cache := newFakePendingCache()
	g := New(store, 10, 5*time.Second, nil)
	g.Cache = cache

	if _, err := g.GetPendingSnapshot(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache.misses != 1 || cache.values["tenant-a"] != 3 {
		t.Fatalf("expected first call to miss and populate the cache, got %+v", cache)
	}

	seedPending(t, store, "tenant-a", 5) // mutate the backing store
	snap, err := g.GetPendingSnapshot(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.QueueDepth != 3 {
		t.Fatalf("expected second call to read the stale cached depth 3, got %d", snap.QueueDepth)
	}
	if cache.hits != 1 {
		t.Fatalf("expected second call to hit the cache, got %+v", cache)
	}
}

func TestRecordCompletionImprovesEstimate(t *testing.T) {
	store := memory.NewSourceStore()
	seedPending(t, store, "tenant-a", 1)

	g := New(store, 10, 30*time.Second, nil)
	g.RecordCompletion("tenant-a", 2*time.Second)

	snap, err := g.GetPendingSnapshot(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.EstimatedWaitSeconds != 2 {
		t.Fatalf("expected observed 2s estimate to replace fixed fallback, got %v", snap.EstimatedWaitSeconds)
	}
}

// Package backpressure computes the tenant-scoped admission decision that
// gates new ingestion work: a cheap queue-depth snapshot plus an advisory
// ETA, modeled on the teacher's preference for small, mockable state guards
// ahead of an expensive pipeline (internal/tenant/guard.go's "validate once,
// let the caller decide" shape) rather than a blocking rate limiter.
package backpressure

import (
	"context"
	"sync"
	"time"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// Snapshot is the advisory admission decision returned to the client.
type Snapshot struct {
	QueueDepth           int
	MaxPending           int
	EstimatedWaitSeconds float64
}

// PendingCache fronts the per-tenant pending-count query with a short-TTL
// external cache so a burst of status polls doesn't turn into a burst of
// CountPending queries against the source repository.
type PendingCache interface {
	Get(ctx context.Context, tenantID string) (int, bool)
	Set(ctx context.Context, tenantID string, depth int, ttl time.Duration)
}

// Guard tracks per-tenant throughput history so ETA estimates improve as a
// tenant's ingestion workers actually complete documents, falling back to a
// fixed per-document estimate when no history exists yet.
type Guard struct {
	sources    repo.SourceRepository
	maxPending int
	fixedETA   time.Duration
	clock      domain.Clock

	// Cache is optional; when set, GetPendingSnapshot consults it before
	// querying sources and repopulates it with cacheTTL.
	Cache    PendingCache
	cacheTTL time.Duration

	mu        sync.Mutex
	perTenant map[string]*throughput
}

type throughput struct {
	completions int
	window      time.Duration
	lastSeen    time.Time
}

// New constructs a Guard backed by sources for the pending-count query.
// fixedETA is the per-document estimate used until a tenant has recorded at
// least one completion via RecordCompletion.
func New(sources repo.SourceRepository, maxPending int, fixedETA time.Duration, clock domain.Clock) *Guard {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if fixedETA <= 0 {
		fixedETA = 30 * time.Second
	}
	return &Guard{
		sources:    sources,
		maxPending: maxPending,
		fixedETA:   fixedETA,
		clock:      clock,
		cacheTTL:   2 * time.Second,
		perTenant:  make(map[string]*throughput),
	}
}

// GetPendingSnapshot computes {queue_depth, max_pending, estimated_wait_seconds}
// for tenantID (§4.2).
func (g *Guard) GetPendingSnapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	depth, cached := -1, false
	if g.Cache != nil {
		depth, cached = g.Cache.Get(ctx, tenantID)
	}
	if !cached {
		var err error
		depth, err = g.sources.CountPending(ctx, tenantID)
		if err != nil {
			return Snapshot{}, err
		}
		if g.Cache != nil {
			g.Cache.Set(ctx, tenantID, depth, g.cacheTTL)
		}
	}
	return Snapshot{
		QueueDepth:           depth,
		MaxPending:           g.maxPending,
		EstimatedWaitSeconds: g.estimateWaitSeconds(tenantID, depth),
	}, nil
}

// EnforceLimit fails with ErrIngestionBackpressure when the tenant's pending
// queue is already at or above max_pending. It never blocks or retries; the
// decision is advisory for the caller to act on (e.g. reject a POST).
func (g *Guard) EnforceLimit(ctx context.Context, tenantID string) (Snapshot, error) {
	snap, err := g.GetPendingSnapshot(ctx, tenantID)
	if err != nil {
		return Snapshot{}, err
	}
	if snap.QueueDepth >= snap.MaxPending {
		return snap, domain.ErrIngestionBackpressure.WithDetails(map[string]any{
			"queue_depth": snap.QueueDepth,
			"max_pending": snap.MaxPending,
		})
	}
	return snap, nil
}

// RecordCompletion feeds throughput history used by ETA estimation; call it
// once a document finishes (successfully or not) so later estimates reflect
// this tenant's observed pace instead of the fixed fallback.
func (g *Guard) RecordCompletion(tenantID string, took time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.perTenant[tenantID]
	if !ok {
		t = &throughput{}
		g.perTenant[tenantID] = t
	}
	t.completions++
	// Exponential moving average keeps the estimate responsive without
	// remembering every historical completion.
	if t.window == 0 {
		t.window = took
	} else {
		t.window = (t.window*4 + took) / 5
	}
	t.lastSeen = g.clock.Now()
}

func (g *Guard) estimateWaitSeconds(tenantID string, depth int) float64 {
	if depth <= 0 {
		return 0
	}
	g.mu.Lock()
	t, ok := g.perTenant[tenantID]
	g.mu.Unlock()
	perDoc := g.fixedETA
	if ok && t.completions > 0 && t.window > 0 {
		perDoc = t.window
	}
	return perDoc.Seconds() * float64(depth)
}

package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// PendingCache is a redis-backed backpressure.PendingCache, sharing the
// IdempotencyStore's connection so a deployment that already runs Redis for
// idempotency replay doesn't need a second connection pool for this.
type PendingCache struct {
	client redis.UniversalClient
}

// NewPendingCache wraps an already-dialed IdempotencyStore's client.
func NewPendingCache(store *IdempotencyStore) *PendingCache {
	return &PendingCache{client: store.client}
}

func pendingKey(tenantID string) string {
	return "atomicrag:pending:" + tenantID
}

func (c *PendingCache) Get(ctx context.Context, tenantID string) (int, bool) {
	val, err := c.client.Get(ctx, pendingKey(tenantID)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().Err(err).Str("tenant_id", tenantID).Msg("redis pending cache get failed")
		}
		return 0, false
	}
	depth, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return depth, true
}

func (c *PendingCache) Set(ctx context.Context, tenantID string, depth int, ttl time.Duration) {
	if err := c.client.Set(ctx, pendingKey(tenantID), depth, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("tenant_id", tenantID).Msg("redis pending cache set failed")
	}
}

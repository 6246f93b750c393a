// Package redis backs the Idempotency-Key HTTP contract (§6) with an
// external store, the "in-memory (with external-store option)" half of
// §5's shared-resource policy. Grounded on the teacher's
// internal/skills.RedisSkillsCache: a thin redis.UniversalClient wrapper.
// Close is nil-receiver-safe; Get and Put require a store built by
// NewIdempotencyStore.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"atomicrag/internal/domain"
	"atomicrag/internal/repo"
)

// Config configures the Redis connection backing IdempotencyStore.
type Config struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// IdempotencyStore is a redis.UniversalClient-backed IdempotencyRepository.
type IdempotencyStore struct {
	client redis.UniversalClient
}

// NewIdempotencyStore dials Redis and pings it once. addr must be non-empty;
// callers gate construction on REDIS_URL being set.
func NewIdempotencyStore(cfg Config) (*IdempotencyStore, error) {
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis idempotency store ping: %w", err)
	}
	return &IdempotencyStore{client: client}, nil
}

var _ repo.IdempotencyRepository = (*IdempotencyStore)(nil)

func idemKey(key string) string {
	return "atomicrag:idempotency:" + key
}

type idemPayload struct {
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (domain.IdempotencyEntry, bool, error) {
	val, err := s.client.Get(ctx, idemKey(key)).Result()
	if err != nil {
		if err == redis.Nil {
			return domain.IdempotencyEntry{}, false, nil
		}
		return domain.IdempotencyEntry{}, false, fmt.Errorf("redis idempotency get: %w", err)
	}
	var p idemPayload
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("redis idempotency: corrupt cached entry")
		return domain.IdempotencyEntry{}, false, nil
	}
	return domain.IdempotencyEntry{Key: key, Payload: p.Payload, CreatedAt: p.CreatedAt}, true, nil
}

func (s *IdempotencyStore) Put(ctx context.Context, entry domain.IdempotencyEntry, ttl time.Duration) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := json.Marshal(idemPayload{Payload: entry.Payload, CreatedAt: entry.CreatedAt})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, idemKey(entry.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency put: %w", err)
	}
	return nil
}

// Close closes the underlying Redis connection.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

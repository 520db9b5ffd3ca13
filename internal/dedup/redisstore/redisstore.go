// Package redisstore is a Redis-backed dedup.Index, grounded on
// jordigilh-kubernaut's use of github.com/redis/go-redis/v9 for its
// context-cache layer. Admission is implemented with SET NX EX so the
// compare-and-set semantics dedup.Index requires come from Redis itself
// rather than from client-side locking; TTL-based expiry means
// EvictExpired is a deliberate no-op here.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fraware/self-healing-ci/internal/dedup"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

const keyPrefix = "selfheal:dedup:"

// Store is a Redis-backed dedup.Index.
type Store struct {
	client *redis.Client
}

var _ dedup.Index = (*Store)(nil)

// New wraps an existing go-redis client. Callers constructing a client
// against miniredis for tests can pass it here directly.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) TryAdmit(ctx context.Context, key selfheal.DedupKey, ttl time.Duration) (dedup.Outcome, error) {
	ok, err := s.client.SetNX(ctx, keyPrefix+string(key), time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return dedup.Duplicate, err
	}
	if !ok {
		return dedup.Duplicate, nil
	}
	return dedup.Admitted, nil
}

// EvictExpired is a no-op: Redis expires keys natively via the TTL passed
// to TryAdmit.
func (s *Store) EvictExpired(ctx context.Context, now time.Time) error {
	return nil
}

// Package dedup implements the admission-time deduplication index of §4.2:
// a key derived from hash(repository||runId||headSha) is admitted at most
// once per TTL window. Two reference implementations are provided — an
// in-memory index for tests and single-process demos, and a Redis-backed
// index (internal/dedup/redisstore) grounded on jordigilh-kubernaut's use
// of go-redis for its context cache, generalized from a read-through cache
// to a compare-and-set admission gate.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Outcome is the result of an admission attempt.
type Outcome int

const (
	// Admitted means the caller holds the key until TTL expiry.
	Admitted Outcome = iota
	// Duplicate means a prior admission for this key is still live.
	Duplicate
)

// Index is the deduplication gate §4.2 requires ahead of case creation.
// TryAdmit must behave as an atomic compare-and-set: concurrent callers
// racing on the same key see exactly one Admitted and the rest Duplicate.
type Index interface {
	TryAdmit(ctx context.Context, key selfheal.DedupKey, ttl time.Duration) (Outcome, error)
	// EvictExpired proactively removes keys whose TTL has lapsed. Implementations
	// backed by a store with native expiry (Redis TTL) may make this a no-op.
	EvictExpired(ctx context.Context, now time.Time) error
}

type entry struct {
	admittedAt time.Time
	expiresAt  time.Time
}

// MemoryIndex is an in-process Index guarded by a mutex.
type MemoryIndex struct {
	mu      sync.Mutex
	entries map[selfheal.DedupKey]entry
}

// NewMemoryIndex constructs an empty in-memory dedup index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: map[selfheal.DedupKey]entry{}}
}

func (idx *MemoryIndex) TryAdmit(ctx context.Context, key selfheal.DedupKey, ttl time.Duration) (Outcome, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	now := time.Now()
	if e, ok := idx.entries[key]; ok && now.Before(e.expiresAt) {
		return Duplicate, nil
	}
	idx.entries[key] = entry{admittedAt: now, expiresAt: now.Add(ttl)}
	return Admitted, nil
}

func (idx *MemoryIndex) EvictExpired(ctx context.Context, now time.Time) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for k, e := range idx.entries {
		if !now.Before(e.expiresAt) {
			delete(idx.entries, k)
		}
	}
	return nil
}

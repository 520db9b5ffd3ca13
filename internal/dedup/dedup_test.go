package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func TestMemoryIndex_FirstAdmitSucceedsSecondIsDuplicate(t *testing.T) {
	idx := NewMemoryIndex()
	key := selfheal.DedupKey("case-1")

	out, err := idx.TryAdmit(context.Background(), key, time.Minute)
	if err != nil || out != Admitted {
		t.Fatalf("expected first admission to succeed, got %v, %v", out, err)
	}

	out, err = idx.TryAdmit(context.Background(), key, time.Minute)
	if err != nil || out != Duplicate {
		t.Fatalf("expected second admission within TTL to be a duplicate, got %v, %v", out, err)
	}
}

func TestMemoryIndex_ReadmitsAfterTTLExpiry(t *testing.T) {
	idx := NewMemoryIndex()
	key := selfheal.DedupKey("case-1")

	if _, err := idx.TryAdmit(context.Background(), key, -time.Second); err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}

	out, err := idx.TryAdmit(context.Background(), key, time.Minute)
	if err != nil || out != Admitted {
		t.Fatalf("expected an expired entry to be re-admittable, got %v, %v", out, err)
	}
}

func TestMemoryIndex_EvictExpiredRemovesOnlyLapsedKeys(t *testing.T) {
	idx := NewMemoryIndex()
	live := selfheal.DedupKey("live")
	dead := selfheal.DedupKey("dead")

	now := time.Now()
	if _, err := idx.TryAdmit(context.Background(), live, time.Hour); err != nil {
		t.Fatalf("TryAdmit live: %v", err)
	}
	if _, err := idx.TryAdmit(context.Background(), dead, time.Nanosecond); err != nil {
		t.Fatalf("TryAdmit dead: %v", err)
	}

	if err := idx.EvictExpired(context.Background(), now.Add(time.Second)); err != nil {
		t.Fatalf("EvictExpired: %v", err)
	}

	idx.mu.Lock()
	_, liveStillPresent := idx.entries[live]
	_, deadStillPresent := idx.entries[dead]
	idx.mu.Unlock()

	if !liveStillPresent {
		t.Errorf("expected live (non-expired) key to survive eviction")
	}
	if deadStillPresent {
		t.Errorf("expected dead (expired) key to be evicted")
	}
}

func TestMemoryIndex_DistinctKeysDoNotCollide(t *testing.T) {
	idx := NewMemoryIndex()
	a, err := idx.TryAdmit(context.Background(), selfheal.DedupKey("a"), time.Minute)
	b, err2 := idx.TryAdmit(context.Background(), selfheal.DedupKey("b"), time.Minute)
	if err != nil || err2 != nil {
		t.Fatalf("TryAdmit errors: %v, %v", err, err2)
	}
	if a != Admitted || b != Admitted {
		t.Fatalf("expected distinct keys to both admit, got %v, %v", a, b)
	}
}

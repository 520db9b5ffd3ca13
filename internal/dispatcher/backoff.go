// Package dispatcher implements the uniform activity-invocation surface of
// §4.4: it wraps every collaborator call with a timeout, a circuit breaker,
// exponential backoff with jitter, and journaling of each attempt.
//
// The backoff formula and its jitter derivation are adapted from the
// teacher's internal/attractor/engine/backoff.go (DelayForAttempt,
// jitterUnit), generalized from per-node DOT attributes to the spec's
// per-activity BackoffConfig, and retuned to the spec's defaults
// (base=1s, cap=60s, factor=2, jitter ±25%).
package dispatcher

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"time"
)

// BackoffConfig configures the delay applied between activity attempts.
type BackoffConfig struct {
	BaseMS  int64
	Factor  float64
	CapMS   int64
	Jitter  bool
}

// DefaultBackoffConfig matches §4.3's "base=1s, cap=60s" defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{BaseMS: 1000, Factor: 2.0, CapMS: 60_000, Jitter: true}
}

// DelayForAttempt computes min(cap, base*factor^(attempt-1)*(1±0.25)).
// attempt is 1-indexed: the delay before the *second* call uses attempt=1.
func DelayForAttempt(attempt int, cfg BackoffConfig, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseMS <= 0 {
		return 0
	}
	factor := cfg.Factor
	if factor <= 0 {
		factor = 1.0
	}
	baseMS := float64(cfg.BaseMS) * math.Pow(factor, float64(attempt-1))
	if cfg.CapMS > 0 {
		baseMS = math.Min(baseMS, float64(cfg.CapMS))
	}
	if cfg.Jitter {
		m := 0.75 + 0.5*jitterUnit(jitterSeed) // [0.75, 1.25]
		baseMS *= m
	}
	if baseMS < 0 {
		baseMS = 0
	}
	return time.Duration(baseMS * float64(time.Millisecond))
}

// jitterUnit deterministically maps a seed to [0,1] via SHA-256, so retries
// of the same (case, phase, attempt) triple compute the same delay across
// crash-recovery replays.
func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	u := binary.BigEndian.Uint64(sum[:8])
	const max = float64(^uint64(0))
	return float64(u) / max
}

package dispatcher

import (
	"testing"
	"time"
)

func TestDelayForAttempt_Deterministic(t *testing.T) {
	cfg := DefaultBackoffConfig()
	a := DelayForAttempt(3, cfg, "case-1/patch/3")
	b := DelayForAttempt(3, cfg, "case-1/patch/3")
	if a != b {
		t.Fatalf("expected identical seeds to produce identical delays, got %v vs %v", a, b)
	}
}

func TestDelayForAttempt_DistinctSeedsDiverge(t *testing.T) {
	cfg := DefaultBackoffConfig()
	a := DelayForAttempt(3, cfg, "case-1/patch/3")
	b := DelayForAttempt(3, cfg, "case-2/patch/3")
	if a == b {
		t.Fatalf("expected distinct jitter seeds to (almost certainly) produce distinct delays")
	}
}

func TestDelayForAttempt_GrowsThenCaps(t *testing.T) {
	cfg := BackoffConfig{BaseMS: 1000, Factor: 2.0, CapMS: 5000, Jitter: false}
	d1 := DelayForAttempt(1, cfg, "seed")
	d2 := DelayForAttempt(2, cfg, "seed")
	d3 := DelayForAttempt(3, cfg, "seed")
	d10 := DelayForAttempt(10, cfg, "seed")

	if d1 != time.Second {
		t.Fatalf("expected attempt 1 delay of 1s, got %v", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("expected attempt 2 delay of 2s, got %v", d2)
	}
	if d3 != 4*time.Second {
		t.Fatalf("expected attempt 3 delay of 4s, got %v", d3)
	}
	if d10 != 5*time.Second {
		t.Fatalf("expected attempt 10 delay to be capped at 5s, got %v", d10)
	}
}

func TestDelayForAttempt_JitterStaysWithinBounds(t *testing.T) {
	cfg := BackoffConfig{BaseMS: 1000, Factor: 1.0, CapMS: 60_000, Jitter: true}
	lower := 750 * time.Millisecond
	upper := 1250 * time.Millisecond
	for _, seed := range []string{"a", "b", "c", "d", "e", "f"} {
		d := DelayForAttempt(1, cfg, seed)
		if d < lower || d > upper {
			t.Errorf("seed %q: delay %v outside [%v, %v]", seed, d, lower, upper)
		}
	}
}

func TestDelayForAttempt_ZeroBaseDisablesBackoff(t *testing.T) {
	cfg := BackoffConfig{BaseMS: 0}
	if d := DelayForAttempt(5, cfg, "seed"); d != 0 {
		t.Fatalf("expected zero BaseMS to produce no delay, got %v", d)
	}
}

func TestDelayForAttempt_AttemptBelowOneClampsToOne(t *testing.T) {
	cfg := BackoffConfig{BaseMS: 1000, Factor: 2.0, CapMS: 60_000, Jitter: false}
	if got, want := DelayForAttempt(0, cfg, "seed"), DelayForAttempt(1, cfg, "seed"); got != want {
		t.Fatalf("expected attempt<1 to clamp to attempt=1, got %v want %v", got, want)
	}
}

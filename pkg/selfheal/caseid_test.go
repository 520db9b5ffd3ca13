package selfheal

import (
	"testing"
	"time"
)

func TestNewCaseID_DeterministicAndTrimmed(t *testing.T) {
	a := NewCaseID("org/repo", "run-1", "deadbeef")
	b := NewCaseID(" org/repo ", " run-1 ", " deadbeef ")
	if a != b {
		t.Fatalf("expected whitespace-trimmed identity to match, got %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 16-byte hex digest (32 chars), got %d: %q", len(a), a)
	}
}

func TestNewCaseID_DistinctInputsDiverge(t *testing.T) {
	a := NewCaseID("org/repo", "run-1", "sha1")
	b := NewCaseID("org/repo", "run-2", "sha1")
	if a == b {
		t.Fatalf("expected distinct runIds to produce distinct CaseIDs")
	}
}

func TestFailureEvent_CaseIDMatchesDedupKey(t *testing.T) {
	ev := FailureEvent{Repository: "org/repo", RunID: "run-1", HeadSHA: "sha1"}
	if string(ev.CaseID()) != string(ev.DedupKey()) {
		t.Fatalf("CaseID and DedupKey must share the same hash space")
	}
}

func TestFailureEvent_Validate(t *testing.T) {
	base := FailureEvent{
		Repository: "org/repo",
		RunID:      "run-1",
		HeadSHA:    "sha1",
		Branch:     "main",
		Workflow:   "ci",
		OccurredAt: time.Now(),
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected fully populated event to validate, got %v", err)
	}

	missingField := base
	missingField.Workflow = ""
	if err := missingField.Validate(); err == nil {
		t.Fatalf("expected missing workflow to fail validation")
	}

	zeroTime := base
	zeroTime.OccurredAt = time.Time{}
	if err := zeroTime.Validate(); err == nil {
		t.Fatalf("expected zero OccurredAt to fail validation")
	}
}

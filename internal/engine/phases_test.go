package engine

import (
	"testing"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func TestFailureReasonFor(t *testing.T) {
	cases := []struct {
		kind selfheal.ErrorKind
		want selfheal.FailureReason
	}{
		{selfheal.KindInvalidInput, selfheal.ReasonContract},
		{selfheal.KindTimeout, selfheal.ReasonTimeout},
		{selfheal.KindCancelled, selfheal.ReasonCancelled},
		{selfheal.KindPatchInvalid, selfheal.ReasonPatchExhausted},
		{selfheal.KindTestFailed, selfheal.ReasonTestFailed},
		{selfheal.KindProofFailed, selfheal.ReasonProofFailed},
		{selfheal.KindMergeBlocked, selfheal.ReasonMergeBlocked},
		{selfheal.KindInternal, selfheal.ReasonInternal},
		{selfheal.KindCompilationFailed, selfheal.ReasonInternal},
	}
	for _, c := range cases {
		if got := failureReasonFor(c.kind); got != c.want {
			t.Errorf("failureReasonFor(%s) = %s, want %s", c.kind, got, c.want)
		}
	}
}

func TestEvaluateProofVerdict_NoInvariantsTriviallyPasses(t *testing.T) {
	pass, failed := evaluateProofVerdict(selfheal.ProverResponse{}, nil, "medium")
	if !pass || failed != nil {
		t.Fatalf("expected an empty invariant set to trivially pass, got pass=%v failed=%v", pass, failed)
	}
}

func TestEvaluateProofVerdict_OnlyAtOrAboveThresholdAreRequired(t *testing.T) {
	invariants := []selfheal.InvariantSpec{
		{Name: "low-inv", Criticality: "low"},
		{Name: "high-inv", Criticality: "high"},
	}
	resp := selfheal.ProverResponse{Theorems: []selfheal.TheoremResult{
		{Name: "low-inv", Verdict: "sorry"},
		{Name: "high-inv", Verdict: "proven"},
	}}
	pass, failed := evaluateProofVerdict(resp, invariants, "medium")
	if !pass || failed != nil {
		t.Fatalf("expected below-threshold invariant verdict to be irrelevant, got pass=%v failed=%v", pass, failed)
	}
}

func TestEvaluateProofVerdict_UnprovenRequiredInvariantFails(t *testing.T) {
	invariants := []selfheal.InvariantSpec{
		{Name: "critical-inv", Criticality: "critical"},
	}
	resp := selfheal.ProverResponse{Theorems: []selfheal.TheoremResult{
		{Name: "critical-inv", Verdict: "sorry"},
	}}
	pass, failed := evaluateProofVerdict(resp, invariants, "medium")
	if pass || len(failed) != 1 || failed[0] != "critical-inv" {
		t.Fatalf("expected an unproven required invariant to fail, got pass=%v failed=%v", pass, failed)
	}
}

func TestEvaluateProofVerdict_MissingTheoremForRequiredInvariantFails(t *testing.T) {
	invariants := []selfheal.InvariantSpec{
		{Name: "required-inv", Criticality: "high"},
	}
	pass, failed := evaluateProofVerdict(selfheal.ProverResponse{}, invariants, "medium")
	if pass || len(failed) != 1 {
		t.Fatalf("expected a required invariant with no theorem result to count as failed, got pass=%v failed=%v", pass, failed)
	}
}

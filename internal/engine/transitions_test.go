package engine

import (
	"testing"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func TestIsValidTransition_ForwardEdges(t *testing.T) {
	cases := []struct {
		from, to selfheal.State
		want     bool
	}{
		{selfheal.StateNew, selfheal.StateDiagnose, true},
		{selfheal.StateDiagnose, selfheal.StatePatch, true},
		{selfheal.StateDiagnose, selfheal.StateTest, true},
		{selfheal.StatePatch, selfheal.StateTest, true},
		{selfheal.StatePatch, selfheal.StateDiagnose, true},
		{selfheal.StateTest, selfheal.StateProve, true},
		{selfheal.StateTest, selfheal.StateDiagnose, true},
		{selfheal.StateProve, selfheal.StateMerge, true},
		{selfheal.StateMerge, selfheal.StateDone, true},
		{selfheal.StateNew, selfheal.StatePatch, false},
		{selfheal.StateDiagnose, selfheal.StateMerge, false},
		{selfheal.StateProve, selfheal.StateDiagnose, false},
	}
	for _, c := range cases {
		if got := IsValidTransition(c.from, c.to); got != c.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsValidTransition_FailureEdgeFromAnyNonTerminalState(t *testing.T) {
	for _, s := range []selfheal.State{
		selfheal.StateNew, selfheal.StateDiagnose, selfheal.StatePatch,
		selfheal.StateTest, selfheal.StateProve, selfheal.StateMerge,
	} {
		if !IsValidTransition(s, selfheal.StateFailed) {
			t.Errorf("expected %s -> FAILED to be a legal edge", s)
		}
	}
}

func TestIsValidTransition_TerminalStatesAreAbsorbing(t *testing.T) {
	for _, from := range []selfheal.State{selfheal.StateDone, selfheal.StateFailed} {
		for _, to := range []selfheal.State{selfheal.StateNew, selfheal.StateDiagnose, selfheal.StateDone, selfheal.StateFailed} {
			if IsValidTransition(from, to) {
				t.Errorf("expected no edge out of terminal state %s (to %s)", from, to)
			}
		}
	}
}

func TestIsFeedbackEdge(t *testing.T) {
	if !IsFeedbackEdge(selfheal.StatePatch, selfheal.StateDiagnose) {
		t.Errorf("expected PATCH -> DIAGNOSE to be a feedback edge")
	}
	if !IsFeedbackEdge(selfheal.StateTest, selfheal.StateDiagnose) {
		t.Errorf("expected TEST -> DIAGNOSE to be a feedback edge")
	}
	if IsFeedbackEdge(selfheal.StateNew, selfheal.StateDiagnose) {
		t.Errorf("expected NEW -> DIAGNOSE to not be a feedback edge")
	}
	if IsFeedbackEdge(selfheal.StateDiagnose, selfheal.StatePatch) {
		t.Errorf("expected DIAGNOSE -> PATCH to not be a feedback edge")
	}
}

func TestValidatePath(t *testing.T) {
	good := []selfheal.State{
		selfheal.StateNew, selfheal.StateDiagnose, selfheal.StatePatch,
		selfheal.StateTest, selfheal.StateProve, selfheal.StateMerge, selfheal.StateDone,
	}
	if !ValidatePath(good) {
		t.Fatalf("expected full happy path to validate")
	}

	withFeedback := []selfheal.State{
		selfheal.StateNew, selfheal.StateDiagnose, selfheal.StatePatch,
		selfheal.StateDiagnose, selfheal.StatePatch, selfheal.StateTest,
	}
	if !ValidatePath(withFeedback) {
		t.Fatalf("expected a path with a PATCH -> DIAGNOSE feedback edge to validate")
	}

	if ValidatePath([]selfheal.State{selfheal.StateDiagnose}) {
		t.Fatalf("expected a path not starting at NEW to be invalid")
	}

	trailingAfterTerminal := []selfheal.State{selfheal.StateNew, selfheal.StateFailed, selfheal.StateDiagnose}
	if ValidatePath(trailingAfterTerminal) {
		t.Fatalf("expected a path continuing after a terminal state to be invalid")
	}

	if !ValidatePath(nil) {
		t.Fatalf("expected an empty path to trivially validate")
	}
}

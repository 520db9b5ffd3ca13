// Package engine implements the durable, deterministic state-machine driver
// described in §4.3 of the specification: it advances a Case through
// NEW -> DIAGNOSE -> PATCH -> TEST -> PROVE -> MERGE -> DONE|FAILED,
// invoking collaborators through the dispatcher, retrying and
// compensating per the configured policy, and journaling every step.
//
// The shape of this package is grounded on the teacher's
// internal/attractor/engine: Engine.runLoop's single-threaded per-case
// traversal, executeWithRetry's attempt/backoff loop, and
// finalizeTerminal's absorbing-state handling all have direct analogues
// here, generalized from an arbitrary DOT graph to the spec's fixed
// seven-phase graph.
package engine

import "github.com/fraware/self-healing-ci/pkg/selfheal"

// forwardEdges enumerates the declared transition graph of §4.3, excluding
// the universal "-> FAILED" edge which every non-terminal state carries
// implicitly (checked separately in IsValidTransition).
var forwardEdges = map[selfheal.State][]selfheal.State{
	selfheal.StateNew:      {selfheal.StateDiagnose},
	selfheal.StateDiagnose: {selfheal.StatePatch, selfheal.StateTest},
	selfheal.StatePatch:    {selfheal.StateTest, selfheal.StateDiagnose},
	selfheal.StateTest:     {selfheal.StateProve, selfheal.StateDiagnose},
	selfheal.StateProve:    {selfheal.StateMerge},
	selfheal.StateMerge:    {selfheal.StateDone},
}

// IsValidTransition reports whether from -> to is a legal edge in the
// declared transition graph: a forward edge, the retry edges
// PATCH->DIAGNOSE / TEST->DIAGNOSE, or the universal failure edge out of any
// non-terminal state. Terminal states (DONE, FAILED) are absorbing — no
// edge ever leaves them (§8 invariant 6).
func IsValidTransition(from, to selfheal.State) bool {
	if from.Terminal() {
		return false
	}
	if to == selfheal.StateFailed {
		return true
	}
	for _, candidate := range forwardEdges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsFeedbackEdge reports whether from->to is a feedback edge (re-entering
// DIAGNOSE with enriched context) rather than a forward transition or a
// same-phase retry. Per §9, feedback edges are modeled as distinct graph
// edges, not as dispatcher-level retries of the same activity.
func IsFeedbackEdge(from, to selfheal.State) bool {
	return to == selfheal.StateDiagnose && (from == selfheal.StatePatch || from == selfheal.StateTest)
}

// ValidatePath checks that a sequence of states is a prefix of a path
// through the declared graph, starting at NEW (§8 invariant 1). It is used
// directly by tests asserting the round-trip/replay properties, and by
// Engine.applyTransition as a defensive check before every journal append.
func ValidatePath(states []selfheal.State) bool {
	if len(states) == 0 {
		return true
	}
	if states[0] != selfheal.StateNew {
		return false
	}
	for i := 1; i < len(states); i++ {
		if !IsValidTransition(states[i-1], states[i]) {
			return false
		}
		if states[i-1].Terminal() {
			return false
		}
	}
	return true
}

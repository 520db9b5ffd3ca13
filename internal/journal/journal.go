// Package journal defines the append-only durable log described in §4.5:
// the journal is the source of truth for a Case; the in-memory Case held by
// the engine is always a projection rebuilt from it. Two reference
// implementations are provided — an in-memory store for tests and
// single-process demos, and a Postgres-backed store (internal/journal/sql)
// grounded on the append-only-table patterns used throughout
// jordigilh-kubernaut's datastorage tests.
package journal

import (
	"context"
	"time"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Journal is the durable per-case append-only log interface of §4.5.
// Implementations MUST serialize appends within a case (seq increases by
// exactly one per append) and MAY process appends to distinct cases
// concurrently.
type Journal interface {
	// Append writes the next entry for caseID. The implementation assigns
	// Seq; the returned entry reflects the assigned value.
	Append(ctx context.Context, caseID selfheal.CaseID, kind selfheal.JournalEntryKind, payload map[string]any) (selfheal.JournalEntry, error)

	// ReadAll returns every entry for caseID in seq order.
	ReadAll(ctx context.Context, caseID selfheal.CaseID) ([]selfheal.JournalEntry, error)

	// Snapshot persists an accelerant projection of the Case alongside the
	// entry log. It is advisory: a correct Journal works without ever being
	// asked to snapshot.
	Snapshot(ctx context.Context, c *selfheal.Case) error

	// LoadSnapshot returns the most recent snapshot for caseID, if any.
	LoadSnapshot(ctx context.Context, caseID selfheal.CaseID) (*selfheal.Case, bool, error)

	// Compact may discard entries made redundant by a snapshot. Optional
	// acceleration; a no-op implementation is conformant.
	Compact(ctx context.Context, caseID selfheal.CaseID) error

	// ListActive returns the IDs of every case whose last StateTransition
	// entry is not a terminal state — the crash-recovery sweep the engine
	// runs at startup (§4.5 Recovery).
	ListActive(ctx context.Context) ([]selfheal.CaseID, error)
}

// PendingActivity describes a journaled ActivityAttempt with no matching
// ActivityResult — the "unknown" outcome §4.3 says is retried at-most-once
// more on recovery.
type PendingActivity struct {
	Phase   selfheal.Phase
	Attempt int
	Name    string
}

// FindPendingActivity scans entries (already in seq order) for a trailing
// ActivityAttempt with no following ActivityResult for the same
// (phase, attempt, name) triple. Returns ok=false when the last recorded
// activity completed normally.
func FindPendingActivity(entries []selfheal.JournalEntry) (PendingActivity, bool) {
	var lastAttempt *PendingActivity
	var lastAttemptSeq uint64
	for _, e := range entries {
		switch e.Kind {
		case selfheal.KindActivityAttempt:
			p := PendingActivity{
				Phase:   selfheal.Phase(asString(e.Payload["phase"])),
				Attempt: asInt(e.Payload["attempt"]),
				Name:    asString(e.Payload["name"]),
			}
			lastAttempt = &p
			lastAttemptSeq = e.Seq
		case selfheal.KindActivityResult:
			if lastAttempt != nil &&
				selfheal.Phase(asString(e.Payload["phase"])) == lastAttempt.Phase &&
				asInt(e.Payload["attempt"]) == lastAttempt.Attempt &&
				e.Seq > lastAttemptSeq {
				lastAttempt = nil
			}
		}
	}
	if lastAttempt == nil {
		return PendingActivity{}, false
	}
	return *lastAttempt, true
}

// Project rebuilds a Case from its full entry log, per §4.5's recovery
// contract: "the last StateTransition entry determines current state".
// identity fields (repository/runId/headSha/branch/workflow) must be
// supplied by the caller since they are not re-derived from the log.
func Project(id selfheal.CaseID, identity selfheal.Case, entries []selfheal.JournalEntry) *selfheal.Case {
	c := identity.Clone()
	c.ID = id
	if c.Attempt == nil {
		c.Attempt = map[selfheal.Phase]int{}
	}
	if c.State == "" {
		c.State = selfheal.StateNew
	}
	for _, e := range entries {
		if e.Seq > c.Seq {
			c.Seq = e.Seq
		}
		switch e.Kind {
		case selfheal.KindStateTransition:
			to := selfheal.State(asString(e.Payload["to"]))
			if to != "" {
				c.State = to
			}
			if reason := asString(e.Payload["reason"]); reason != "" {
				c.FailureReason = selfheal.FailureReason(reason)
			}
			c.LastTransitionAt = e.Timestamp
		case selfheal.KindActivityAttempt:
			phase := selfheal.Phase(asString(e.Payload["phase"]))
			if attempt := asInt(e.Payload["attempt"]); attempt > c.Attempt[phase] {
				c.Attempt[phase] = attempt
			}
		case selfheal.KindError:
			if msg := asString(e.Payload["message"]); msg != "" {
				c.Warnings = append(c.Warnings, msg)
			}
		}
	}
	if c.StartedAt.IsZero() && len(entries) > 0 {
		c.StartedAt = entries[0].Timestamp
	}
	return c
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// clockNow is overridable in tests that need deterministic timestamps.
var clockNow = time.Now

package selfheal

import "time"

// EventType enumerates the typed lifecycle events of §4.8.
type EventType string

const (
	EventStateNew        EventType = "state.new"
	EventStateDiagnose    EventType = "state.diagnose"
	EventStatePatch       EventType = "state.patch"
	EventStateTest        EventType = "state.test"
	EventStateProve       EventType = "state.prove"
	EventStateMerge       EventType = "state.merge"
	EventStateDone        EventType = "state.done"
	EventStateFailed      EventType = "state.failed"
	EventActivityAttempt EventType = "activity.attempt"
	EventActivityResult  EventType = "activity.result"
	EventDedupHit        EventType = "dedup.hit"
)

// Event is the envelope emitted to the configured sink on every state
// transition and activity attempt/result.
type Event struct {
	ID         string         `json:"id,omitempty"`
	Type       EventType      `json:"type"`
	CaseID     CaseID         `json:"caseId"`
	Repository string         `json:"repository"`
	RunID      string         `json:"runId"`
	HeadSHA    string         `json:"headSha"`
	State      State          `json:"state"`
	Attempt    int            `json:"attempt,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// JournalEntryKind enumerates the append-only journal's entry kinds.
type JournalEntryKind string

const (
	KindStateTransition JournalEntryKind = "StateTransition"
	KindActivityAttempt JournalEntryKind = "ActivityAttempt"
	KindActivityResult  JournalEntryKind = "ActivityResult"
	KindEmitted         JournalEntryKind = "Emitted"
	KindError           JournalEntryKind = "Error"
)

// JournalEntry is one append-only record in a Case's durable log. Seq is a
// per-case monotonically increasing integer assigned by the Journal
// implementation at append time.
type JournalEntry struct {
	CaseID    CaseID           `json:"caseId"`
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Kind      JournalEntryKind `json:"kind"`
	Payload   map[string]any   `json:"payload"`
}

// StateTransitionPayload is the Payload shape for KindStateTransition entries.
type StateTransitionPayload struct {
	From   State         `json:"from"`
	To     State         `json:"to"`
	Reason FailureReason `json:"reason,omitempty"`
}

// ActivityAttemptPayload is the Payload shape for KindActivityAttempt entries.
// CorrelationID ties an attempt to its eventual result entry and to whatever
// log lines the collaborator itself emits for the same RPC.
type ActivityAttemptPayload struct {
	Phase         Phase  `json:"phase"`
	Attempt       int    `json:"attempt"`
	Name          string `json:"name"`
	CorrelationID string `json:"correlationId"`
}

// ActivityResultPayload is the Payload shape for KindActivityResult entries.
type ActivityResultPayload struct {
	Phase         Phase     `json:"phase"`
	Attempt       int       `json:"attempt"`
	Name          string    `json:"name"`
	CorrelationID string    `json:"correlationId"`
	Success       bool      `json:"success"`
	ErrorKind     ErrorKind `json:"errorKind,omitempty"`
	Summary       string    `json:"summary,omitempty"`
}

func (p StateTransitionPayload) Map() map[string]any {
	return map[string]any{"from": string(p.From), "to": string(p.To), "reason": string(p.Reason)}
}

func (p ActivityAttemptPayload) Map() map[string]any {
	return map[string]any{
		"phase": string(p.Phase), "attempt": p.Attempt, "name": p.Name,
		"correlationId": p.CorrelationID,
	}
}

func (p ActivityResultPayload) Map() map[string]any {
	return map[string]any{
		"phase": string(p.Phase), "attempt": p.Attempt, "name": p.Name,
		"correlationId": p.CorrelationID,
		"success":       p.Success, "errorKind": string(p.ErrorKind), "summary": p.Summary,
	}
}

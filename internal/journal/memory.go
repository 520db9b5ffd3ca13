package journal

import (
	"context"
	"sync"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// MemoryJournal is an in-process Journal keyed by CaseID, partitioned the
// way §5 requires: appends within a case are serialized by the per-case
// mutex; different cases proceed independently.
type MemoryJournal struct {
	mu        sync.Mutex
	entries   map[selfheal.CaseID][]selfheal.JournalEntry
	snapshots map[selfheal.CaseID]*selfheal.Case
}

// NewMemoryJournal constructs an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entries:   map[selfheal.CaseID][]selfheal.JournalEntry{},
		snapshots: map[selfheal.CaseID]*selfheal.Case{},
	}
}

func (j *MemoryJournal) Append(ctx context.Context, caseID selfheal.CaseID, kind selfheal.JournalEntryKind, payload map[string]any) (selfheal.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	seq := uint64(len(j.entries[caseID])) + 1
	entry := selfheal.JournalEntry{
		CaseID:    caseID,
		Seq:       seq,
		Timestamp: clockNow().UTC(),
		Kind:      kind,
		Payload:   payload,
	}
	j.entries[caseID] = append(j.entries[caseID], entry)
	return entry, nil
}

func (j *MemoryJournal) ReadAll(ctx context.Context, caseID selfheal.CaseID) ([]selfheal.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]selfheal.JournalEntry, len(j.entries[caseID]))
	copy(out, j.entries[caseID])
	return out, nil
}

func (j *MemoryJournal) Snapshot(ctx context.Context, c *selfheal.Case) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots[c.ID] = c.Clone()
	return nil
}

func (j *MemoryJournal) LoadSnapshot(ctx context.Context, caseID selfheal.CaseID) (*selfheal.Case, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	c, ok := j.snapshots[caseID]
	if !ok {
		return nil, false, nil
	}
	return c.Clone(), true, nil
}

func (j *MemoryJournal) Compact(ctx context.Context, caseID selfheal.CaseID) error {
	return nil
}

func (j *MemoryJournal) ListActive(ctx context.Context) ([]selfheal.CaseID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []selfheal.CaseID
	for id, entries := range j.entries {
		if len(entries) == 0 {
			continue
		}
		state := selfheal.StateNew
		for _, e := range entries {
			if e.Kind == selfheal.KindStateTransition {
				if to, ok := e.Payload["to"].(string); ok {
					state = selfheal.State(to)
				}
			}
		}
		if !state.Terminal() {
			out = append(out, id)
		}
	}
	return out, nil
}

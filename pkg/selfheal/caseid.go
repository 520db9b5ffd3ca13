package selfheal

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// CaseID is the stable identity of a Case, derived from
// hash(repository || runId || headSha). It is recomputed identically across
// restarts so recovery never needs a separate lookup table.
type CaseID string

// NewCaseID hashes the admission triple with BLAKE3, the same primitive the
// teacher uses for content-addressing CXDB turns.
func NewCaseID(repository, runID, headSHA string) CaseID {
	h := blake3.New()
	_, _ = h.Write([]byte(strings.TrimSpace(repository)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.TrimSpace(runID)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strings.TrimSpace(headSHA)))
	sum := h.Sum(nil)
	return CaseID(hex.EncodeToString(sum[:16]))
}

func (c CaseID) String() string { return string(c) }

// DedupKey is the key space used by the Deduplication Index. It shares the
// same hash as CaseID: a (repo, run, head) triple admits at most one Case.
type DedupKey string

// NewDedupKey computes the admission key for a FailureEvent.
func NewDedupKey(repository, runID, headSHA string) DedupKey {
	return DedupKey(NewCaseID(repository, runID, headSHA))
}

func (e FailureEvent) CaseID() CaseID {
	return NewCaseID(e.Repository, e.RunID, e.HeadSHA)
}

func (e FailureEvent) DedupKey() DedupKey {
	return NewDedupKey(e.Repository, e.RunID, e.HeadSHA)
}

// Validate performs cheap structural checks beyond struct tags, mirroring
// the engine's "strict typed records at boundaries" design note.
func (e FailureEvent) Validate() error {
	if strings.TrimSpace(e.Repository) == "" {
		return fmt.Errorf("repository is required")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("runId is required")
	}
	if strings.TrimSpace(e.HeadSHA) == "" {
		return fmt.Errorf("headSha is required")
	}
	if strings.TrimSpace(e.Branch) == "" {
		return fmt.Errorf("branch is required")
	}
	if strings.TrimSpace(e.Workflow) == "" {
		return fmt.Errorf("workflow is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurredAt is required")
	}
	return nil
}

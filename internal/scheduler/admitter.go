// Package scheduler implements the Admitter and worker pool of §4.1/§4.2:
// ingress validation and deduplication, a bounded FIFO admission queue, and
// parallel workers each driving one Case at a time through the Engine.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/dedup"
	"github.com/fraware/self-healing-ci/internal/engine"
	"github.com/fraware/self-healing-ci/internal/events"
	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// IngressError distinguishes the admitter's rejection reasons from the
// generic selfheal.Error taxonomy; none of these ever reach a Case since
// rejection happens before one is created.
type IngressError string

const (
	IngressRejected  IngressError = "INGRESS_REJECTED"
	IngressStale     IngressError = "INGRESS_STALE"
	IngressBackpress IngressError = "BACKPRESSURE"
)

func (e IngressError) Error() string { return string(e) }

// Admitter consumes FailureEvents, enforces dedup and eligibility, and
// enqueues admitted Cases for the worker pool.
type Admitter struct {
	dedup             dedup.Index
	journal           journal.Journal
	emitter           *events.Emitter
	queue             chan *selfheal.Case
	dedupTTL          time.Duration
	staleCutoff       time.Duration
	eligibleWorkflows []string
	logger            *zap.Logger
	clock             func() time.Time

	// admitMu serializes the capacity-check-through-enqueue sequence in
	// Admit so a BACKPRESSURE rejection can never race with another Admit
	// call sneaking into the last queue slot after capacity was confirmed
	// free but before the dedup/journal/emit side effects it gates.
	admitMu sync.Mutex
}

// NewAdmitter builds an Admitter with a queue bounded by bufSize (§5's
// "bounded buffer, default 1000").
func NewAdmitter(idx dedup.Index, j journal.Journal, emitter *events.Emitter, bufSize int, dedupTTL, staleCutoff time.Duration, eligibleWorkflows []string, logger *zap.Logger) *Admitter {
	return &Admitter{
		dedup:             idx,
		journal:           j,
		emitter:           emitter,
		queue:             make(chan *selfheal.Case, bufSize),
		dedupTTL:          dedupTTL,
		staleCutoff:       staleCutoff,
		eligibleWorkflows: eligibleWorkflows,
		logger:            logger,
		clock:             time.Now,
	}
}

// Queue exposes the admission channel for the worker pool to drain.
func (a *Admitter) Queue() <-chan *selfheal.Case { return a.queue }

// Admit validates ev, checks eligibility and staleness, deduplicates, and
// (on success) journals the case's birth and enqueues it for scheduling.
func (a *Admitter) Admit(ctx context.Context, ev selfheal.FailureEvent) (*selfheal.Case, error) {
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", IngressRejected, err)
	}
	if !a.workflowEligible(ev.Workflow) {
		return nil, fmt.Errorf("%w: workflow %q is not in the eligible set", IngressRejected, ev.Workflow)
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = a.clock()
	}
	if a.staleCutoff > 0 && ev.ReceivedAt.Sub(ev.OccurredAt) > a.staleCutoff {
		return nil, fmt.Errorf("%w: event occurred %s before admission, exceeding staleCutoff", IngressStale, ev.ReceivedAt.Sub(ev.OccurredAt))
	}

	// Capacity is checked and reserved before the dedup key is burned or
	// any journal/emit side effect happens: a BACKPRESSURE rejection must
	// never leave behind a Case nobody will run, or the caller's
	// spec-mandated retry of the same event would be silently swallowed as
	// a dedup hit for the rest of the TTL window instead of actually being
	// admitted once room frees up.
	a.admitMu.Lock()
	defer a.admitMu.Unlock()
	if len(a.queue) >= cap(a.queue) {
		return nil, fmt.Errorf("%w: admission queue is full", IngressBackpress)
	}

	key := ev.DedupKey()
	outcome, err := a.dedup.TryAdmit(ctx, key, a.dedupTTL)
	if err != nil {
		return nil, fmt.Errorf("dedup admission check: %w", err)
	}
	caseID := ev.CaseID()
	if outcome == dedup.Duplicate {
		a.emitter.Emit(ctx, selfheal.Event{
			Type: selfheal.EventDedupHit, CaseID: caseID, Repository: ev.Repository,
			RunID: ev.RunID, HeadSHA: ev.HeadSHA, Timestamp: a.clock(),
		})
		return nil, nil
	}

	c := engine.NewCase(caseID, ev)
	if _, err := a.journal.Append(ctx, caseID, selfheal.KindStateTransition,
		selfheal.StateTransitionPayload{From: "", To: selfheal.StateNew}.Map()); err != nil {
		return nil, fmt.Errorf("journal case creation: %w", err)
	}
	a.emitter.Emit(ctx, selfheal.Event{
		Type: selfheal.EventStateNew, CaseID: caseID, Repository: ev.Repository,
		RunID: ev.RunID, HeadSHA: ev.HeadSHA, State: selfheal.StateNew, Timestamp: a.clock(),
	})

	// The capacity check above was taken under admitMu, which only Admit
	// contends on, so the slot reserved there is still free here; the
	// select remains non-blocking defense in depth rather than the load-
	// bearing check.
	select {
	case a.queue <- c:
		return c, nil
	default:
		return nil, fmt.Errorf("%w: admission queue is full", IngressBackpress)
	}
}

func (a *Admitter) workflowEligible(workflow string) bool {
	for _, pattern := range a.eligibleWorkflows {
		if pattern == "*" {
			return true
		}
		if ok, _ := doublestar.Match(pattern, workflow); ok {
			return true
		}
	}
	return false
}

// Enqueue pushes an already-constructed Case directly onto the queue,
// bypassing dedup — used by the recovery sweep to resume in-flight cases
// after a restart, which must never be treated as new admissions.
func (a *Admitter) Enqueue(ctx context.Context, c *selfheal.Case) error {
	select {
	case a.queue <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/activities"
	"github.com/fraware/self-healing-ci/internal/config"
	"github.com/fraware/self-healing-ci/internal/dispatcher"
	"github.com/fraware/self-healing-ci/internal/events"
	"github.com/fraware/self-healing-ci/internal/failurereport"
	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Collaborators bundles the four analyzer clients plus the merger — the
// engine's only outbound dependencies besides the Journal and the Emitter.
type Collaborators struct {
	Diagnoser  activities.Diagnoser
	Patcher    activities.Patcher
	TestRunner activities.TestRunner
	Prover     activities.Prover
	Merger     activities.Merger
}

// Engine drives a single Case through NEW -> ... -> DONE|FAILED. One Engine
// instance is shared by every worker in the pool; its only per-case state
// is the *selfheal.Case each worker passes in, so it is itself stateless
// and safe for concurrent use across distinct cases.
type Engine struct {
	journal     journal.Journal
	dispatcher  *dispatcher.Dispatcher
	emitter     *events.Emitter
	assembler   *failurereport.Assembler
	collabs     Collaborators
	cfg         config.File
	logger      *zap.Logger
	now         func() time.Time
}

// New constructs an Engine. cfg is read once per Run call via cfgFn so the
// engine always sees the live, hot-reloaded snapshot.
func New(j journal.Journal, d *dispatcher.Dispatcher, emitter *events.Emitter, assembler *failurereport.Assembler, collabs Collaborators, cfg config.File, logger *zap.Logger) *Engine {
	return &Engine{
		journal:    j,
		dispatcher: d,
		emitter:    emitter,
		assembler:  assembler,
		collabs:    collabs,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// SetConfig swaps the configuration snapshot the engine reads on the next
// case step (used by callers wiring a config.Watcher).
func (e *Engine) SetConfig(cfg config.File) { e.cfg = cfg }

// Recover returns the IDs of every case whose last recorded transition is
// non-terminal, per §4.5's startup recovery sweep.
func (e *Engine) Recover(ctx context.Context) ([]selfheal.CaseID, error) {
	return e.journal.ListActive(ctx)
}

// LoadCase rebuilds a Case projection from its journal, seeded with the
// identity fields the journal does not carry.
func (e *Engine) LoadCase(ctx context.Context, id selfheal.CaseID, identity selfheal.Case) (*selfheal.Case, error) {
	entries, err := e.journal.ReadAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read journal for case %s: %w", id, err)
	}
	return journal.Project(id, identity, entries), nil
}

// NewCase creates the NEW-state projection for a freshly admitted event
// and writes its identity to the journal via the first state transition
// step (performed by Run, not here, so that the very first journal entry
// for a case is always a StateTransition into DIAGNOSE, matching scenario
// 1's "journal contains exactly one attempt per phase").
func NewCase(id selfheal.CaseID, ev selfheal.FailureEvent) *selfheal.Case {
	return &selfheal.Case{
		ID:         id,
		Repository: ev.Repository,
		RunID:      ev.RunID,
		HeadSHA:    ev.HeadSHA,
		Branch:     ev.Branch,
		Workflow:   ev.Workflow,
		State:      selfheal.StateNew,
		Attempt:    map[selfheal.Phase]int{},
	}
}

// Run advances c through the state machine until it reaches a terminal
// state or ctx is cancelled. It is safe to call Run again on a Case loaded
// via LoadCase after a crash: every step re-checks the deadline and
// journal state before acting.
func (e *Engine) Run(ctx context.Context, c *selfheal.Case) error {
	for !c.State.Terminal() {
		if c.Expired(e.now()) {
			return e.transition(ctx, c, selfheal.StateFailed, selfheal.ReasonTimeout)
		}
		select {
		case <-ctx.Done():
			_ = e.transition(ctx, c, selfheal.StateFailed, selfheal.ReasonCancelled)
			return ctx.Err()
		default:
		}

		if err := e.step(ctx, c); err != nil {
			if _, ok := err.(*selfheal.Error); !ok {
				return fmt.Errorf("case %s step in state %s: %w", c.ID, c.State, err)
			}
			return err
		}
	}
	return nil
}

func (e *Engine) step(ctx context.Context, c *selfheal.Case) error {
	switch c.State {
	case selfheal.StateNew:
		return e.stepNew(ctx, c)
	case selfheal.StateDiagnose:
		return e.stepDiagnose(ctx, c)
	case selfheal.StatePatch:
		return e.stepPatch(ctx, c)
	case selfheal.StateTest:
		return e.stepTest(ctx, c)
	case selfheal.StateProve:
		return e.stepProve(ctx, c)
	case selfheal.StateMerge:
		return e.stepMerge(ctx, c)
	default:
		return fmt.Errorf("no step handler for state %s", c.State)
	}
}

// transition journals and applies from -> to, emitting the matching
// lifecycle event. It is the only path by which c.State changes, so every
// change is durable before it is observed in memory (§9: "refuses to
// advance a case until the post-transition append has durably completed").
func (e *Engine) transition(ctx context.Context, c *selfheal.Case, to selfheal.State, reason selfheal.FailureReason) error {
	if !IsValidTransition(c.State, to) {
		return selfheal.New(selfheal.KindInternal, fmt.Sprintf("illegal transition %s -> %s", c.State, to), nil)
	}
	from := c.State
	entry, err := e.journal.Append(ctx, c.ID, selfheal.KindStateTransition,
		selfheal.StateTransitionPayload{From: from, To: to, Reason: reason}.Map())
	if err != nil {
		return selfheal.New(selfheal.KindInternal, "failed to journal state transition", err)
	}

	c.State = to
	c.Seq = entry.Seq
	c.LastTransitionAt = entry.Timestamp
	if reason != selfheal.ReasonNone {
		c.FailureReason = reason
	}

	e.emitter.Emit(ctx, selfheal.Event{
		Type:       eventTypeFor(to),
		CaseID:     c.ID,
		Repository: c.Repository,
		RunID:      c.RunID,
		HeadSHA:    c.HeadSHA,
		State:      to,
		Timestamp:  entry.Timestamp,
		Data:       map[string]any{"reason": string(reason)},
	})
	return nil
}

func eventTypeFor(s selfheal.State) selfheal.EventType {
	switch s {
	case selfheal.StateNew:
		return selfheal.EventStateNew
	case selfheal.StateDiagnose:
		return selfheal.EventStateDiagnose
	case selfheal.StatePatch:
		return selfheal.EventStatePatch
	case selfheal.StateTest:
		return selfheal.EventStateTest
	case selfheal.StateProve:
		return selfheal.EventStateProve
	case selfheal.StateMerge:
		return selfheal.EventStateMerge
	case selfheal.StateDone:
		return selfheal.EventStateDone
	default:
		return selfheal.EventStateFailed
	}
}

package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Dispatcher is the uniform activity-invocation surface of §4.4: every call
// into a collaborator (Diagnoser, Patcher, TestRunner, Prover, Merger)
// passes through Invoke, which applies the activity's configured timeout,
// trips a per-activity circuit breaker on repeated failure, and journals
// the attempt and its result before returning.
//
// Grounded on the teacher's executeWithRetry loop in
// internal/attractor/engine: the attempt/journal/backoff sequencing here is
// the same shape, generalized from a single embedded executor to five
// distinct external collaborators reached over whatever transport each
// activities.* implementation chooses.
type Dispatcher struct {
	journal     journal.Journal
	descriptors map[selfheal.ActivityName]selfheal.ActivityDescriptor
	breakers    map[selfheal.ActivityName]*gobreaker.CircuitBreaker
	backoff     BackoffConfig
	logger      *zap.Logger
}

// New constructs a Dispatcher. descriptors supplies the per-activity
// timeout/retry policy; a gobreaker.CircuitBreaker is created per activity
// name with settings grounded on jordigilh-kubernaut's
// circuitbreaker.NewManager usage (trip after 3 consecutive failures,
// half-open probe after 30s).
func New(j journal.Journal, descriptors []selfheal.ActivityDescriptor, backoff BackoffConfig, logger *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		journal:     j,
		descriptors: map[selfheal.ActivityName]selfheal.ActivityDescriptor{},
		breakers:    map[selfheal.ActivityName]*gobreaker.CircuitBreaker{},
		backoff:     backoff,
		logger:      logger,
	}
	for _, desc := range descriptors {
		d.descriptors[desc.Name] = desc
		name := desc.Name
		d.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(name),
			MaxRequests: 2,
			Interval:    10 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(bname string, from, to gobreaker.State) {
				if logger != nil {
					logger.Warn("circuit breaker state change", zap.String("activity", bname), zap.String("from", from.String()), zap.String("to", to.String()))
				}
			},
		})
	}
	return d
}

// Call is the function signature every activities.* client implements:
// a single RPC attempt to a collaborator, returning a typed response or a
// *selfheal.Error already classified by the collaborator client itself
// (falling back to Classify when it isn't).
type Call[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Invoke runs one attempt of the named activity for caseID's phase: it
// journals an ActivityAttempt entry, runs call under the activity's
// timeout and circuit breaker, classifies any error, and journals the
// matching ActivityResult entry before returning.
//
// attempt is 1-indexed and supplied by the engine, which owns the
// phase-level retry loop and decides (per §4.3's policy table) whether a
// classified error should be retried, should trigger a feedback edge, or
// should fail the case.
func Invoke[Req, Resp any](ctx context.Context, d *Dispatcher, caseID selfheal.CaseID, phase selfheal.Phase, name selfheal.ActivityName, attempt int, req Req, call Call[Req, Resp]) (Resp, *selfheal.Error) {
	var zero Resp

	desc, ok := d.descriptors[name]
	if !ok {
		return zero, selfheal.New(selfheal.KindInternal, fmt.Sprintf("no activity descriptor registered for %s", name), nil)
	}

	correlationID := ulid.Make().String()
	if _, err := d.journal.Append(ctx, caseID, selfheal.KindActivityAttempt,
		selfheal.ActivityAttemptPayload{Phase: phase, Attempt: attempt, Name: string(name), CorrelationID: correlationID}.Map()); err != nil {
		return zero, selfheal.New(selfheal.KindInternal, "failed to journal activity attempt", err)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if desc.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, desc.Timeout)
		defer cancel()
	}

	breaker := d.breakers[name]
	result, callErr := breaker.Execute(func() (any, error) {
		return call(callCtx, req)
	})

	// result carries the collaborator's response even on error: clients in
	// internal/activities return a partially populated Resp alongside a
	// classified error (e.g. PatcherResponse.CompilationErrors), and the
	// engine's feedback-edge handlers need that payload, not just the error.
	var resp Resp
	if result != nil {
		if r, ok := result.(Resp); ok {
			resp = r
		}
	}

	var classified *selfheal.Error
	if callErr != nil {
		classified = Classify(callErr)
	}

	resultPayload := selfheal.ActivityResultPayload{
		Phase: phase, Attempt: attempt, Name: string(name), CorrelationID: correlationID, Success: classified == nil,
	}
	if classified != nil {
		resultPayload.ErrorKind = classified.Kind
		resultPayload.Summary = classified.Sanitized()
	}
	if _, err := d.journal.Append(ctx, caseID, selfheal.KindActivityResult, resultPayload.Map()); err != nil && d.logger != nil {
		d.logger.Error("failed to journal activity result", zap.String("activity", string(name)), zap.Error(err))
	}

	return resp, classified
}

// NextDelay returns the backoff delay the engine should wait before
// retrying the given activity at the next attempt, seeded so replay after
// a crash reproduces the same delay for the same (case, phase, attempt).
func (d *Dispatcher) NextDelay(caseID selfheal.CaseID, phase selfheal.Phase, attempt int) time.Duration {
	seed := fmt.Sprintf("%s|%s|%d", caseID, phase, attempt)
	return DelayForAttempt(attempt, d.backoff, seed)
}

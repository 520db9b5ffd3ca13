package engine

import (
	"context"
	"strings"
	"time"

	"github.com/fraware/self-healing-ci/internal/dispatcher"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// runWithRetry drives repeated attempts of one activity for c's current
// phase, honoring the attempt counter already on c (so a case resumed
// after a crash continues numbering rather than resetting it — §4.3's
// crash-recovery "retried at-most-once more"). Only TRANSIENT/RATE_LIMITED
// errors are retried here; every other classified error is returned
// immediately for the phase handler to interpret as a feedback edge or a
// terminal failure.
func runWithRetry[Req, Resp any](ctx context.Context, e *Engine, c *selfheal.Case, phase selfheal.Phase, name selfheal.ActivityName, maxAttempts int, req Req, call dispatcher.Call[Req, Resp]) (Resp, *selfheal.Error) {
	var resp Resp
	var cerr *selfheal.Error
	attempt := c.Attempt[phase]
	for {
		attempt++
		resp, cerr = dispatcher.Invoke(ctx, e.dispatcher, c.ID, phase, name, attempt, req, call)
		c.Attempt[phase] = attempt
		if cerr == nil {
			return resp, nil
		}
		if !cerr.Kind.Retryable() || attempt >= maxAttempts {
			return resp, cerr
		}
		delay := e.dispatcher.NextDelay(c.ID, phase, attempt)
		select {
		case <-ctx.Done():
			return resp, selfheal.New(selfheal.KindCancelled, "activity retry interrupted", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// failureReasonFor maps a classified activity error onto the §7 failure
// taxonomy used on a terminal FAILED transition.
func failureReasonFor(kind selfheal.ErrorKind) selfheal.FailureReason {
	switch kind {
	case selfheal.KindInvalidInput:
		return selfheal.ReasonContract
	case selfheal.KindTimeout:
		return selfheal.ReasonTimeout
	case selfheal.KindCancelled:
		return selfheal.ReasonCancelled
	case selfheal.KindPatchInvalid:
		return selfheal.ReasonPatchExhausted
	case selfheal.KindTestFailed:
		return selfheal.ReasonTestFailed
	case selfheal.KindProofFailed:
		return selfheal.ReasonProofFailed
	case selfheal.KindMergeBlocked:
		return selfheal.ReasonMergeBlocked
	default:
		return selfheal.ReasonInternal
	}
}

func (e *Engine) fail(ctx context.Context, c *selfheal.Case, cerr *selfheal.Error) error {
	c.Warnings = append(c.Warnings, cerr.Sanitized())
	return e.transition(ctx, c, selfheal.StateFailed, failureReasonFor(cerr.Kind))
}

func (e *Engine) stepNew(ctx context.Context, c *selfheal.Case) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = e.now()
	}
	deadline := time.Duration(e.cfg.GlobalDeadlineMS) * time.Millisecond
	c.Deadline = c.StartedAt.Add(deadline)
	return e.transition(ctx, c, selfheal.StateDiagnose, selfheal.ReasonNone)
}

func (e *Engine) stepDiagnose(ctx context.Context, c *selfheal.Case) error {
	failureMessage := c.FeedbackContext
	if failureMessage == "" {
		failureMessage = "CI run failed: " + c.Workflow
	}

	report, err := e.assembler.Assemble(ctx, c, failureMessage, c.PriorAttempts)
	if err != nil {
		return e.fail(ctx, c, selfheal.New(selfheal.KindInternal, "failed to assemble failure report", err))
	}

	started := e.now()
	maxAttempts := e.cfg.MaxRetriesFor(selfheal.PhaseDiagnose) + 1
	resp, cerr := runWithRetry(ctx, e, c, selfheal.PhaseDiagnose, selfheal.ActivityDiagnoser, maxAttempts,
		selfheal.DiagnoserRequest{FailureReport: report, PriorAttempts: c.PriorAttempts},
		func(ctx context.Context, req selfheal.DiagnoserRequest) (selfheal.DiagnoserResponse, error) {
			return e.collabs.Diagnoser.Diagnose(ctx, req)
		})

	attemptRecord := selfheal.PriorAttempt{Attempt: len(c.PriorAttempts) + 1, Duration: e.now().Sub(started)}
	if cerr != nil {
		attemptRecord.Error = cerr.Sanitized()
		c.PriorAttempts = append(c.PriorAttempts, attemptRecord)
		return e.fail(ctx, c, cerr)
	}
	c.PriorAttempts = append(c.PriorAttempts, attemptRecord)
	c.FeedbackContext = ""

	if resp.Confidence < e.cfg.MinDiagnosisConfidence {
		resp.RootCause = selfheal.RootCauseUnknown
		resp.Patch = ""
	}

	c.RootCause = resp.RootCause
	c.Diagnosis = &selfheal.Diagnosis{
		RootCause:           resp.RootCause,
		Confidence:          resp.Confidence,
		Patch:               resp.Patch,
		Explanation:         resp.Explanation,
		SuggestedActions:    resp.SuggestedActions,
		EstimatedFixMinutes: resp.EstimatedFixMinutes,
	}

	if resp.RootCause == selfheal.RootCauseUnknown && resp.Patch == "" {
		return e.transition(ctx, c, selfheal.StateTest, selfheal.ReasonNone)
	}
	return e.transition(ctx, c, selfheal.StatePatch, selfheal.ReasonNone)
}

func (e *Engine) stepPatch(ctx context.Context, c *selfheal.Case) error {
	if c.Diagnosis == nil || c.Diagnosis.Patch == "" {
		return e.transition(ctx, c, selfheal.StateTest, selfheal.ReasonNone)
	}

	maxAttempts := e.cfg.MaxRetriesFor(selfheal.PhasePatch) + 1
	resp, cerr := runWithRetry(ctx, e, c, selfheal.PhasePatch, selfheal.ActivityPatcher, maxAttempts,
		selfheal.PatcherRequest{
			Repository: c.Repository, HeadSHA: c.HeadSHA, Branch: c.Branch,
			Patch: c.Diagnosis.Patch, RootCause: c.RootCause,
		},
		func(ctx context.Context, req selfheal.PatcherRequest) (selfheal.PatcherResponse, error) {
			return e.collabs.Patcher.Patch(ctx, req)
		})

	if cerr == nil {
		c.PatchRef = resp.PatchRef
		c.FilesChanged = resp.FilesChanged
		return e.transition(ctx, c, selfheal.StateTest, selfheal.ReasonNone)
	}

	if cerr.Kind == selfheal.KindCompilationFailed {
		if c.Attempt[selfheal.PhasePatch] < e.cfg.MaxRetriesFor(selfheal.PhasePatch) {
			c.FeedbackContext = "patch failed to compile:\n" + strings.Join(resp.CompilationErrors, "\n")
			return e.transition(ctx, c, selfheal.StateDiagnose, selfheal.ReasonNone)
		}
		return e.fail(ctx, c, selfheal.New(selfheal.KindPatchInvalid, "patch retry budget exhausted", nil))
	}
	return e.fail(ctx, c, cerr)
}

func (e *Engine) stepTest(ctx context.Context, c *selfheal.Case) error {
	maxAttempts := e.cfg.MaxRetriesFor(selfheal.PhaseTest) + 1
	resp, cerr := runWithRetry(ctx, e, c, selfheal.PhaseTest, selfheal.ActivityTestRunner, maxAttempts,
		selfheal.TestRunnerRequest{
			Repository: c.Repository, HeadSHA: c.HeadSHA, PatchRef: c.PatchRef,
			Suite: "default",
		},
		func(ctx context.Context, req selfheal.TestRunnerRequest) (selfheal.TestRunnerResponse, error) {
			return e.collabs.TestRunner.RunTests(ctx, req)
		})

	if cerr != nil {
		return e.fail(ctx, c, cerr)
	}

	flaky := resp.Verdict == "flaky" || resp.FlakinessScore > e.cfg.FlakyThreshold
	c.TestOutcome = &selfheal.TestOutcome{
		Verdict:        resp.Verdict,
		FlakinessScore: resp.FlakinessScore,
		Flaky:          flaky,
		Trace:          resp.Trace,
	}

	switch resp.Verdict {
	case "pass":
		return e.transition(ctx, c, selfheal.StateProve, selfheal.ReasonNone)
	case "flaky":
		return e.transition(ctx, c, selfheal.StateProve, selfheal.ReasonNone)
	default: // "fail"
		if c.Attempt[selfheal.PhaseTest] < e.cfg.MaxRetriesFor(selfheal.PhaseTest)+1 {
			c.FeedbackContext = "tests failed:\n" + resp.Trace
			return e.transition(ctx, c, selfheal.StateDiagnose, selfheal.ReasonNone)
		}
		return e.fail(ctx, c, selfheal.New(selfheal.KindTestFailed, "test retry budget exhausted", nil))
	}
}

func (e *Engine) stepProve(ctx context.Context, c *selfheal.Case) error {
	invariants := e.cfg.ApplicableInvariants(c.FilesChanged)
	maxAttempts := e.cfg.MaxRetriesFor(selfheal.PhaseProve) + 1
	resp, cerr := runWithRetry(ctx, e, c, selfheal.PhaseProve, selfheal.ActivityProver, maxAttempts,
		selfheal.ProverRequest{
			Repository: c.Repository, HeadSHA: c.HeadSHA,
			Invariants: invariants, PerTheoremBudgetMS: int64(e.cfg.PerTheoremBudgetMS),
		},
		func(ctx context.Context, req selfheal.ProverRequest) (selfheal.ProverResponse, error) {
			return e.collabs.Prover.Prove(ctx, req)
		})

	if cerr != nil {
		return e.fail(ctx, c, cerr)
	}

	pass, failed := evaluateProofVerdict(resp, invariants, e.cfg.ProofCriticalityThreshold)
	c.ProofOutcome = &selfheal.ProofOutcome{Pass: pass, FailedInvariants: failed}

	if pass {
		return e.transition(ctx, c, selfheal.StateMerge, selfheal.ReasonNone)
	}
	return e.fail(ctx, c, selfheal.New(selfheal.KindProofFailed, "required invariant not proven", nil))
}

func (e *Engine) stepMerge(ctx context.Context, c *selfheal.Case) error {
	proofVerdict := "fail"
	if c.ProofOutcome != nil && c.ProofOutcome.Pass {
		proofVerdict = "pass"
	}

	maxAttempts := e.cfg.MaxRetriesFor(selfheal.PhaseMerge) + 1
	resp, cerr := runWithRetry(ctx, e, c, selfheal.PhaseMerge, selfheal.ActivityMerger, maxAttempts,
		selfheal.MergerRequest{
			Repository: c.Repository, BaseBranch: c.Branch, PatchRef: c.PatchRef,
			Title: "self-heal: " + c.Workflow, RootCause: c.RootCause, ProofVerdict: proofVerdict,
		},
		func(ctx context.Context, req selfheal.MergerRequest) (selfheal.MergerResponse, error) {
			return e.collabs.Merger.Merge(ctx, req)
		})

	if cerr != nil {
		return e.fail(ctx, c, cerr)
	}
	if !resp.Merged {
		return e.fail(ctx, c, selfheal.New(selfheal.KindMergeBlocked, resp.Reason, nil))
	}
	c.MergeSHA = resp.MergeSHA
	c.MergeRef = c.PatchRef
	return e.transition(ctx, c, selfheal.StateDone, selfheal.ReasonNone)
}

// criticalityRank orders §6's criticality enum for threshold comparison.
var criticalityRank = map[string]int{"low": 0, "medium": 1, "high": 2, "critical": 3}

// evaluateProofVerdict aggregates §4.3's PROVE policy: every invariant at
// or above threshold criticality must be "proven"; below-threshold
// invariants never block merge regardless of verdict, including "sorry"
// (§9 design notes: sorry is treated as unproven and therefore irrelevant
// below threshold).
func evaluateProofVerdict(resp selfheal.ProverResponse, invariants []selfheal.InvariantSpec, threshold string) (bool, []string) {
	required := map[string]bool{}
	for _, inv := range invariants {
		if criticalityRank[inv.Criticality] >= criticalityRank[threshold] {
			required[inv.Name] = true
		}
	}
	if len(required) == 0 {
		return true, nil
	}
	var failed []string
	for _, t := range resp.Theorems {
		if required[t.Name] && t.Verdict != "proven" {
			failed = append(failed, t.Name)
		}
	}
	return len(failed) == 0, failed
}

package failurereport

import (
	"context"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// SourceAdapter is the thin interface onto the source-forge adapter's
// workflow/job logs, diff, and test output — out of scope per §1, treated
// here as an opaque collaborator the Assembler pulls raw material from.
type SourceAdapter interface {
	WorkflowLogs(ctx context.Context, repository, runID string) (string, error)
	JobLogs(ctx context.Context, repository, runID string) (string, error)
	DiffAgainstMergeBase(ctx context.Context, repository, headSHA string) (string, error)
	ChangedFiles(ctx context.Context, repository, headSHA string) ([]string, error)
	TestOutput(ctx context.Context, repository, runID string) (string, error)
	Environment(ctx context.Context, repository, runID string) (map[string]string, error)
	FailedTests(ctx context.Context, repository, runID string) ([]string, error)
}

// Assembler builds the redacted, truncated FailureReport handed to the
// Diagnoser (§4.7).
type Assembler struct {
	source      SourceAdapter
	redactor    *Redactor
	tokenBudget int
}

// NewAssembler constructs an Assembler. tokenBudget is the configured
// diagnoser token budget (default 16000, per §6 tokenBudget).
func NewAssembler(source SourceAdapter, redactor *Redactor, tokenBudget int) *Assembler {
	return &Assembler{source: source, redactor: redactor, tokenBudget: tokenBudget}
}

// Assemble gathers logs, diff, and test output for a case, redacts
// secrets, and truncates in the priority order §4.7 specifies.
func (a *Assembler) Assemble(ctx context.Context, c *selfheal.Case, failureMessage string, priorAttempts []selfheal.PriorAttempt) (selfheal.FailureReport, error) {
	workflowLogs, err := a.source.WorkflowLogs(ctx, c.Repository, c.RunID)
	if err != nil {
		return selfheal.FailureReport{}, err
	}
	jobLogs, err := a.source.JobLogs(ctx, c.Repository, c.RunID)
	if err != nil {
		return selfheal.FailureReport{}, err
	}
	diff, err := a.source.DiffAgainstMergeBase(ctx, c.Repository, c.HeadSHA)
	if err != nil {
		return selfheal.FailureReport{}, err
	}
	testOutput, err := a.source.TestOutput(ctx, c.Repository, c.RunID)
	if err != nil {
		return selfheal.FailureReport{}, err
	}
	environment, err := a.source.Environment(ctx, c.Repository, c.RunID)
	if err != nil {
		return selfheal.FailureReport{}, err
	}
	failedTests, err := a.source.FailedTests(ctx, c.Repository, c.RunID)
	if err != nil {
		return selfheal.FailureReport{}, err
	}

	errorLogs := workflowLogs + "\n" + jobLogs

	redactedCount := 0
	failureMessage, n := a.redactor.Redact(failureMessage)
	redactedCount += n
	errorLogs, n = a.redactor.Redact(errorLogs)
	redactedCount += n
	testOutput, n = a.redactor.Redact(testOutput)
	redactedCount += n
	diff, n = a.redactor.Redact(diff)
	redactedCount += n
	environment = redactEnvironment(a.redactor, environment, &redactedCount)

	fitted, truncated := truncate(fields{
		failureMessage: failureMessage,
		errorLogs:      errorLogs,
		testLogs:       testOutput,
		diff:           diff,
		failedTests:    failedTests,
	}, a.tokenBudget)

	return selfheal.FailureReport{
		Repository:       c.Repository,
		RunID:            c.RunID,
		HeadSHA:          c.HeadSHA,
		Branch:           c.Branch,
		FailureMessage:   fitted.failureMessage,
		ErrorLogs:        fitted.errorLogs,
		TestLogs:         fitted.testLogs,
		Diff:             fitted.diff,
		FailedTests:      fitted.failedTests,
		Environment:      environment,
		PreviousAttempts: priorAttempts,
		RedactionCount:   redactedCount,
		Truncated:        truncated,
	}, nil
}

func redactEnvironment(r *Redactor, env map[string]string, count *int) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		redactedValue, n := r.Redact(v)
		*count += n
		out[k] = redactedValue
	}
	return out
}

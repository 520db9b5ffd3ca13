package selfheal

import "time"

// ActivityName identifies one of the four collaborators (plus the merger)
// invoked through the uniform Dispatcher surface of §4.4.
type ActivityName string

const (
	ActivityDiagnoser  ActivityName = "diagnoser"
	ActivityPatcher    ActivityName = "patcher"
	ActivityTestRunner ActivityName = "test_runner"
	ActivityProver     ActivityName = "prover"
	ActivityMerger     ActivityName = "merger"
)

// ActivityDescriptor pins the per-activity timeout/retry/backoff policy the
// Dispatcher reads before every invocation.
type ActivityDescriptor struct {
	Name    ActivityName
	Timeout time.Duration
}

// PriorAttempt summarizes one earlier Diagnoser call for §6's
// priorAttempts feedback list.
type PriorAttempt struct {
	Attempt  int           `json:"attempt"`
	Error    string        `json:"error"`
	Duration time.Duration `json:"duration"`
}

// DiagnoserRequest is the §6 Diagnoser RPC request shape.
type DiagnoserRequest struct {
	FailureReport FailureReport  `json:"failureReport"`
	PriorAttempts []PriorAttempt `json:"priorAttempts"`
}

// DiagnoserResponse is the §6 Diagnoser RPC response shape.
type DiagnoserResponse struct {
	RootCause           RootCause `json:"rootCause"`
	Confidence          float64   `json:"confidence"`
	Patch               string    `json:"patch,omitempty"`
	Explanation         string    `json:"explanation"`
	SuggestedActions    []string  `json:"suggestedActions,omitempty"`
	EstimatedFixMinutes int       `json:"estimatedFixMinutes,omitempty"`
}

// PatcherRequest is the §6 Patcher RPC request shape.
type PatcherRequest struct {
	Repository string    `json:"repository"`
	HeadSHA    string    `json:"headSha"`
	Branch     string    `json:"branch"`
	Patch      string    `json:"patch"`
	RootCause  RootCause `json:"rootCause"`
}

// PatcherResponse is the §6 Patcher RPC response shape. Exactly one of the
// success or failure fields is meaningful, distinguished by Success.
type PatcherResponse struct {
	Success           bool     `json:"success"`
	PatchRef          string   `json:"patchRef,omitempty"`
	FilesChanged      []string `json:"filesChanged,omitempty"`
	CompilationErrors []string `json:"compilationErrors,omitempty"`
}

// TestRunnerRequest is the §6 TestRunner RPC request shape.
type TestRunnerRequest struct {
	Repository string `json:"repository"`
	HeadSHA    string `json:"headSha"`
	PatchRef   string `json:"patchRef,omitempty"`
	Suite      string `json:"suite"`
	Seed       int64  `json:"seed,omitempty"`
	TimeoutMS  int64  `json:"timeoutMs"`
}

// RetryOutcome is one repeated execution performed by the TestRunner while
// computing flakiness.
type RetryOutcome struct {
	Attempt    int    `json:"attempt"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// TestRunnerResponse is the §6 TestRunner RPC response shape.
type TestRunnerResponse struct {
	Verdict        string         `json:"verdict"`
	FlakinessScore float64        `json:"flakinessScore"`
	RetryOutcomes  []RetryOutcome `json:"retryOutcomes"`
	Trace          string         `json:"trace,omitempty"`
}

// InvariantSpec is one invariant handed to the Prover.
type InvariantSpec struct {
	Name        string `json:"name"`
	Predicate   string `json:"predicate"`
	Criticality string `json:"criticality"`
	Scope       string `json:"scope"`
}

// ProverRequest is the §6 Prover RPC request shape.
type ProverRequest struct {
	Repository        string          `json:"repository"`
	HeadSHA           string          `json:"headSha"`
	Invariants        []InvariantSpec `json:"invariants"`
	PerTheoremBudgetMS int64          `json:"perTheoremBudgetMs"`
}

// TheoremResult is one invariant's verdict from the Prover.
type TheoremResult struct {
	Name       string `json:"name"`
	Verdict    string `json:"verdict"`
	DurationMS int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// ProverSummary tallies the Prover's per-verdict counts.
type ProverSummary struct {
	Total    int `json:"total"`
	Proven   int `json:"proven"`
	Unproven int `json:"unproven"`
	Sorry    int `json:"sorry"`
	Error    int `json:"error"`
}

// ProverResponse is the §6 Prover RPC response shape.
type ProverResponse struct {
	Theorems []TheoremResult `json:"theorems"`
	Summary  ProverSummary   `json:"summary"`
}

// MergerRequest is the §6 Merger RPC request shape.
type MergerRequest struct {
	Repository   string `json:"repository"`
	BaseBranch   string `json:"baseBranch"`
	PatchRef     string `json:"patchRef"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	RootCause    RootCause `json:"rootCause"`
	ProofVerdict string `json:"proofVerdict"`
}

// MergerResponse is the §6 Merger RPC response shape.
type MergerResponse struct {
	Merged    bool   `json:"merged"`
	MergeSHA  string `json:"mergeSha,omitempty"`
	PRNumber  int    `json:"prNumber,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FailureReport is the payload handed to the Diagnoser (§4.7), already
// redacted and truncated by the Failure-Report Assembler.
type FailureReport struct {
	Repository      string            `json:"repository"`
	RunID           string            `json:"runId"`
	HeadSHA         string            `json:"headSha"`
	Branch          string            `json:"branch"`
	FailureMessage  string            `json:"failureMessage"`
	ErrorLogs       string            `json:"errorLogs"`
	TestLogs        string            `json:"testLogs"`
	Diff            string            `json:"diff"`
	FailedTests     []string          `json:"failedTests"`
	Environment     map[string]string `json:"environment"`
	PreviousAttempts []PriorAttempt   `json:"previousAttempts"`
	RedactionCount  int               `json:"redactionCount"`
	Truncated       bool              `json:"truncated"`
}

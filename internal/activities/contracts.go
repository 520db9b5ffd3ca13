// Package activities defines the client-side contracts for the four
// external analyzer collaborators plus the merger (§6), and ships one
// reference implementation per collaborator grounded on a library present
// in the example pack. The Dispatcher invokes these through the generic
// dispatcher.Invoke helper; nothing in this package retries or journals —
// that is the Dispatcher's job.
package activities

import (
	"context"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Diagnoser proposes a root cause and, optionally, a patch.
type Diagnoser interface {
	Diagnose(ctx context.Context, req selfheal.DiagnoserRequest) (selfheal.DiagnoserResponse, error)
}

// Patcher applies a diagnoser-provided patch against a repository.
type Patcher interface {
	Patch(ctx context.Context, req selfheal.PatcherRequest) (selfheal.PatcherResponse, error)
}

// TestRunner executes a test suite in a deterministic sandbox.
type TestRunner interface {
	RunTests(ctx context.Context, req selfheal.TestRunnerRequest) (selfheal.TestRunnerResponse, error)
}

// Prover validates invariants with a theorem prover.
type Prover interface {
	Prove(ctx context.Context, req selfheal.ProverRequest) (selfheal.ProverResponse, error)
}

// Merger opens or merges a patch-branch pull request.
type Merger interface {
	Merge(ctx context.Context, req selfheal.MergerRequest) (selfheal.MergerResponse, error)
}

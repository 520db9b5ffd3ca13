package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/config"
	"github.com/fraware/self-healing-ci/internal/dispatcher"
	"github.com/fraware/self-healing-ci/internal/engine"
	"github.com/fraware/self-healing-ci/internal/events"
	"github.com/fraware/self-healing-ci/internal/failurereport"
	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// blockingSourceAdapter lets the test control when each case's Diagnose call
// unblocks, so concurrency can be observed deterministically.
type blockingDiagnoser struct {
	inFlight  int64
	maxSeen   int64
	release   chan struct{}
	entered   chan struct{}
}

func (d *blockingDiagnoser) Diagnose(ctx context.Context, req selfheal.DiagnoserRequest) (selfheal.DiagnoserResponse, error) {
	n := atomic.AddInt64(&d.inFlight, 1)
	for {
		old := atomic.LoadInt64(&d.maxSeen)
		if n <= old || atomic.CompareAndSwapInt64(&d.maxSeen, old, n) {
			break
		}
	}
	d.entered <- struct{}{}
	<-d.release
	atomic.AddInt64(&d.inFlight, -1)
	return selfheal.DiagnoserResponse{RootCause: selfheal.RootCauseUnknown}, nil
}

type noopActivities struct{}

func (noopActivities) Patch(ctx context.Context, req selfheal.PatcherRequest) (selfheal.PatcherResponse, error) {
	return selfheal.PatcherResponse{Success: true}, nil
}
func (noopActivities) RunTests(ctx context.Context, req selfheal.TestRunnerRequest) (selfheal.TestRunnerResponse, error) {
	return selfheal.TestRunnerResponse{Verdict: "pass"}, nil
}
func (noopActivities) Prove(ctx context.Context, req selfheal.ProverRequest) (selfheal.ProverResponse, error) {
	return selfheal.ProverResponse{}, nil
}
func (noopActivities) Merge(ctx context.Context, req selfheal.MergerRequest) (selfheal.MergerResponse, error) {
	return selfheal.MergerResponse{Merged: true, MergeSHA: "sha"}, nil
}

type stubSourceAdapter struct{}

func (stubSourceAdapter) WorkflowLogs(ctx context.Context, repository, runID string) (string, error) {
	return "", nil
}
func (stubSourceAdapter) JobLogs(ctx context.Context, repository, runID string) (string, error) {
	return "", nil
}
func (stubSourceAdapter) DiffAgainstMergeBase(ctx context.Context, repository, headSHA string) (string, error) {
	return "", nil
}
func (stubSourceAdapter) ChangedFiles(ctx context.Context, repository, headSHA string) ([]string, error) {
	return nil, nil
}
func (stubSourceAdapter) TestOutput(ctx context.Context, repository, runID string) (string, error) {
	return "", nil
}
func (stubSourceAdapter) Environment(ctx context.Context, repository, runID string) (map[string]string, error) {
	return nil, nil
}
func (stubSourceAdapter) FailedTests(ctx context.Context, repository, runID string) ([]string, error) {
	return nil, nil
}

func TestPool_BoundsConcurrentCases(t *testing.T) {
	const maxConcurrent = 2
	const numCases = 5

	diag := &blockingDiagnoser{release: make(chan struct{}), entered: make(chan struct{})}
	j := journal.NewMemoryJournal()
	descriptors := []selfheal.ActivityDescriptor{
		{Name: selfheal.ActivityDiagnoser, Timeout: 0},
		{Name: selfheal.ActivityPatcher, Timeout: 0},
		{Name: selfheal.ActivityTestRunner, Timeout: 0},
		{Name: selfheal.ActivityProver, Timeout: 0},
		{Name: selfheal.ActivityMerger, Timeout: 0},
	}
	d := dispatcher.New(j, descriptors, dispatcher.BackoffConfig{}, zap.NewNop())
	emitter := events.NewEmitter(events.NewBroadcaster(50), zap.NewNop())
	redactor, _ := failurereport.NewRedactor(nil)
	assembler := failurereport.NewAssembler(stubSourceAdapter{}, redactor, 16_000)

	cfg := config.Default()
	cfg.GlobalDeadlineMS = 60_000
	eng := engine.New(j, d, emitter, assembler, engine.Collaborators{
		Diagnoser: diag, Patcher: noopActivities{}, TestRunner: noopActivities{},
		Prover: noopActivities{}, Merger: noopActivities{},
	}, cfg, zap.NewNop())

	pool := NewPool(eng, maxConcurrent, zap.NewNop())
	queue := make(chan *selfheal.Case, numCases)
	for i := 0; i < numCases; i++ {
		queue <- engine.NewCase(selfheal.CaseID("case-"+string(rune('a'+i))), selfheal.FailureEvent{Repository: "org/repo", RunID: "run", HeadSHA: "sha"})
	}
	close(queue)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx, queue)

	// Let exactly maxConcurrent cases reach the blocking point.
	for i := 0; i < maxConcurrent; i++ {
		select {
		case <-diag.entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for case %d to enter Diagnose", i)
		}
	}

	// No further case should be able to enter while the first two are held.
	select {
	case <-diag.entered:
		t.Fatalf("expected no more than %d concurrent cases in-flight, but a third entered", maxConcurrent)
	case <-time.After(200 * time.Millisecond):
	}

	close(diag.release)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&diag.maxSeen) >= maxConcurrent && atomic.LoadInt64(&diag.inFlight) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := atomic.LoadInt64(&diag.maxSeen); got > maxConcurrent {
		t.Fatalf("observed %d concurrent cases, exceeding the pool bound of %d", got, maxConcurrent)
	}
}

package scheduler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fraware/self-healing-ci/internal/engine"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Pool drives Cases pulled from an Admitter's queue through the Engine,
// bounded to maxConcurrentCases in-flight at once (§5). Grounded on the
// teacher's parallel_handlers.go job-channel-plus-worker-goroutines shape,
// generalized from a fixed worker count to a semaphore-bounded pool so the
// limit can be read from live configuration rather than a DOT attribute.
type Pool struct {
	engine *engine.Engine
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// NewPool builds a Pool bounded to maxConcurrent simultaneous cases.
func NewPool(eng *engine.Engine, maxConcurrent int64, logger *zap.Logger) *Pool {
	return &Pool{engine: eng, sem: semaphore.NewWeighted(maxConcurrent), logger: logger}
}

// Run drains queue until ctx is cancelled, starting one goroutine per case
// (admission order is FIFO on the channel; the semaphore enforces the
// concurrency bound, not ordering — a case that would exceed the bound
// simply waits for a slot, which is the "returning from a sleep imposed by
// retry backoff is also ready" scheduling policy of §4.2 in its simplest
// form since each in-flight case already owns its slot for its full
// lifetime, deadline-to-deadline).
func (p *Pool) Run(ctx context.Context, queue <-chan *selfheal.Case) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-queue:
			if !ok {
				return
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return
			}
			go p.drive(ctx, c)
		}
	}
}

func (p *Pool) drive(ctx context.Context, c *selfheal.Case) {
	defer p.sem.Release(1)
	if err := p.engine.Run(ctx, c); err != nil && p.logger != nil {
		p.logger.Error("case run ended with error",
			zap.String("caseId", string(c.ID)),
			zap.String("state", string(c.State)),
			zap.Error(err))
	}
}

package events

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Sink is an external destination for emitted events (§4.8): "at-least-once,
// best-effort; emitter failures do not affect the engine." Implementations
// must not block the caller for long and must never panic.
type Sink interface {
	Publish(ctx context.Context, ev selfheal.Event) error
}

// Emitter fans an event out to the process-wide Broadcaster (for live
// observability) and to zero or more external Sinks, swallowing and
// logging sink errors so a flaky external dependency never stalls the
// engine.
type Emitter struct {
	broadcaster *Broadcaster
	sinks       []Sink
	logger      *zap.Logger
}

// NewEmitter constructs an Emitter over the given broadcaster and sinks.
func NewEmitter(broadcaster *Broadcaster, logger *zap.Logger, sinks ...Sink) *Emitter {
	return &Emitter{broadcaster: broadcaster, sinks: sinks, logger: logger}
}

// Emit publishes ev to the broadcaster synchronously (it is an in-process,
// non-blocking fan-out) and to every external sink on its own goroutine, so
// a slow or failing sink never delays the engine's next transition.
func (e *Emitter) Emit(ctx context.Context, ev selfheal.Event) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if e.broadcaster != nil {
		e.broadcaster.Send(ev)
	}
	for _, sink := range e.sinks {
		sink := sink
		go func() {
			if err := sink.Publish(ctx, ev); err != nil && e.logger != nil {
				e.logger.Warn("event sink publish failed",
					zap.String("caseId", string(ev.CaseID)),
					zap.String("eventType", string(ev.Type)),
					zap.Error(err))
			}
		}()
	}
}

// LogSink publishes every event as a structured log line. Useful as the
// always-on default sink and in tests that want a deterministic record.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger as a Sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, ev selfheal.Event) error {
	s.logger.Info("event",
		zap.String("type", string(ev.Type)),
		zap.String("caseId", string(ev.CaseID)),
		zap.String("repository", ev.Repository),
		zap.String("runId", ev.RunID),
		zap.String("state", string(ev.State)),
		zap.Int("attempt", ev.Attempt),
		zap.Time("timestamp", ev.Timestamp),
	)
	return nil
}

// Command selfheal-engine runs the self-healing workflow engine as a
// long-lived daemon: it loads and watches its configuration, recovers any
// cases left in-flight by a prior crash, admits new FailureEvents onto a
// bounded queue, drives admitted cases through the engine with a bounded
// worker pool, and serves a read-only observability API.
//
// Wiring order follows the teacher's cmd/kilroy entrypoint: load config,
// build the logger, construct the engine and its collaborators, register
// a signal handler, then ListenAndServe until Shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/activities"
	"github.com/fraware/self-healing-ci/internal/config"
	"github.com/fraware/self-healing-ci/internal/dedup"
	"github.com/fraware/self-healing-ci/internal/dedup/redisstore"
	"github.com/fraware/self-healing-ci/internal/dispatcher"
	"github.com/fraware/self-healing-ci/internal/engine"
	"github.com/fraware/self-healing-ci/internal/events"
	"github.com/fraware/self-healing-ci/internal/failurereport"
	"github.com/fraware/self-healing-ci/internal/httpapi"
	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/internal/journal/sqlstore"
	"github.com/fraware/self-healing-ci/internal/logging"
	"github.com/fraware/self-healing-ci/internal/scheduler"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := envOr("SELFHEAL_CONFIG", "config.yaml")
	debug := envOr("SELFHEAL_DEBUG", "") != ""

	logger, err := logging.New(debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	watcher, err := config.NewWatcher(configPath, logging.Named(logger, "config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer watcher.Close()
	cfg := watcher.Current()

	j, closeJournal, err := buildJournal(context.Background(), logger)
	if err != nil {
		return fmt.Errorf("build journal: %w", err)
	}
	defer closeJournal()

	idx, err := buildDedupIndex(logger)
	if err != nil {
		return fmt.Errorf("build dedup index: %w", err)
	}

	broadcaster := events.NewBroadcaster(1000)
	defer broadcaster.Close()

	sinks := []events.Sink{events.NewLogSink(logging.Named(logger, "events"))}
	if token := os.Getenv("SELFHEAL_SLACK_TOKEN"); token != "" {
		channel := envOr("SELFHEAL_SLACK_CHANNEL", "#ci-healing")
		notifyAll := envOr("SELFHEAL_SLACK_NOTIFY_ALL", "") != ""
		sinks = append(sinks, events.NewSlackSink(token, channel, notifyAll))
	}
	emitter := events.NewEmitter(broadcaster, logging.Named(logger, "emitter"), sinks...)

	redactor, err := failurereport.NewRedactor(cfg.SecretPatterns)
	if err != nil {
		return fmt.Errorf("compile secret patterns: %w", err)
	}
	sourceAdapter := activities.NewHTTPSourceAdapter(
		activities.NewRPCClient(envOr("SELFHEAL_SOURCE_ADAPTER_URL", "http://localhost:9001"), nil))
	assembler := failurereport.NewAssembler(sourceAdapter, redactor, cfg.TokenBudget)

	collabs := buildCollaborators()

	descriptors := []selfheal.ActivityDescriptor{
		{Name: selfheal.ActivityDiagnoser, Timeout: 60 * time.Second},
		{Name: selfheal.ActivityPatcher, Timeout: 120 * time.Second},
		{Name: selfheal.ActivityTestRunner, Timeout: 10 * time.Minute},
		{Name: selfheal.ActivityProver, Timeout: 5 * time.Minute},
		{Name: selfheal.ActivityMerger, Timeout: 60 * time.Second},
	}
	backoff := dispatcher.BackoffConfig{
		BaseMS: int64(cfg.BackoffBaseMS), Factor: cfg.BackoffFactor, CapMS: int64(cfg.BackoffCapMS), Jitter: true,
	}
	disp := dispatcher.New(j, descriptors, backoff, logging.Named(logger, "dispatcher"))

	eng := engine.New(j, disp, emitter, assembler, collabs, cfg, logging.Named(logger, "engine"))

	admitter := scheduler.NewAdmitter(idx, j, emitter, cfg.AdmissionBufSize,
		time.Duration(cfg.DedupTTLSeconds)*time.Second,
		time.Duration(cfg.StaleCutoffMS)*time.Millisecond,
		cfg.EligibleWorkflows, logging.Named(logger, "admitter"))
	pool := scheduler.NewPool(eng, int64(cfg.MaxConcurrentCases), logging.Named(logger, "pool"))

	rootCtx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	if err := recoverInFlightCases(rootCtx, eng, admitter, logging.Named(logger, "recovery")); err != nil {
		logger.Error("recovery sweep failed", zap.Error(err))
	}

	go pool.Run(rootCtx, admitter.Queue())
	go applyConfigReloads(rootCtx, watcher, eng)

	httpSrv := httpapi.New(httpapi.Config{
		Addr:           envOr("SELFHEAL_HTTP_ADDR", "127.0.0.1:8080"),
		AllowedOrigins: splitNonEmpty(os.Getenv("SELFHEAL_ALLOWED_ORIGINS")),
	}, j, broadcaster, logging.Named(logger, "httpapi"))

	ingressSrv := buildIngressServer(admitter, logging.Named(logger, "ingress"))

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	go func() { errCh <- ingressSrv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server exited with error", zap.Error(err))
		}
	}

	cancel(fmt.Errorf("shutting down"))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = ingressSrv.Shutdown(shutdownCtx)
	return nil
}

// buildJournal selects a Postgres-backed journal when SELFHEAL_DATABASE_URL
// is set, falling back to the in-memory reference implementation otherwise
// (suitable for local runs and the six end-to-end scenarios, not for a
// durable production deployment).
func buildJournal(ctx context.Context, logger *zap.Logger) (journal.Journal, func(), error) {
	dsn := os.Getenv("SELFHEAL_DATABASE_URL")
	if dsn == "" {
		logger.Warn("SELFHEAL_DATABASE_URL not set, using in-memory journal (not durable across restarts)")
		return journal.NewMemoryJournal(), func() {}, nil
	}
	store, err := sqlstore.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres journal: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// buildDedupIndex selects a Redis-backed dedup index when
// SELFHEAL_REDIS_ADDR is set, falling back to the in-memory reference
// implementation otherwise.
func buildDedupIndex(logger *zap.Logger) (dedup.Index, error) {
	addr := os.Getenv("SELFHEAL_REDIS_ADDR")
	if addr == "" {
		logger.Warn("SELFHEAL_REDIS_ADDR not set, using in-memory dedup index (not shared across replicas)")
		return dedup.NewMemoryIndex(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("SELFHEAL_REDIS_PASSWORD")})
	return redisstore.New(client), nil
}

// buildCollaborators wires the four analyzer clients plus the merger.
// ANTHROPIC_API_KEY selects the Anthropic-backed reference Diagnoser; the
// remaining four collaborators are always reached over the generic
// JSON-over-HTTP RPCClient since the spec treats them as opaque endpoints.
func buildCollaborators() engine.Collaborators {
	var diagnoser activities.Diagnoser
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		model := anthropic.Model(envOr("SELFHEAL_ANTHROPIC_MODEL", "claude-opus-4-5"))
		diagnoser = activities.NewAnthropicDiagnoser(apiKey, model)
	} else {
		diagnoser = activities.NewHTTPDiagnoser(
			activities.NewRPCClient(envOr("SELFHEAL_DIAGNOSER_URL", "http://localhost:9002"), nil))
	}

	return engine.Collaborators{
		Diagnoser:  diagnoser,
		Patcher:    activities.NewHTTPPatcher(activities.NewRPCClient(envOr("SELFHEAL_PATCHER_URL", "http://localhost:9003"), nil)),
		TestRunner: activities.NewHTTPTestRunner(activities.NewRPCClient(envOr("SELFHEAL_TESTRUNNER_URL", "http://localhost:9004"), nil)),
		Prover:     activities.NewHTTPProver(activities.NewRPCClient(envOr("SELFHEAL_PROVER_URL", "http://localhost:9005"), nil)),
		Merger:     activities.NewHTTPMerger(activities.NewRPCClient(envOr("SELFHEAL_MERGER_URL", "http://localhost:9006"), nil)),
	}
}

// applyConfigReloads pushes the watcher's live snapshot into the engine on
// every tick, so a hot-reloaded maxRetries or threshold takes effect on the
// next case step without restarting the process. The Watcher itself only
// exposes the latest good snapshot (it has no change-notification channel
// beyond its own internal fsnotify loop), so polling at a short interval is
// the simplest way to keep the engine's copy current.
func applyConfigReloads(ctx context.Context, watcher *config.Watcher, eng *engine.Engine) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.SetConfig(watcher.Current())
		}
	}
}

// recoverInFlightCases re-enqueues every case the journal reports as
// non-terminal, per §4.5's startup recovery sweep: a case whose process
// died mid-phase resumes from its last durable StateTransition rather than
// restarting from NEW.
func recoverInFlightCases(ctx context.Context, eng *engine.Engine, admitter *scheduler.Admitter, logger *zap.Logger) error {
	ids, err := eng.Recover(ctx)
	if err != nil {
		return fmt.Errorf("list active cases: %w", err)
	}
	for _, id := range ids {
		c, err := eng.LoadCase(ctx, id, selfheal.Case{})
		if err != nil {
			logger.Error("failed to reload case for recovery", zap.String("caseId", string(id)), zap.Error(err))
			continue
		}
		if err := admitter.Enqueue(ctx, c); err != nil {
			logger.Error("failed to re-enqueue recovered case", zap.String("caseId", string(id)), zap.Error(err))
			continue
		}
		logger.Info("recovered in-flight case", zap.String("caseId", string(id)), zap.String("state", string(c.State)))
	}
	return nil
}

// buildIngressServer serves the one write path into the engine: POST
// /events accepts a FailureEvent for admission. Kept separate from
// httpapi's read-only observability router so the two surfaces can be
// bound to different addresses (e.g. ingress private, observability
// exposed to a dashboard).
func buildIngressServer(admitter *scheduler.Admitter, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		var ev selfheal.FailureEvent
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c, err := admitter.Admit(r.Context(), ev)
		if err != nil {
			logger.Warn("admission rejected", zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if c == nil {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"status":"duplicate"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(fmt.Sprintf(`{"status":"admitted","caseId":%q}`, c.ID)))
	})
	return &http.Server{
		Addr:         envOr("SELFHEAL_INGRESS_ADDR", "127.0.0.1:8090"),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}


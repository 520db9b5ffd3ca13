// Package config loads and hot-reloads the engine's configuration surface
// (§6): concurrency bounds, per-phase retry budgets, backoff parameters,
// thresholds, and the secret-redaction pattern set.
//
// Loading follows the teacher's internal/attractor/engine/config.go shape:
// strict YAML decode (unknown fields rejected) into a file struct, defaults
// applied, then struct-tag validation — generalized here from kilroy's
// hand-rolled validateConfig to github.com/go-playground/validator/v10, and
// from a load-once file to one that can be hot-swapped via fsnotify.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// PhaseRetries maps a phase name to its maxRetries[phase] attempt cap.
type PhaseRetries map[selfheal.Phase]int

// File is the on-disk shape of the configuration surface of §6.
type File struct {
	MaxConcurrentCases int `yaml:"maxConcurrentCases" validate:"gte=1"`
	GlobalDeadlineMS   int `yaml:"globalDeadlineMs" validate:"gte=0"`

	MaxRetries map[string]int `yaml:"maxRetries" validate:"required"`

	BackoffBaseMS int     `yaml:"backoffBaseMs" validate:"gte=0"`
	BackoffCapMS  int     `yaml:"backoffCapMs" validate:"gte=0"`
	BackoffFactor float64 `yaml:"backoffFactor" validate:"gte=1"`

	MinDiagnosisConfidence    float64 `yaml:"minDiagnosisConfidence" validate:"gte=0,lte=1"`
	FlakyThreshold            float64 `yaml:"flakyThreshold" validate:"gte=0,lte=1"`
	ProofCriticalityThreshold string  `yaml:"proofCriticalityThreshold" validate:"oneof=low medium high critical"`
	PerTheoremBudgetMS        int     `yaml:"perTheoremBudgetMs" validate:"gte=0"`

	DedupTTLSeconds  int `yaml:"dedupTtlSeconds" validate:"gte=0"`
	StaleCutoffMS    int `yaml:"staleCutoffMs" validate:"gte=0"`
	AdmissionBufSize int `yaml:"admissionBufferSize" validate:"gte=0"`

	TokenBudget int `yaml:"tokenBudget" validate:"gte=0"`

	SecretPatterns []string `yaml:"secretPatterns"`

	EligibleWorkflows []string `yaml:"eligibleWorkflows"`

	// Invariants is the catalog PROVE selects from: each entry's Scope is a
	// doublestar glob matched against a case's changed files, the same
	// matching style scheduler.Admitter uses for workflow eligibility. A
	// catalog entry applies to a case the moment any changed file matches.
	Invariants []selfheal.InvariantSpec `yaml:"invariants"`
}

// Default returns the configuration surface's documented defaults (§6, §4).
func Default() File {
	return File{
		MaxConcurrentCases: 100,
		GlobalDeadlineMS:   20 * 60 * 1000,
		MaxRetries: map[string]int{
			string(selfheal.PhaseDiagnose): 0,
			string(selfheal.PhasePatch):    2,
			string(selfheal.PhaseTest):     1,
			string(selfheal.PhaseProve):    0,
			string(selfheal.PhaseMerge):    0,
		},
		BackoffBaseMS:             1000,
		BackoffCapMS:              60_000,
		BackoffFactor:             2.0,
		MinDiagnosisConfidence:    0.5,
		FlakyThreshold:            0.2,
		ProofCriticalityThreshold: "medium",
		PerTheoremBudgetMS:        2000,
		DedupTTLSeconds:           3600,
		StaleCutoffMS:             24 * 60 * 60 * 1000,
		AdmissionBufSize:          1000,
		TokenBudget:               16_000,
		SecretPatterns: []string{
			`(?i)bearer\s+[a-z0-9._-]+`,
			`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
			`(?i)(AKIA|ASIA)[A-Z0-9]{16}`,
			`[a-z]+://[^:/\s]+:[^@/\s]+@[^\s]+`,
			`(?i)(api[_-]?key|secret|token|password)\s*[:=]\s*\S+`,
		},
		EligibleWorkflows: []string{"*"},
		Invariants: []selfheal.InvariantSpec{
			{Name: "no_unhandled_panic", Predicate: "forall call in changed_surface: call.recovers_or_propagates()", Criticality: "critical", Scope: "**/*.go"},
			{Name: "auth_checks_preserved", Predicate: "forall handler in changed_surface: handler.requires_same_or_stricter_auth()", Criticality: "high", Scope: "**/handlers/**"},
			{Name: "migration_is_backward_compatible", Predicate: "forall column_drop, table_drop in migration: false", Criticality: "critical", Scope: "**/migrations/**"},
			{Name: "public_api_signature_stable", Predicate: "forall exported_fn in changed_surface: exported_fn.signature_unchanged_or_additive()", Criticality: "medium", Scope: "pkg/**"},
		},
	}
}

// ApplicableInvariants filters the configured catalog to the entries whose
// Scope glob matches at least one of changedFiles, mirroring
// scheduler.Admitter's doublestar-based workflow eligibility matching. PROVE
// calls this to build the invariant set it hands to the Prover; an invariant
// whose scope never matches the changed surface never becomes "required"
// regardless of its criticality.
func (f File) ApplicableInvariants(changedFiles []string) []selfheal.InvariantSpec {
	var applicable []selfheal.InvariantSpec
	for _, inv := range f.Invariants {
		for _, path := range changedFiles {
			if ok, _ := doublestar.Match(inv.Scope, path); ok {
				applicable = append(applicable, inv)
				break
			}
		}
	}
	return applicable
}

func Load(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := decodeYAMLStrict(b, &cfg); err != nil {
		return File{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return File{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeYAMLStrict(b []byte, cfg *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

var validate = validator.New()

// MaxRetriesFor returns the configured retry cap for phase, or 0 if absent.
func (f File) MaxRetriesFor(phase selfheal.Phase) int {
	return f.MaxRetries[string(phase)]
}

// Watcher holds a hot-reloadable configuration snapshot, swapped atomically
// whenever the backing file changes on disk. Grounded on the teacher's
// config-reload approach of re-parsing and re-validating on every change
// rather than patching fields in place, generalized from kilroy's one-shot
// LoadRunConfigFile to a continuously watched file via fsnotify (absent
// from the teacher, sourced from the wider ecosystem for this concern).
type Watcher struct {
	path    string
	current atomic.Pointer[File]
	logger  *zap.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher loads path once and begins watching it for subsequent changes.
// Reload failures are logged and the last-good configuration is kept live.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}
	w := &Watcher{path: path, logger: logger, watcher: fw}
	w.current.Store(&cfg)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("config reload failed, keeping last-good configuration", zap.Error(err))
		}
		return
	}
	w.current.Store(&cfg)
	if w.logger != nil {
		w.logger.Info("configuration reloaded", zap.String("path", w.path))
	}
}

// Current returns the live configuration snapshot.
func (w *Watcher) Current() File {
	return *w.current.Load()
}

// Close stops the underlying file watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// BackoffDelay is a small helper so callers don't need to import dispatcher
// just to read timing knobs.
func (f File) BackoffDelay(attempt int) time.Duration {
	ms := float64(f.BackoffBaseMS)
	for i := 1; i < attempt; i++ {
		ms *= f.BackoffFactor
		if f.BackoffCapMS > 0 && ms > float64(f.BackoffCapMS) {
			ms = float64(f.BackoffCapMS)
			break
		}
	}
	return time.Duration(ms) * time.Millisecond
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func writeConfigFile(t *testing.T, dir, contents string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefault_PassesValidation(t *testing.T) {
	cfg := Default()
	if err := validate.Struct(&cfg); err != nil {
		t.Fatalf("expected Default() to satisfy its own validation tags, got %v", err)
	}
}

func TestLoad_ValidMinimalOverrideMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "maxConcurrentCases: 5\nmaxRetries:\n  patch: 2\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentCases != 5 {
		t.Fatalf("expected overridden maxConcurrentCases=5, got %d", cfg.MaxConcurrentCases)
	}
	if cfg.BackoffBaseMS != Default().BackoffBaseMS {
		t.Fatalf("expected unspecified fields to retain their default values")
	}
}

func TestLoad_UnknownFieldIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "maxConcurrentCases: 5\nmaxRetries:\n  patch: 2\nnotARealField: true\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected an unknown YAML field to be rejected by strict decoding")
	}
}

func TestLoad_FailsValidationWhenRequiredFieldMissing(t *testing.T) {
	dir := t.TempDir()
	// maxConcurrentCases validate:"gte=1" violated by 0.
	path := writeConfigFile(t, dir, "maxConcurrentCases: 0\nmaxRetries:\n  patch: 2\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected a validation-tag violation to surface as a Load error")
	}
}

func TestLoad_MultipleDocumentsRejected(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "maxConcurrentCases: 5\nmaxRetries:\n  patch: 2\n---\nmaxConcurrentCases: 6\nmaxRetries:\n  patch: 2\n")

	if _, err := Load(path); err == nil {
		t.Fatalf("expected a multi-document YAML file to be rejected")
	}
}

func TestFile_MaxRetriesFor(t *testing.T) {
	cfg := Default()
	if got := cfg.MaxRetriesFor(selfheal.PhasePatch); got != 2 {
		t.Fatalf("expected default patch retry budget of 2, got %d", got)
	}
	if got := cfg.MaxRetriesFor(selfheal.Phase("not-a-real-phase")); got != 0 {
		t.Fatalf("expected an unconfigured phase to default to 0 retries, got %d", got)
	}
}

func TestFile_ApplicableInvariants_FiltersByScopeGlob(t *testing.T) {
	cfg := File{Invariants: []selfheal.InvariantSpec{
		{Name: "handlers-only", Scope: "**/handlers/**"},
		{Name: "migrations-only", Scope: "**/migrations/**"},
	}}

	got := cfg.ApplicableInvariants([]string{"internal/auth/handlers/login.go", "README.md"})
	if len(got) != 1 || got[0].Name != "handlers-only" {
		t.Fatalf("expected only the invariant whose scope glob matches a changed file, got %+v", got)
	}
}

func TestFile_ApplicableInvariants_NoChangedFilesMatchReturnsNone(t *testing.T) {
	cfg := File{Invariants: []selfheal.InvariantSpec{{Name: "migrations-only", Scope: "**/migrations/**"}}}

	if got := cfg.ApplicableInvariants([]string{"README.md"}); got != nil {
		t.Fatalf("expected no applicable invariants, got %+v", got)
	}
}

func TestFile_BackoffDelay_GrowsThenCaps(t *testing.T) {
	cfg := File{BackoffBaseMS: 1000, BackoffFactor: 2.0, BackoffCapMS: 3000}

	if d := cfg.BackoffDelay(1); d != time.Second {
		t.Fatalf("expected attempt 1 delay of 1s, got %v", d)
	}
	if d := cfg.BackoffDelay(2); d != 2*time.Second {
		t.Fatalf("expected attempt 2 delay of 2s, got %v", d)
	}
	if d := cfg.BackoffDelay(5); d != 3*time.Second {
		t.Fatalf("expected attempt 5 delay to be capped at 3s, got %v", d)
	}
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "maxConcurrentCases: 5\nmaxRetries:\n  patch: 2\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if got := w.Current().MaxConcurrentCases; got != 5 {
		t.Fatalf("expected initial load to be reflected, got %d", got)
	}

	writeConfigFile(t, dir, "maxConcurrentCases: 42\nmaxRetries:\n  patch: 2\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().MaxConcurrentCases == 42 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected watcher to pick up the file change within the deadline, last seen value %d", w.Current().MaxConcurrentCases)
}

func TestWatcher_KeepsLastGoodConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "maxConcurrentCases: 5\nmaxRetries:\n  patch: 2\n")

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	writeConfigFile(t, dir, "maxConcurrentCases: 0\nmaxRetries:\n  patch: 2\n") // invalid: gte=1

	time.Sleep(200 * time.Millisecond)
	if got := w.Current().MaxConcurrentCases; got != 5 {
		t.Fatalf("expected an invalid reload to be rejected, keeping last-good value 5, got %d", got)
	}
}

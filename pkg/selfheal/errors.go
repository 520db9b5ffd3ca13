package selfheal

import (
	"fmt"

	"github.com/go-faster/errors"
)

// ErrorKind is the closed taxonomy of §7: orthogonal to phase, it tells the
// Engine and Dispatcher how to react to a collaborator or internal failure.
type ErrorKind string

const (
	KindTransient         ErrorKind = "TRANSIENT"
	KindInvalidInput      ErrorKind = "INVALID_INPUT"
	KindCompilationFailed ErrorKind = "COMPILATION_FAILED"
	KindTestFailed        ErrorKind = "TEST_FAILED"
	KindProofFailed       ErrorKind = "PROOF_FAILED"
	KindMergeBlocked      ErrorKind = "MERGE_BLOCKED"
	KindTimeout           ErrorKind = "TIMEOUT"
	KindCancelled         ErrorKind = "CANCELLED"
	KindInternal          ErrorKind = "INTERNAL"
	KindRateLimited       ErrorKind = "RATE_LIMITED"
	KindPatchInvalid      ErrorKind = "PATCH_INVALID"
)

// Retryable reports whether the dispatcher should spend another attempt
// within the current phase's retry budget. Only TRANSIENT and RATE_LIMITED
// errors are retried; everything else is either a feedback edge (handled by
// the engine, not the dispatcher) or terminal.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// Error is the typed error carrier that crosses every activity and engine
// boundary. Collaborator errors are classified into one exactly once, by
// the Dispatcher (§7: "activity errors are classified by the dispatcher,
// not by the engine").
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a typed Error, wrapping cause with go-faster/errors so a stack
// trace is available to internal diagnostics without ever being emitted to
// the journal or the event sink (secrets/stack traces must be stripped
// before persistence or emission, per §7).
func New(kind ErrorKind, message string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, message)
	}
	return &Error{Kind: kind, Message: message, Cause: wrapped}
}

// AsSelfHealError extracts the typed Error from an error chain, if present.
func AsSelfHealError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Sanitized returns an error-safe string with no wrapped stack trace or
// cause chain — suitable for journaling or emitting externally.
func (e *Error) Sanitized() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

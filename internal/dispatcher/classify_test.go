package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

func TestClassify_Nil(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatalf("expected Classify(nil) to return nil")
	}
}

func TestClassify_PassesThroughSelfHealError(t *testing.T) {
	orig := selfheal.New(selfheal.KindPatchInvalid, "patch did not apply", nil)
	got := Classify(orig)
	if got != orig {
		t.Fatalf("expected an existing *selfheal.Error to pass through unchanged")
	}
}

func TestClassify_WrappedSelfHealError(t *testing.T) {
	orig := selfheal.New(selfheal.KindTestFailed, "tests failed", nil)
	wrapped := fmt.Errorf("activity returned: %w", orig)
	got := Classify(wrapped)
	if got.Kind != selfheal.KindTestFailed {
		t.Fatalf("expected wrapped *selfheal.Error to be unwrapped, got kind %s", got.Kind)
	}
}

func TestClassify_DeadlineExceeded(t *testing.T) {
	got := Classify(context.DeadlineExceeded)
	if got.Kind != selfheal.KindTimeout {
		t.Fatalf("expected context.DeadlineExceeded to classify as TIMEOUT, got %s", got.Kind)
	}
}

func TestClassify_Canceled(t *testing.T) {
	got := Classify(context.Canceled)
	if got.Kind != selfheal.KindCancelled {
		t.Fatalf("expected context.Canceled to classify as CANCELLED, got %s", got.Kind)
	}
}

func TestClassify_UnknownErrorDefaultsToInternal(t *testing.T) {
	got := Classify(errors.New("boom"))
	if got.Kind != selfheal.KindInternal {
		t.Fatalf("expected an unrecognized error to classify as INTERNAL, got %s", got.Kind)
	}
}

package dispatcher

import (
	"context"
	"errors"

	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// Classify maps an arbitrary collaborator error into the closed taxonomy of
// §7. A *selfheal.Error is passed through unchanged (the collaborator
// already classified itself); anything else is classified defensively so
// the dispatcher never journals an untyped error.
func Classify(err error) *selfheal.Error {
	if err == nil {
		return nil
	}
	if se, ok := selfheal.AsSelfHealError(err); ok {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return selfheal.New(selfheal.KindTimeout, "activity deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return selfheal.New(selfheal.KindCancelled, "activity cancelled", err)
	default:
		return selfheal.New(selfheal.KindInternal, "unclassified activity error", err)
	}
}

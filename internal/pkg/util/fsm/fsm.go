package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback, storing the
// error on the event so that Event() returns it.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// IsNoop reports whether err only says that the transition was not needed.
func IsNoop(err error) bool {
	var noTransition fsm.NoTransitionError
	return err == nil || errors.As(err, &noTransition)
}

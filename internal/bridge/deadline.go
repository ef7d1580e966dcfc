package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
)

// WithDeadline runs call under a hard deadline. When the deadline (or the parent context)
// fires first, the call context is cancelled, the call gets up to grace to release its
// process or connection, and a Timeout is returned regardless of what the call does next.
func WithDeadline[T any](ctx context.Context, d, grace time.Duration, logger hclog.Logger, op string,
	call func(ctx context.Context) (T, error)) (T, error) {

	var zero T
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in call", "op", op, "panic", r)
				done <- result{err: bridgeerrors.Newf(bridgeerrors.KindProcess, "panic in %s: %v", op, r)}
			}
		}()
		v, err := call(callCtx)
		done <- result{v: v, err: err}
	}()

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var (
		reason string
		cause  error
	)
	select {
	case r := <-done:
		return r.v, r.err
	case <-timeout:
		reason = fmt.Sprintf("%s exceeded its %v deadline", op, d)
		cause = context.DeadlineExceeded
	case <-ctx.Done():
		reason = op + " cancelled before completion"
		cause = ctx.Err()
	}

	cancel()

	if grace > 0 {
		release := time.NewTimer(grace)
		defer release.Stop()
		select {
		case <-done:
		case <-release.C:
			logger.Warn("call still running after cancellation", "op", op, "grace", grace)
		}
	}

	return zero, bridgeerrors.Wrap(bridgeerrors.KindTimeout, cause, reason)
}

// Package retry provides composable execution policies for remote calls:
// a linear-backoff retry policy and a per-attempt timeout policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrTimeout is returned when a single attempt exceeds its Timeout.
var ErrTimeout = errors.New("retry: attempt timed out")

// Operation is one attempt of a remote call.
type Operation func(ctx context.Context) error

// Policy runs an operation under some execution rule.
type Policy interface {
	Execute(ctx context.Context, op Operation) error
}

// Linear retries an operation up to MaxRetries times, waiting Base*n before
// the n-th retry. A nil ShouldRetry retries every error.
type Linear struct {
	MaxRetries  int
	Base        time.Duration
	ShouldRetry func(error) bool
	// OnRetry is called before each wait with the 1-based retry number.
	OnRetry func(retry int, err error, delay time.Duration)
	Clock   clockwork.Clock
}

// Execute runs op until it succeeds, returns a non-retryable error, or the
// retries are used up. Cancellation of ctx stops the loop with ctx.Err().
func (l Linear) Execute(ctx context.Context, op Operation) error {
	clock := l.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt >= l.MaxRetries || (l.ShouldRetry != nil && !l.ShouldRetry(err)) {
			return err
		}

		delay := l.Base * time.Duration(attempt+1)
		if l.OnRetry != nil {
			l.OnRetry(attempt+1, err, delay)
		}
		if delay <= 0 {
			continue
		}
		timer := clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.Chan():
		}
	}
}

// Timeout bounds a single execution of an operation. A non-positive Duration
// disables the bound.
type Timeout struct {
	Duration time.Duration
}

// Execute runs op with a derived deadline. When the deadline (and not the
// caller) ends the attempt, the error wraps ErrTimeout.
func (t Timeout) Execute(ctx context.Context, op Operation) error {
	if t.Duration <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, t.Duration)
	defer cancel()

	err := op(attemptCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTimeout, t.Duration, err)
	}
	return err
}

type wrapped struct {
	outer, inner Policy
}

// Wrap composes two policies so that outer drives inner: each execution made
// by outer runs through inner. Wrap(Linear{...}, Timeout{...}) retries
// attempts that are individually time-boxed.
func Wrap(outer, inner Policy) Policy {
	return wrapped{outer: outer, inner: inner}
}

func (w wrapped) Execute(ctx context.Context, op Operation) error {
	return w.outer.Execute(ctx, func(ctx context.Context) error {
		return w.inner.Execute(ctx, op)
	})
}

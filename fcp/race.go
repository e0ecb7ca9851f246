package fcp

import (
	"context"
	"fmt"
	"time"
)

// Outcome is the result of racing an operation against a deadline with
// FirstOf. Exactly one of these holds: TimedOut is set, Err is set, or
// Value holds the operation's result.
type Outcome[T any] struct {
	Value    T
	Err      error
	TimedOut bool
}

// FirstOf runs op and waits for whichever comes first: op returning or
// timeout elapsing. When the deadline wins, the context passed to op is
// cancelled and whatever op returns later is dropped.
//
// A cancelled ctx is reported as Err, not as TimedOut.
func FirstOf[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) Outcome[T] {
	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	// Buffered so that op's goroutine never blocks on a result nobody
	// waits for anymore.
	resCh := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if rec := recover(); rec != nil {
				r = result{err: fmt.Errorf("recovered from panic: %v", rec)}
			}
			resCh <- r
		}()
		r.v, r.err = op(opCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-resCh:
		return Outcome[T]{Value: r.v, Err: r.err}
	case <-timer.C:
		return Outcome[T]{TimedOut: true}
	case <-ctx.Done():
		return Outcome[T]{Err: ctx.Err()}
	}
}

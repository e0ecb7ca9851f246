package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpr "github.com/chromedp/cdproto/runtime"
)

// Runtime exposes the CDP Runtime domain actions.
type Runtime interface {
	Evaluate(ctx context.Context, expression string, awaitPromise bool) (
		*cdpr.RemoteObject, *cdpr.ExceptionDetails, error,
	)
}

var _ Runtime = &runtime{}

type runtime struct {
	exec cdp.Executor
}

// NewRuntime returns a new CDP Runtime domain wrapper.
func NewRuntime(exec cdp.Executor) Runtime {
	return &runtime{exec}
}

// Evaluate executes Runtime.evaluate returning the result by value. With
// awaitPromise the reply only arrives once the promise the expression
// evaluates to settles.
func (r *runtime) Evaluate(ctx context.Context, expression string, awaitPromise bool) (
	*cdpr.RemoteObject, *cdpr.ExceptionDetails, error,
) {
	action := cdpr.Evaluate(expression).
		WithAwaitPromise(awaitPromise).
		WithReturnByValue(true)

	res, exc, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluating expression: %w", err)
	}

	return res, exc, nil
}

package fcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"

	"github.com/fcp-performance/fcp-performance/fcp/js"
)

// DefaultObservationTimeout bounds how long to wait for the first
// contentful paint after navigating.
const DefaultObservationTimeout = 10 * time.Second

// observeGrace is how much longer than the in-page timer we wait for the
// evaluation to settle, so that the page normally reports the timeout
// itself.
const observeGrace = 500 * time.Millisecond

// pageTimeoutReason is what the observer expression rejects with.
const pageTimeoutReason = "timeout"

// Evaluator evaluates expressions in a page, awaiting the promises they
// return.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error)
}

// Page is what a measurement needs from a browser page.
type Page interface {
	Navigator
	Evaluator
}

// ObserverExpression returns the expression observing the first
// contentful paint of the current document. It evaluates to a promise
// resolved with the paint's start time in milliseconds, or rejected with
// "timeout" if no paint is reported within timeout.
func ObserverExpression(timeout time.Duration) string {
	return "(" + js.ObserveFCPScript + ")(" + strconv.FormatInt(timeout.Milliseconds(), 10) + ")"
}

// ObserveFirstContentfulPaint waits for the first contentful paint of the
// page ev evaluates in, and returns its start time. It must only be called
// after navigating, so that the observer is attached to the new document.
// Any failure is an *ObservationError.
func ObserveFirstContentfulPaint(ctx context.Context, ev Evaluator, timeout time.Duration) (Latency, error) {
	type evaluation struct {
		res *runtime.RemoteObject
		exc *runtime.ExceptionDetails
	}
	expr := ObserverExpression(timeout)
	out := FirstOf(ctx, timeout+observeGrace, func(ctx context.Context) (evaluation, error) {
		res, exc, err := ev.Evaluate(ctx, expr)
		return evaluation{res, exc}, err
	})

	switch {
	case out.TimedOut:
		return Unmeasurable(), &ObservationError{
			TimedOut: true,
			Reason:   fmt.Sprintf("no reply within %s", timeout+observeGrace),
		}
	case out.Err != nil:
		return Unmeasurable(), &ObservationError{Reason: "evaluation failed", Err: out.Err}
	case out.Value.exc != nil:
		return Unmeasurable(), rejection(out.Value.exc)
	}

	return unwrapLatency(out.Value.res)
}

func rejection(exc *runtime.ExceptionDetails) error {
	reason := exc.Text
	if exc.Exception != nil {
		v := gjson.ParseBytes(exc.Exception.Value)
		switch {
		case v.Type == gjson.String:
			reason = v.Str
		case exc.Exception.Description != "":
			reason = exc.Exception.Description
		}
	}
	if reason == pageTimeoutReason {
		return &ObservationError{TimedOut: true, Reason: "no paint reported in time"}
	}

	return &ObservationError{Reason: "rejected", Err: errors.New(reason)}
}

func unwrapLatency(res *runtime.RemoteObject) (Latency, error) {
	if res == nil {
		return Unmeasurable(), &ObservationError{Reason: "empty result"}
	}
	v := gjson.ParseBytes(res.Value)
	if v.Type != gjson.Number {
		return Unmeasurable(), &ObservationError{
			Reason: fmt.Sprintf("result %q of type %s isn't a number", res.Value, res.Type),
		}
	}
	f := v.Float()
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return Unmeasurable(), &ObservationError{Reason: fmt.Sprintf("invalid paint time %v", f)}
	}

	return Latency(f), nil
}

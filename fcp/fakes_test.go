package fcp

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
)

type navigateFunc func(ctx context.Context, url string) (string, error)

type evaluateFunc func(ctx context.Context, expr string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error)

// fakePage is a Page whose behavior is set per test.
type fakePage struct {
	navigate navigateFunc
	evaluate evaluateFunc

	mu        sync.Mutex
	navigated []string
	evaluated []string
}

func (p *fakePage) Navigate(ctx context.Context, url string) (string, error) {
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	if p.navigate == nil {
		return "", nil
	}
	return p.navigate(ctx, url)
}

func (p *fakePage) Evaluate(ctx context.Context, expr string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	p.mu.Lock()
	p.evaluated = append(p.evaluated, expr)
	p.mu.Unlock()
	if p.evaluate == nil {
		return paintAt("0")(ctx, expr)
	}
	return p.evaluate(ctx, expr)
}

func (p *fakePage) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

func (p *fakePage) Evaluated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluated...)
}

// paintAt evaluates to the given raw JSON value.
func paintAt(raw string) evaluateFunc {
	return func(context.Context, string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
		return &runtime.RemoteObject{Type: runtime.TypeNumber, Value: easyjson.RawMessage(raw)}, nil, nil
	}
}

// rejectWith evaluates to a promise rejected with reason.
func rejectWith(reason string) evaluateFunc {
	return func(context.Context, string) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
		return nil, &runtime.ExceptionDetails{
			Text: "Uncaught (in promise)",
			Exception: &runtime.RemoteObject{
				Type:  runtime.TypeString,
				Value: easyjson.RawMessage(`"` + reason + `"`),
			},
		}, nil
	}
}

// hang blocks until the caller gives up.
func hang(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

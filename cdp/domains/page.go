package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
)

// Page exposes the CDP Page domain actions.
type Page interface {
	Enable(context.Context) error
	Navigate(ctx context.Context, url string) (errorText string, err error)
}

var _ Page = &page{}

type page struct {
	exec cdp.Executor
}

// NewPage returns a new CDP Page domain wrapper.
func NewPage(exec cdp.Executor) Page {
	return &page{exec}
}

func (p *page) Enable(ctx context.Context) error {
	action := cdpp.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page CDP domain: %w", err)
	}

	return nil
}

// Navigate executes Page.navigate. A navigation the browser couldn't
// perform (e.g. DNS failure) completes without err but with errorText set.
func (p *page) Navigate(ctx context.Context, url string) (string, error) {
	action := cdpp.Navigate(url)

	_, _, errorText, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return errorText, fmt.Errorf("navigating to %q: %w", url, err)
	}

	return errorText, nil
}

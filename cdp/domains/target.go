package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpt "github.com/chromedp/cdproto/target"
)

// Target exposes the CDP Target domain actions.
type Target interface {
	GetTargets(ctx context.Context) ([]*cdpt.Info, error)
	CreateTarget(ctx context.Context, url string) (id string, err error)
	AttachToTarget(ctx context.Context, id string) (sessionID string, err error)
}

var _ Target = &target{}

type target struct {
	exec cdp.Executor
}

// NewTarget returns a new CDP Target domain wrapper.
func NewTarget(exec cdp.Executor) Target {
	return &target{exec}
}

func (t *target) GetTargets(ctx context.Context) ([]*cdpt.Info, error) {
	action := cdpt.GetTargets()
	infos, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return nil, fmt.Errorf("getting targets: %w", err)
	}

	return infos, nil
}

func (t *target) CreateTarget(ctx context.Context, url string) (string, error) {
	action := cdpt.CreateTarget(url)
	tid, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("creating target for %q: %w", url, err)
	}

	return string(tid), nil
}

// AttachToTarget attaches in flat mode: commands for the target are sent
// over the browser connection tagged with the returned session ID.
func (t *target) AttachToTarget(ctx context.Context, id string) (string, error) {
	action := cdpt.AttachToTarget(cdpt.ID(id)).WithFlatten(true)
	sid, err := action.Do(cdp.WithExecutor(ctx, t.exec))
	if err != nil {
		return "", fmt.Errorf("attaching to target %s: %w", id, err)
	}

	return string(sid), nil
}

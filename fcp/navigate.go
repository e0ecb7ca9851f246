package fcp

import (
	"context"
	"time"
)

// DefaultNavigationTimeout bounds a single navigation.
const DefaultNavigationTimeout = 10 * time.Second

// Navigator navigates a page. It returns the browser's error text when the
// navigation command completed but the page couldn't be loaded.
type Navigator interface {
	Navigate(ctx context.Context, url string) (errorText string, err error)
}

// Navigate navigates to url and waits at most timeout for the navigate
// command to complete. Any failure is a *NavigationError.
func Navigate(ctx context.Context, nav Navigator, url string, timeout time.Duration) error {
	out := FirstOf(ctx, timeout, func(ctx context.Context) (string, error) {
		return nav.Navigate(ctx, url)
	})

	switch {
	case out.TimedOut:
		return &NavigationError{URL: url, Kind: NavigationTimedOut, Timeout: timeout}
	case out.Err != nil:
		return &NavigationError{URL: url, Kind: NavigationFailed, Err: out.Err}
	case out.Value != "":
		// The race was won, but the browser still couldn't load the page.
		return &NavigationError{URL: url, Kind: NavigationErrorText, Text: out.Value}
	}

	return nil
}

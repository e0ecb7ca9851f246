package fcp

import (
	"fmt"
	"time"
)

// NavigationErrorKind tells why a navigation failed.
type NavigationErrorKind int

// Navigation failure kinds.
const (
	// NavigationTimedOut means the navigate command didn't complete in time.
	NavigationTimedOut NavigationErrorKind = iota + 1
	// NavigationErrorText means the navigate command completed, but the
	// browser reported it couldn't load the page.
	NavigationErrorText
	// NavigationFailed means the navigate command itself failed.
	NavigationFailed
)

func (k NavigationErrorKind) String() string {
	switch k {
	case NavigationTimedOut:
		return "timeout"
	case NavigationErrorText:
		return "error_text"
	case NavigationFailed:
		return "failed"
	default:
		return fmt.Sprintf("NavigationErrorKind(%d)", int(k))
	}
}

// NavigationError is returned when navigating to a URL failed.
type NavigationError struct {
	URL     string
	Kind    NavigationErrorKind
	Timeout time.Duration
	// Text is the browser's error text, for NavigationErrorText.
	Text string
	Err  error
}

func (e *NavigationError) Error() string {
	switch e.Kind {
	case NavigationTimedOut:
		return fmt.Sprintf("navigating to %q: timed out after %s", e.URL, e.Timeout)
	case NavigationErrorText:
		return fmt.Sprintf("navigating to %q: %s", e.URL, e.Text)
	default:
		return fmt.Sprintf("navigating to %q: %v", e.URL, e.Err)
	}
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}

// ObservationError is returned when the first contentful paint of a page
// couldn't be observed.
type ObservationError struct {
	// TimedOut is set when no paint entry arrived in time, whether the
	// page script or our own deadline noticed first.
	TimedOut bool
	Reason   string
	Err      error
}

func (e *ObservationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("observing first contentful paint: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("observing first contentful paint: %s", e.Reason)
}

func (e *ObservationError) Unwrap() error {
	return e.Err
}

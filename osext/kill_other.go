//go:build !linux

package osext

import "os/exec"

// KillAfterParent is a no-op outside of Linux; the registered processes
// are killed by ForceProcessShutdown instead.
func KillAfterParent(*exec.Cmd) {}

//go:build linux

package osext

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// KillAfterParent makes the kernel kill cmd's process once the thread that
// started it dies.
func KillAfterParent(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = unix.SIGKILL
}

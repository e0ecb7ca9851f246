// Package osext provides the OS-specific bits of managing browser
// processes.
package osext

import (
	"os"
	"sync"

	"github.com/fcp-performance/fcp-performance/log"
)

var (
	processRegister   = map[int]struct{}{} //nolint:gochecknoglobals
	processRegisterMu = sync.Mutex{}       //nolint:gochecknoglobals
)

// Register records pid as a process we started and must not outlive us.
func Register(logger *log.Logger, pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	logger.Debugf("Process:register", "registered process pid %d", pid)

	processRegister[pid] = struct{}{}
}

// Unregister forgets about pid once it has exited.
func Unregister(pid int) {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	delete(processRegister, pid)
}

// Registered returns the pids of the registered processes.
func Registered() []int {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	pids := make([]int, 0, len(processRegister))
	for pid := range processRegister {
		pids = append(pids, pid)
	}

	return pids
}

// ForceProcessShutdown kills every registered process. It should be
// called when we're about to die without going through the usual cleanup,
// e.g. on a panic.
func ForceProcessShutdown() {
	processRegisterMu.Lock()
	defer processRegisterMu.Unlock()

	for pid := range processRegister {
		Kill(pid)
		delete(processRegister, pid)
	}
}

// Kill will look for and kill the process with the given pid. It's a
// variable so that tests can avoid killing anything.
var Kill = func(pid int) { //nolint:gochecknoglobals
	p, err := os.FindProcess(pid)
	if err != nil {
		// optimistically continue and don't kill the process
		return
	}
	// no need to check the error since we're already dying.
	_ = p.Kill()
	_ = p.Release()
}

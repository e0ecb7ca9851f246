package cmd

import (
	"fmt"
	"runtime"
)

// Version is the version of fcp-performance.
const Version = "0.1.0"

func fullVersion() string {
	return fmt.Sprintf("%s (%s, %s/%s)", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

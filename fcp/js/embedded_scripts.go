// Package js holds the scripts injected into measured pages.
package js

import (
	_ "embed"
)

// ObserveFCPScript is a function expression taking a timeout in
// milliseconds. It returns a promise resolving with the startTime of the
// page's first-contentful-paint entry, or rejecting with 'timeout' if no
// such entry is reported in time.
//
//go:embed observe_fcp.js
var ObserveFCPScript string

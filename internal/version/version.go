// Package version reports the taskpilot release embedded at build time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the release, e.g. 0.1.0.
func Get() string {
	return strings.TrimSpace(raw)
}

// String returns the release prefixed with the program name.
func String() string {
	return "taskpilot " + Get()
}

// Package version holds build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the bare version string.
func Short() string {
	return Version
}

// Info returns the full version line for the version subcommand.
func Info() string {
	return fmt.Sprintf("netmedic %s (commit %s, built %s)", Version, Commit, Date)
}

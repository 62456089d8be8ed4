// Package version holds build metadata, overridden at link time with
// -ldflags "-X github.com/banshee-data/ultrasonic.monitor/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String renders the metadata on one line, as printed by -version.
func String() string {
	return fmt.Sprintf("ultrasonic-monitor %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}

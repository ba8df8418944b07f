// Package version exposes build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags "-X github.com/enrolytics/enrolytics/internal/version.Version=..."
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String returns the full version line printed by the version command.
func String() string {
	return fmt.Sprintf("enrolytics %s (commit %s, built %s)", Version, Commit, BuildDate)
}

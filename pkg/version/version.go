// Package version holds wikisearch build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is set with -ldflags "-X github.com/xwiki/xwiki-platform-sub060/pkg/version.Version=..."
// and defaults to dev.
var Version = "dev"

// Build information set via ldflags.
var (
	Commit = "unknown"
	Date   = "unknown"
)

// BuildInfo is version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String returns the version with its build details.
func String() string {
	return fmt.Sprintf("wikisearch %s (commit: %s, built: %s, go: %s)", Version, Commit, Date, runtime.Version())
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Short returns the version number alone.
func Short() string {
	return Version
}

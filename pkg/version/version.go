// Package version exposes build metadata for the crawlmcp binary.
package version

import (
	"fmt"
	"runtime"
)

// Injected via ldflags at release time, for example:
//
//	-X github.com/Aman-CERP/crawlmcp/pkg/version.Version=$(VERSION)
var (
	// Version is the release version, "dev" for local builds.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// Date is the build date in RFC3339 format.
	Date = "unknown"
)

// GoVersion is the Go toolchain the binary was built with.
var GoVersion = runtime.Version()

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the full human-readable version line.
func String() string {
	return fmt.Sprintf("crawlmcp %s (commit: %s, built: %s, go: %s)",
		Version, Commit, Date, GoVersion)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

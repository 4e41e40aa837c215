package version

import (
	"fmt"
	"runtime"
)

// These variables are set at build time via -ldflags
// Example: go build -ldflags "-X github.com/pysugar/tempmail-nexus/internal/version.Version=v0.1.5"
var (
	// Version is the semantic version of the application
	Version = "dev"

	// Commit is the git commit hash
	Commit = "none"

	// BuildTime is the timestamp of the build
	BuildTime = "unknown"
)

// UserAgent is sent on every upstream request.
func UserAgent() string {
	return fmt.Sprintf("tempmail-nexus/%s %s/%s", Version, runtime.GOOS, runtime.GOARCH)
}

// Info is the build metadata reported by the version command and API.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime, GoVersion: runtime.Version()}
}

func (i Info) String() string {
	return fmt.Sprintf("tempmail %s (commit %s, built %s, %s)", i.Version, i.Commit, i.BuildTime, i.GoVersion)
}
